package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient returns a canned answer and records the call it got.
type stubClient struct {
	answer string
	err    error
	got    Call
}

func (s *stubClient) Complete(_ context.Context, call Call) (string, error) {
	s.got = call
	return s.answer, s.err
}

type codeAnswer struct {
	Code *string `json:"code" validate:"required"`
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		wantCode string
		wantErr  string
	}{
		{name: "plain json", answer: `{"code": "def f(): pass"}`, wantCode: "def f(): pass"},
		{name: "fenced json", answer: "```json\n{\"code\": \"x = 1\"}\n```", wantCode: "x = 1"},
		{name: "empty code is still an answer", answer: `{"code": ""}`, wantCode: ""},
		{name: "missing key", answer: `{"program": "x = 1"}`, wantErr: "required"},
		{name: "not json", answer: "def f(): pass", wantErr: "invalid character"},
		{name: "empty", answer: "  ", wantErr: "empty response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubClient{answer: tt.answer}
			got, err := Generate[codeAnswer](context.Background(), c, Call{Name: "code", Prompt: "p"})
			if tt.wantErr != "" {
				require.Error(t, err)
				var de *DecodeError
				require.True(t, errors.As(err, &de), "want *DecodeError, got %T", err)
				assert.Equal(t, "code", de.Call)
				assert.Equal(t, tt.answer, de.Raw)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got.Code)
			assert.Equal(t, tt.wantCode, *got.Code)
		})
	}
}

func TestGenerate_ClientErrorPassesThrough(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := Generate[codeAnswer](context.Background(), &stubClient{err: boom}, Call{Name: "code"})
	require.ErrorIs(t, err, boom)

	var de *DecodeError
	assert.False(t, errors.As(err, &de))
}

func TestGenerate_NonStructTarget(t *testing.T) {
	got, err := Generate[[]int](context.Background(), &stubClient{answer: "[1,2,3]"}, Call{Name: "n"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```\n{\"a\":1}\n```":       `{"a":1}`,
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"  ```json{\"a\":1}```  ":   `{"a":1}`,
		"```python\nprint(1)\n```\n": "print(1)",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripFences(in), "input %q", in)
	}
}

func TestInstrument(t *testing.T) {
	inner := &stubClient{answer: "ok"}
	c := Instrument(inner)

	out, err := c.Complete(context.Background(), Call{Name: "code", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "hello", inner.got.Prompt)
}
