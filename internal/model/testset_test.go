package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/agentcoder/internal/apperror"
)

func TestTestVectorSet_Validate(t *testing.T) {
	tests := []struct {
		name    string
		set     TestVectorSet
		wantErr string // substring; empty means valid
	}{
		{
			name: "single addition case",
			set:  TestVectorSet{Inputs: [][]any{{2.0, 3.0}}, Outputs: [][]any{{5.0}}},
		},
		{
			name: "zero-argument function",
			set:  TestVectorSet{Inputs: [][]any{{}}, Outputs: [][]any{{"hello"}}},
		},
		{
			name: "structured expected value",
			set: TestVectorSet{
				Inputs:  [][]any{{[]any{1.0, 2.0}}},
				Outputs: [][]any{{[]any{2.0, 1.0}}},
			},
		},
		{
			name:    "more inputs than outputs",
			set:     TestVectorSet{Inputs: [][]any{{1.0, 2.0}, {3.0, 4.0}}, Outputs: [][]any{{3.0}}},
			wantErr: "2 inputs but 1 outputs",
		},
		{
			name:    "output with two values",
			set:     TestVectorSet{Inputs: [][]any{{1.0}}, Outputs: [][]any{{1.0, 2.0}}},
			wantErr: "outputs[0] must hold exactly 1 value",
		},
		{
			name:    "empty output wrapper",
			set:     TestVectorSet{Inputs: [][]any{{1.0}, {2.0}}, Outputs: [][]any{{1.0}, {}}},
			wantErr: "outputs[1] must hold exactly 1 value",
		},
		{
			name:    "no test cases",
			set:     TestVectorSet{},
			wantErr: "at least one test case",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.Is(err, apperror.ErrMalformedTestSet), "want ErrMalformedTestSet, got %v", err)
			assert.True(t, errors.Is(err, apperror.ErrOrchestration))
		})
	}
}

func TestTestVectorSet_Accessors(t *testing.T) {
	set := TestVectorSet{Inputs: [][]any{{2.0, 3.0}, {0.0, 0.0}}, Outputs: [][]any{{5.0}, {0.0}}}

	assert.False(t, set.IsEmpty())
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 5.0, set.Expected(0))
	assert.True(t, TestVectorSet{}.IsEmpty())
}

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusExhausted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}

func TestRun_Apply(t *testing.T) {
	run := &Run{ID: "r1", Status: StatusRunning}
	rec := RunRecord{
		Requirement: "add two integers",
		Code:        "def add(a, b): return a + b",
		Tests:       TestVectorSet{Inputs: [][]any{{2.0, 3.0}}, Outputs: [][]any{{5.0}}},
		RetryCount:  1,
		Success:     true,
	}

	run.Apply(rec)

	assert.Equal(t, rec.Code, run.Code)
	assert.Equal(t, rec.Tests, run.Tests)
	assert.Equal(t, 1, run.RetryCount)
	assert.True(t, run.Success)
	assert.Equal(t, StatusRunning, run.Status, "Apply must not touch the status")
}
