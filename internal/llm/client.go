// Package llm is the boundary to the model service.
//
// Everything that talks to a language model goes through Client. The rest
// of the app never sees raw completions: Generate decodes the model's answer
// into a Go value and validates it, so a malformed response turns into an
// error at the boundary instead of bad data further down.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/sakif/agentcoder/internal/metrics"
)

// Call is one structured completion request.
type Call struct {
	// Name identifies the call in logs and metrics ("code", "tests", ...).
	// It is also the function/schema name sent to the model, so keep it
	// to [a-zA-Z0-9_-].
	Name string
	// Description tells the model what the structured answer is for.
	Description string
	Prompt      string
	// Schema is the JSON schema the answer must follow. Nil asks for free text.
	Schema *jsonschema.Definition
}

// Client sends a Call and returns the raw text of the answer. For calls
// with a Schema that text is the JSON arguments of the structured answer.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, call Call) (string, error)
}

// DecodeError means the model answered, but not in the requested shape.
type DecodeError struct {
	Call string
	Raw  string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("llm: decoding %s response: %v", e.Call, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var validate = validator.New()

// Generate runs call and decodes the answer into T. The answer may be
// wrapped in a Markdown code fence. After decoding, T's validate tags are
// checked; a violation is a *DecodeError like a JSON syntax error is.
func Generate[T any](ctx context.Context, c Client, call Call) (T, error) {
	var out T

	raw, err := c.Complete(ctx, call)
	if err != nil {
		return out, err
	}

	body := StripFences(raw)
	if body == "" {
		return out, &DecodeError{Call: call.Name, Raw: raw, Err: errors.New("empty response")}
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, &DecodeError{Call: call.Name, Raw: raw, Err: err}
	}
	if err := validate.Struct(out); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return out, &DecodeError{Call: call.Name, Raw: raw, Err: err}
		}
	}
	return out, nil
}

// StripFences removes a surrounding ``` fence and its language tag, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyz")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Instrument wraps c so every call is counted and timed in metrics.
func Instrument(c Client) Client {
	return &instrumented{next: c}
}

type instrumented struct {
	next Client
}

func (i *instrumented) Complete(ctx context.Context, call Call) (string, error) {
	start := time.Now()
	out, err := i.next.Complete(ctx, call)
	metrics.ObserveModelCall(call.Name, time.Since(start), err)
	return out, err
}
