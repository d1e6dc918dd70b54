// Package apperror defines the domain error kinds shared by every layer.
//
// Each AppError carries a sentinel kind (Err) that callers match with
// errors.Is, a human-readable Message, and an optional Cause. HTTP handlers
// translate kinds into status codes; the orchestrator uses them to tell
// "the model call broke" apart from "the generated code failed its tests".
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("unavailable")
	ErrCanceled     = errors.New("canceled")

	// ErrOrchestration marks a failure calling or decoding a model-backed
	// component. A run that hits it is over; there is no automatic repair.
	ErrOrchestration = errors.New("orchestration failure")

	// ErrMalformedTestSet is an orchestration failure raised when the test
	// producer returns vectors that break the TestVectorSet shape.
	ErrMalformedTestSet = fmt.Errorf("%w: malformed test set", ErrOrchestration)
)

type AppError struct {
	Err     error  // error kind, one of the sentinels above
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, reachable through errors.Is/As
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is(err, ErrOrchestration)
// and errors.Is(err, context.Canceled) can both hold for the same error.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized returns an AppError for a missing or invalid API token.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unavailable reports that a dependency (sandbox, model endpoint) is not
// configured or not reachable.
func Unavailable(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// Orchestration wraps a component failure at the named pipeline stage.
// The cause's text is kept verbatim in the message so it can be shown to
// the user as-is.
func Orchestration(stage string, cause error) *AppError {
	msg := fmt.Sprintf("%s step failed", stage)
	if cause != nil {
		msg = fmt.Sprintf("%s step failed: %v", stage, cause)
	}
	return &AppError{
		Err:     ErrOrchestration,
		Message: msg,
		Field:   stage,
		Cause:   cause,
	}
}

// MalformedTestSet reports a test vector set that violates the shape contract.
func MalformedTestSet(message string) *AppError {
	return &AppError{
		Err:     ErrMalformedTestSet,
		Message: "malformed test set: " + message,
	}
}

// Canceled reports a run stopped by its context at the named stage.
func Canceled(stage string, cause error) *AppError {
	return &AppError{
		Err:     ErrCanceled,
		Message: fmt.Sprintf("run canceled before %s", stage),
		Field:   stage,
		Cause:   cause,
	}
}
