// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/agentcoder/internal/apperror"
)

// validate is shared by every model type. A *validator.Validate caches struct
// metadata and is safe for concurrent use, so one instance is enough.
var validate = validator.New()

// TestVectorSet pairs test inputs with expected outputs by position:
// Inputs[i] is the argument list for case i and Outputs[i] wraps the single
// value that case must return.
//
// WHY IS EVERY OUTPUT A ONE-ELEMENT LIST?
// A function that returns [1, 2] and a function that returns two values
// would otherwise look the same. Wrapping keeps "the result" unambiguous:
// Outputs[i][0] is always the whole expected result.
//
// Values are whatever JSON the model produced (float64, string, bool, nil,
// []any, map[string]any).
type TestVectorSet struct {
	Inputs  [][]any `json:"inputs"  validate:"required,min=1"`
	Outputs [][]any `json:"outputs" validate:"required,min=1,dive,len=1"`
}

// IsEmpty reports whether the set is the placeholder used before any tests
// have been produced.
func (t TestVectorSet) IsEmpty() bool {
	return len(t.Inputs) == 0 && len(t.Outputs) == 0
}

// Len returns the number of test cases.
func (t TestVectorSet) Len() int {
	return len(t.Inputs)
}

// Expected returns the unwrapped expected value for case i.
func (t TestVectorSet) Expected(i int) any {
	return t.Outputs[i][0]
}

// Validate enforces the shape contract: at least one case, one output per
// input, and every output a single-element wrapper. Violations come back as
// apperror.MalformedTestSet.
func (t TestVectorSet) Validate() error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apperror.MalformedTestSet(describe(verrs))
		}
		return apperror.MalformedTestSet(err.Error())
	}

	if len(t.Inputs) != len(t.Outputs) {
		return apperror.MalformedTestSet(fmt.Sprintf(
			"%d inputs but %d outputs; every input needs exactly one output", len(t.Inputs), len(t.Outputs)))
	}

	return nil
}

// describe turns validator field errors into one readable line, e.g.
// "outputs[1] must hold exactly 1 value".
func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "TestVectorSet.")
		field = strings.ToLower(field[:1]) + field[1:]

		switch fe.Tag() {
		case "required", "min":
			parts = append(parts, fmt.Sprintf("%s must contain at least one test case", field))
		case "len":
			parts = append(parts, fmt.Sprintf("%s must hold exactly %s value", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
