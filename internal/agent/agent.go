// Package agent implements the four model-backed steps of a run:
// code generation, test generation, instrumented execution and repair.
//
// Each step renders its prompt, asks the model for a structured answer
// through llm.Generate, and converts the answer into the run's types. None
// of them retries; a failed model call is returned to the orchestrator,
// which ends the run.
package agent

import (
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/sakif/agentcoder/internal/executor"
	"github.com/sakif/agentcoder/internal/llm"
	"github.com/sakif/agentcoder/internal/orchestrator"
)

// codeAnswer is the wire shape of every code-returning call. Code is a
// pointer so a missing key fails validation while an empty string does not.
type codeAnswer struct {
	Code *string `json:"code" validate:"required"`
}

// testsAnswer is the wire shape of the test generation call. Rows stay
// untyped here; Tester checks that each one is a list.
type testsAnswer struct {
	Input  []any `json:"Input" validate:"required"`
	Output []any `json:"Output" validate:"required"`
}

func codeSchema(description string) *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"code": {Type: jsonschema.String, Description: description},
		},
		Required: []string{"code"},
	}
}

var testsSchema = &jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"Input": {
			Type:        jsonschema.Array,
			Description: "Input for test cases to evaluate the provided code: one list of arguments per test case",
			Items:       &jsonschema.Definition{Type: jsonschema.Array, Items: &jsonschema.Definition{}},
		},
		"Output": {
			Type:        jsonschema.Array,
			Description: "Expected output for test cases: one single-value list per test case",
			Items:       &jsonschema.Definition{Type: jsonschema.Array, Items: &jsonschema.Definition{}},
		},
	},
	Required: []string{"Input", "Output"},
}

// Components builds the four steps over one model client and sandbox.
// timeout is the sandbox's time limit, used to word timeout failures.
func Components(client llm.Client, sandbox executor.Executor, timeout time.Duration, logger *slog.Logger) orchestrator.Components {
	return orchestrator.Components{
		Coder:    NewCoder(client, logger),
		Tester:   NewTester(client, logger),
		Executor: NewExecutor(client, sandbox, timeout, logger),
		Refiner:  NewRefiner(client, logger),
	}
}
