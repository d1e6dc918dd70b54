package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/agentcoder/internal/executor"
	"github.com/sakif/agentcoder/internal/llm"
	"github.com/sakif/agentcoder/internal/model"
	"github.com/sakif/agentcoder/internal/orchestrator"
)

// Executor has the model wrap a program in an assertion harness for the
// test vectors, then runs the result in the sandbox.
type Executor struct {
	llm     llm.Client
	sandbox executor.Executor
	timeout time.Duration
	logger  *slog.Logger
}

func NewExecutor(client llm.Client, sandbox executor.Executor, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{llm: client, sandbox: sandbox, timeout: timeout, logger: logger}
}

// Run implements orchestrator.Executor.
//
// The instrumented program always becomes the run's current code. If it
// exits non-zero or times out, Execution.Error carries
// model.ExecutionErrorPrefix and the failure message. Sandbox
// infrastructure failures are returned as errors instead.
func (e *Executor) Run(ctx context.Context, code string, tests model.TestVectorSet) (orchestrator.Execution, error) {
	prompt, err := RenderInstrument(code, tests.Inputs, tests.Outputs)
	if err != nil {
		return orchestrator.Execution{}, err
	}
	ans, err := llm.Generate[codeAnswer](ctx, e.llm, llm.Call{
		Name:        "instrument",
		Description: "The Python code with a testing layer asserting every expected output",
		Prompt:      prompt,
		Schema:      codeSchema("Detailed optimized error-free Python code with test case assertions"),
	})
	if err != nil {
		return orchestrator.Execution{}, err
	}
	instrumented := *ans.Code

	res, err := e.sandbox.Execute(ctx, executor.ExecutionRequest{Code: instrumented})
	if err != nil {
		return orchestrator.Execution{}, fmt.Errorf("agent: running instrumented code: %w", err)
	}

	out := orchestrator.Execution{Code: instrumented}
	if res.Failed() {
		out.Error = model.ExecutionErrorPrefix + res.FailureMessage(e.timeout)
	}
	e.logger.Debug("instrumented code executed",
		slog.String("sandbox", e.sandbox.Kind()),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("duration", res.Duration),
	)
	return out, nil
}
