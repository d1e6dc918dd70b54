package agent

import (
	"context"
	"log/slog"

	"github.com/sakif/agentcoder/internal/llm"
)

// Coder writes the first version of the program.
type Coder struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewCoder(client llm.Client, logger *slog.Logger) *Coder {
	return &Coder{llm: client, logger: logger}
}

// Produce implements orchestrator.CodeProducer. The code is returned as
// the model wrote it; an empty program fails later, at execution.
func (c *Coder) Produce(ctx context.Context, requirement string) (string, error) {
	prompt, err := RenderCode(requirement)
	if err != nil {
		return "", err
	}
	ans, err := llm.Generate[codeAnswer](ctx, c.llm, llm.Call{
		Name:        "code",
		Description: "Detailed, optimized, error-free Python code for the requirement",
		Prompt:      prompt,
		Schema:      codeSchema("Detailed optimized error-free Python code on the provided requirements"),
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("code generated", slog.Int("bytes", len(*ans.Code)))
	return *ans.Code, nil
}

// Refiner repairs a program given the error it raised.
type Refiner struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewRefiner(client llm.Client, logger *slog.Logger) *Refiner {
	return &Refiner{llm: client, logger: logger}
}

// Refine implements orchestrator.Refiner. The repaired code is accepted
// without local checks; the next execution is the check.
func (r *Refiner) Refine(ctx context.Context, code, errText string) (string, error) {
	prompt, err := RenderRefine(code, errText)
	if err != nil {
		return "", err
	}
	ans, err := llm.Generate[codeAnswer](ctx, r.llm, llm.Call{
		Name:        "refine",
		Description: "Repaired Python code that no longer raises the reported error",
		Prompt:      prompt,
		Schema:      codeSchema("Optimized and refined Python code that resolves the error"),
	})
	if err != nil {
		return "", err
	}
	r.logger.Debug("code refined", slog.Int("bytes", len(*ans.Code)))
	return *ans.Code, nil
}
