package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/agentcoder/internal/apperror"
	"github.com/sakif/agentcoder/internal/llm"
	"github.com/sakif/agentcoder/internal/model"
)

// Tester writes test vectors for a requirement and its code.
type Tester struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewTester(client llm.Client, logger *slog.Logger) *Tester {
	return &Tester{llm: client, logger: logger}
}

// Produce implements orchestrator.TestProducer. The model is not trusted
// to follow the shape rules: every row must be a list, there must be one
// output per input, and every output must hold exactly one value.
// Violations are apperror.MalformedTestSet.
func (t *Tester) Produce(ctx context.Context, requirement, code string) (model.TestVectorSet, error) {
	prompt, err := RenderTests(requirement, code)
	if err != nil {
		return model.TestVectorSet{}, err
	}
	ans, err := llm.Generate[testsAnswer](ctx, t.llm, llm.Call{
		Name:        "tests",
		Description: "Test cases for code validation",
		Prompt:      prompt,
		Schema:      testsSchema,
	})
	if err != nil {
		return model.TestVectorSet{}, err
	}

	inputs, err := rows("inputs", ans.Input)
	if err != nil {
		return model.TestVectorSet{}, err
	}
	outputs, err := rows("outputs", ans.Output)
	if err != nil {
		return model.TestVectorSet{}, err
	}

	set := model.TestVectorSet{Inputs: inputs, Outputs: outputs}
	if err := set.Validate(); err != nil {
		t.logger.Warn("model returned a malformed test set",
			slog.Int("inputs", len(inputs)),
			slog.Int("outputs", len(outputs)),
			slog.String("error", err.Error()),
		)
		return model.TestVectorSet{}, err
	}
	t.logger.Debug("tests generated", slog.Int("cases", set.Len()))
	return set, nil
}

func rows(field string, raw []any) ([][]any, error) {
	out := make([][]any, len(raw))
	for i, r := range raw {
		row, ok := r.([]any)
		if !ok {
			return nil, apperror.MalformedTestSet(fmt.Sprintf("%s[%d] must be a list, got %T", field, i, r))
		}
		out[i] = row
	}
	return out, nil
}
