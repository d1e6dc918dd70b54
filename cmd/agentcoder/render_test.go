package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/agentcoder/internal/model"
	"github.com/sakif/agentcoder/internal/orchestrator"
)

func TestRenderSnapshot(t *testing.T) {
	rec := model.NewRunRecord("add", "def add(a, b):\n    return a + b\n")
	rec.Tests = model.TestVectorSet{Inputs: [][]any{{1.0, 2.0}}, Outputs: [][]any{{3.0}}}

	out := renderSnapshot(orchestrator.Snapshot{Seq: 1, State: orchestrator.StateGenerate, Record: rec})
	assert.Contains(t, out, "generate")
	assert.Contains(t, out, "2 lines of code")

	out = renderSnapshot(orchestrator.Snapshot{Seq: 2, State: orchestrator.StateTest, Record: rec})
	assert.Contains(t, out, "1 test cases")
	assert.Contains(t, out, "[1,2]")
	assert.Contains(t, out, "3")

	rec.Error = "line one\nline two\nline three\nline four"
	out = renderSnapshot(orchestrator.Snapshot{Seq: 3, State: orchestrator.StateExecute, Record: rec})
	assert.Contains(t, out, "tests failed")
	assert.Contains(t, out, "line three")
	assert.NotContains(t, out, "line four")

	rec.RetryCount = 2
	out = renderSnapshot(orchestrator.Snapshot{Seq: 4, State: orchestrator.StateDebug, Record: rec})
	assert.Contains(t, out, "repair 2 of 3")

	rec.Success = true
	out = renderSnapshot(orchestrator.Snapshot{Seq: 5, State: orchestrator.StateExecute, Record: rec})
	assert.Contains(t, out, "all tests passed")
}

func TestRenderOutcome(t *testing.T) {
	res := orchestrator.Result{Executions: 4, Record: model.RunRecord{Error: "boom"}}

	assert.Contains(t, renderOutcome(model.StatusSucceeded, res, nil), "4 executions")
	assert.Contains(t, renderOutcome(model.StatusExhausted, res, nil), "boom")
	assert.Contains(t, renderOutcome(model.StatusCanceled, res, nil), "canceled")
	assert.Contains(t, renderOutcome(model.StatusFailed, res, errors.New("model unreachable")), "model unreachable")
}

func TestFirstLines(t *testing.T) {
	assert.Equal(t, []string{"a"}, firstLines("a\n", 3))
	got := firstLines(strings.Repeat("x\n", 5), 2)
	assert.Equal(t, []string{"x", "x", "…"}, got)
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, lineCount(""))
	assert.Equal(t, 1, lineCount("x = 1\n"))
	assert.Equal(t, 2, lineCount("a\nb"))
}
