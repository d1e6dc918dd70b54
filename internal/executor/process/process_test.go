package process

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/agentcoder/internal/executor"
)

func newTestExecutor(t *testing.T, timeout time.Duration) *Executor {
	t.Helper()
	if os.Getenv("CI") != "" {
		t.Skip("Skipping interpreter test in CI environment")
	}
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	e, err := New(Config{Interpreter: "python3", Timeout: timeout, MaxParallel: 2},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return e
}

func TestExecute(t *testing.T) {
	e := newTestExecutor(t, 5*time.Second)
	t.Setenv("AGENTCODER_SANDBOX_SECRET", "leaked")

	tests := []struct {
		name    string
		code    string
		failed  bool
		stdout  string
		message string
	}{
		{
			name:   "assertions hold",
			code:   "def add(a, b):\n    return a + b\nassert add(2, 3) == 5\nprint('ok')\n",
			stdout: "ok",
		},
		{
			name:    "assertion fails",
			code:    "def add(a, b):\n    return a * b\nassert add(2, 3) == 5, 'expected 5'\n",
			failed:  true,
			message: "AssertionError: expected 5",
		},
		{
			name:    "wrong name",
			code:    "def add(a, b):\n    return a + b\nassert sum_two(2, 3) == 5\n",
			failed:  true,
			message: "NameError: name 'sum_two' is not defined",
		},
		{
			name: "server environment does not leak",
			code: "import os\nassert 'AGENTCODER_SANDBOX_SECRET' not in os.environ\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Execute(context.Background(), executor.ExecutionRequest{Code: tt.code})
			require.NoError(t, err)
			assert.Equal(t, tt.failed, res.Failed(), "stderr: %s", res.Stderr)
			if tt.stdout != "" {
				assert.Contains(t, res.Stdout, tt.stdout)
			}
			if tt.message != "" {
				assert.Equal(t, tt.message, res.FailureMessage(time.Second))
			}
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	e := newTestExecutor(t, 500*time.Millisecond)

	start := time.Now()
	res, err := e.Execute(context.Background(), executor.ExecutionRequest{
		Code: "import subprocess, sys\nsubprocess.Popen([sys.executable, '-c', 'while True: pass'])\nwhile True: pass\n",
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, executor.ExitTimedOut, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second, "the whole process group must be killed")
	assert.Equal(t, "execution timed out after 500ms", res.FailureMessage(500*time.Millisecond))
}

func TestExecute_CallerCancels(t *testing.T) {
	e := newTestExecutor(t, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, executor.ExecutionRequest{Code: "while True: pass\n"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_MissingInterpreter(t *testing.T) {
	_, err := New(Config{Interpreter: "definitely-not-a-python-binary"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
