package docker_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/agentcoder/internal/executor"
	"github.com/sakif/agentcoder/internal/executor/docker"
)

func newExecutor(t *testing.T, mutate func(*docker.Config)) *docker.Executor {
	t.Helper()
	// Skip in CI environments if docker is not available
	if os.Getenv("CI") != "" {
		t.Skip("Skipping docker test in CI environment")
	}

	cfg := docker.DefaultConfig()
	cfg.PoolSize = 1
	if mutate != nil {
		mutate(&cfg)
	}

	exec, err := docker.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func TestDockerExecutor(t *testing.T) {
	exec := newExecutor(t, nil)
	assert.Equal(t, "docker", exec.Kind())

	t.Run("passing assertions", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), executor.ExecutionRequest{
			Code: strings.Join([]string{
				"def add(a, b):",
				"    return a + b",
				"assert add(2, 3) == 5",
				"print('ok')",
			}, "\n"),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.False(t, res.Failed())
		assert.Contains(t, res.Stdout, "ok")
		assert.Greater(t, res.Duration, time.Duration(0))
	})

	t.Run("failing assertion", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), executor.ExecutionRequest{
			Code: "def add(a, b):\n    return a - b\nassert add(2, 3) == 5, 'add(2, 3) != 5'\n",
		})
		require.NoError(t, err)
		assert.True(t, res.Failed())
		assert.Equal(t, "AssertionError: add(2, 3) != 5", res.FailureMessage(time.Second))
	})

	t.Run("syntax error", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), executor.ExecutionRequest{
			Code: `print("Missing parenthesis"`,
		})
		require.NoError(t, err)
		assert.NotEqual(t, 0, res.ExitCode)
		assert.Contains(t, res.Stderr, "SyntaxError")
		assert.Empty(t, res.Stdout)
	})

	t.Run("no network", func(t *testing.T) {
		res, err := exec.Execute(context.Background(), executor.ExecutionRequest{
			Code: "import socket\nsocket.create_connection(('1.1.1.1', 53), timeout=2)\n",
		})
		require.NoError(t, err)
		assert.True(t, res.Failed())
	})
}

func TestDockerExecutor_Timeout(t *testing.T) {
	exec := newExecutor(t, func(c *docker.Config) { c.Timeout = 2 * time.Second })

	res, err := exec.Execute(context.Background(), executor.ExecutionRequest{
		Code: `while True: pass`,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, executor.ExitTimedOut, res.ExitCode)
	assert.Equal(t, "timeout", res.Label())
}
