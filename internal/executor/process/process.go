// Package process runs generated programs with a local interpreter.
//
// It is the fallback sandbox for hosts without Docker. Each program runs in
// its own scratch directory with an empty environment, in its own process
// group, and the whole group is killed when the time limit hits. That is
// resource-bounded, but it is not isolation: the program can still read
// whatever the server's user can read. Prefer the docker sandbox wherever
// it is available.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sakif/agentcoder/internal/config"
	"github.com/sakif/agentcoder/internal/executor"
	"github.com/sakif/agentcoder/internal/metrics"
)

// Config holds the settings of the process sandbox.
type Config struct {
	// Interpreter is the python binary, looked up on PATH when not absolute.
	Interpreter string
	Timeout     time.Duration
	// MaxParallel caps programs running at once.
	MaxParallel int
}

// FromSandbox maps the application's sandbox settings onto a Config.
func FromSandbox(s config.Sandbox) Config {
	return Config{
		Interpreter: s.Interpreter,
		Timeout:     s.Timeout,
		MaxParallel: s.PoolSize,
	}
}

// Executor implements executor.Executor with os/exec.
type Executor struct {
	interpreter string
	config      Config
	slots       *semaphore.Weighted
	logger      *slog.Logger
}

// New resolves the interpreter and returns an Executor.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	path, err := exec.LookPath(cfg.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("process: interpreter %q not found: %w", cfg.Interpreter, err)
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	logger.Warn("using the process sandbox; generated code runs on this host",
		slog.String("interpreter", path),
	)
	return &Executor{
		interpreter: path,
		config:      cfg,
		slots:       semaphore.NewWeighted(int64(cfg.MaxParallel)),
		logger:      logger,
	}, nil
}

// Kind implements executor.Executor.
func (e *Executor) Kind() string { return "process" }

// Close implements executor.Executor. There is nothing to release.
func (e *Executor) Close() error { return nil }

// Execute writes the program to a scratch directory and runs it there.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("process: waiting for a slot: %w", err)
	}
	defer e.slots.Release(1)

	dir, err := os.MkdirTemp("", "agentcoder-run-")
	if err != nil {
		metrics.ObserveSandbox(e.Kind(), "error")
		return nil, fmt.Errorf("process: creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "main.py")
	if err := os.WriteFile(script, []byte(req.Code), 0o600); err != nil {
		metrics.ObserveSandbox(e.Kind(), "error")
		return nil, fmt.Errorf("process: writing program: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var stdout, stderr executor.CappedBuffer
	cmd := exec.CommandContext(runCtx, e.interpreter, "-I", script)
	cmd.Dir = dir
	cmd.Env = []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8", "HOME=" + dir}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}
	// Grandchildren holding the pipes open must not keep Wait blocked.
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	res := &executor.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		metrics.ObserveSandbox(e.Kind(), "error")
		return nil, fmt.Errorf("process: execution interrupted: %w", ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = executor.ExitTimedOut
	case runErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			metrics.ObserveSandbox(e.Kind(), "error")
			return nil, fmt.Errorf("process: running interpreter: %w", runErr)
		}
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			// Killed by a signal, e.g. the OOM killer.
			res.ExitCode = 137
		}
	}

	metrics.ObserveSandbox(e.Kind(), res.Label())
	e.logger.Debug("sandbox execution finished",
		slog.String("sandbox", e.Kind()),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}
