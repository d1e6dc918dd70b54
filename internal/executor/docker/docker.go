package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/agentcoder/internal/executor"
	"github.com/sakif/agentcoder/internal/metrics"
)

// Executor implements the executor.Executor interface using Docker.
//
// Each program gets a fresh container from the pool and the container is
// removed afterwards, so nothing one program writes is visible to the next.
type Executor struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New creates a new Docker Executor and initializes the connection.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	// Make sure the image is pulled
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker: daemon unreachable: %w", err)
	}

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker: pulling %s: %w", cfg.Image, err)
	}
	// Read everything to block until the pull is complete
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()
	logger.Info("docker image is ready")

	exec := &Executor{
		cli:    cli,
		config: cfg,
		logger: logger,
	}

	exec.pool = NewPool(cli, cfg, logger)
	exec.pool.Start()

	return exec, nil
}

// Kind implements executor.Executor.
func (e *Executor) Kind() string { return "docker" }

// Close shuts down the executor pool and docker client.
func (e *Executor) Close() error {
	e.pool.Stop()
	return e.cli.Close()
}

// Execute runs the provided Python code in a sandboxed Docker container.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	start := time.Now()

	// Get a pre-warmed container ID from the pool
	containerID, err := e.pool.GetContainer(ctx)
	if err != nil {
		metrics.ObserveSandbox(e.Kind(), "error")
		return nil, fmt.Errorf("docker: getting container from pool: %w", err)
	}

	// Always ensure we clean up the container that we acquired. Removing it
	// also kills a program that outlived its timeout.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := e.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{
			Force: true,
		})
		if err != nil {
			e.logger.Error("failed to remove container", slog.String("id", containerID), slog.String("error", err.Error()))
		}
	}()

	executeCtx, executeCancel := context.WithTimeout(ctx, e.config.Timeout)
	defer executeCancel()

	// The container idles on `sleep infinity`, so the program runs as an exec.
	// -I keeps the interpreter from reading PYTHON* variables or the user site.
	execConfig := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/tmp",
		Env:          []string{"PYTHONDONTWRITEBYTECODE=1"},
		Cmd:          []string{"python", "-I", "-c", req.Code},
	}

	execResp, err := e.cli.ContainerExecCreate(executeCtx, containerID, execConfig)
	if err != nil {
		metrics.ObserveSandbox(e.Kind(), "error")
		return nil, fmt.Errorf("docker: creating exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		metrics.ObserveSandbox(e.Kind(), "error")
		return nil, fmt.Errorf("docker: attaching to exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr executor.CappedBuffer

	done := make(chan struct{})
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	res := &executor.ExecutionResult{}

	select {
	case <-done:
		inspectResp, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			metrics.ObserveSandbox(e.Kind(), "error")
			return nil, fmt.Errorf("docker: inspecting exec: %w", err)
		}
		res.ExitCode = inspectResp.ExitCode
	case <-executeCtx.Done():
		if ctx.Err() != nil {
			// The caller gave up; that is not the program's fault.
			metrics.ObserveSandbox(e.Kind(), "error")
			return nil, fmt.Errorf("docker: execution interrupted: %w", ctx.Err())
		}
		res.ExitCode = executor.ExitTimedOut
		res.TimedOut = true
		// Closing the hijacked connection unblocks StdCopy.
		attachResp.Close()
		<-done
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Duration = time.Since(start)

	metrics.ObserveSandbox(e.Kind(), res.Label())
	e.logger.Debug("sandbox execution finished",
		slog.String("sandbox", e.Kind()),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}
