package agent

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/agentcoder/internal/config"
	"github.com/sakif/agentcoder/internal/executor"
	"github.com/sakif/agentcoder/internal/executor/docker"
	"github.com/sakif/agentcoder/internal/executor/process"
	"github.com/sakif/agentcoder/internal/llm"
	"github.com/sakif/agentcoder/internal/orchestrator"
)

// NewSandbox opens the configured sandbox. A docker sandbox whose daemon is
// unreachable falls back to the process sandbox, with a warning, so a
// laptop without Docker can still run the pipeline.
func NewSandbox(cfg config.Sandbox, logger *slog.Logger) (executor.Executor, error) {
	if cfg.Kind == config.SandboxProcess {
		sb, err := process.New(process.FromSandbox(cfg), logger)
		if err != nil {
			return nil, err
		}
		return sb, nil
	}

	sb, err := docker.New(docker.FromSandbox(cfg), logger)
	if err == nil {
		return sb, nil
	}
	logger.Warn("docker sandbox unavailable, falling back to the process sandbox",
		slog.String("error", err.Error()),
	)
	fallback, perr := process.New(process.FromSandbox(cfg), logger)
	if perr != nil {
		return nil, fmt.Errorf("agent: no sandbox available: %w", errors.Join(err, perr))
	}
	return fallback, nil
}

// NewOrchestrator wires the model client, the sandbox and the four steps
// into an Orchestrator. The caller owns the returned sandbox and closes it
// on shutdown.
func NewOrchestrator(cfg config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, executor.Executor, error) {
	client, err := llm.NewOpenAIClient(cfg.Model, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: creating model client: %w", err)
	}

	sandbox, err := NewSandbox(cfg.Sandbox, logger)
	if err != nil {
		return nil, nil, err
	}

	orch, err := orchestrator.New(
		Components(llm.Instrument(client), sandbox, cfg.Sandbox.Timeout, logger),
		logger,
	)
	if err != nil {
		sandbox.Close()
		return nil, nil, fmt.Errorf("agent: creating orchestrator: %w", err)
	}

	logger.Info("pipeline ready",
		slog.String("provider", cfg.Model.Provider),
		slog.String("deployment", cfg.Model.Deployment),
		slog.String("output", cfg.Model.Output),
		slog.String("sandbox", sandbox.Kind()),
	)
	return orch, sandbox, nil
}
