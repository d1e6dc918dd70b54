package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/sakif/agentcoder/internal/agent"
	"github.com/sakif/agentcoder/internal/config"
	"github.com/sakif/agentcoder/internal/model"
	"github.com/sakif/agentcoder/internal/orchestrator"
	"github.com/sakif/agentcoder/internal/service"
)

// buildPipeline creates the runner and the sandbox it owns. Tests replace it.
var buildPipeline = func(cfg config.Config, logger *slog.Logger) (service.Runner, io.Closer, error) {
	orch, sandbox, err := agent.NewOrchestrator(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return orch, sandbox, nil
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run [requirement...]",
		Short: "Generate, test and repair code for one requirement",
		Long: `Runs one requirement through the pipeline and prints every step.
The requirement is the arguments joined by spaces, or stdin when there are
no arguments. Ctrl-C cancels the run.

Exit status: 0 succeeded, 1 exhausted the retry budget, 2 failed or canceled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequirement(cmd, opts, args)
		},
	}
}

func runRequirement(cmd *cobra.Command, opts *options, args []string) error {
	requirement, err := readRequirement(args, cmd.InOrStdin())
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}
	logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}

	runner, sandbox, err := buildPipeline(cfg, logger)
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}
	defer sandbox.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderHeader(requirement))

	res, runErr := runner.Run(ctx, xid.New().String(), requirement, func(s orchestrator.Snapshot) {
		fmt.Fprintln(out, renderSnapshot(s))
	})

	status := orchestrator.StatusOf(res, runErr)
	if res.Record.Code != "" {
		fmt.Fprintln(out, renderCode(res.Record.Code))
	}
	fmt.Fprintln(out, renderOutcome(status, res, runErr))

	return &exitError{code: exitCode(status)}
}

// exitCode maps a terminal run status onto the process exit status.
func exitCode(status model.RunStatus) int {
	switch status {
	case model.StatusSucceeded:
		return exitSucceeded
	case model.StatusExhausted:
		return exitExhausted
	default:
		return exitFailed
	}
}

// readRequirement joins args, or reads all of stdin when there are none.
func readRequirement(args []string, stdin io.Reader) (string, error) {
	var requirement string
	if len(args) > 0 {
		requirement = strings.Join(args, " ")
	} else {
		b, err := io.ReadAll(io.LimitReader(stdin, service.MaxRequirementLength+1))
		if err != nil {
			return "", fmt.Errorf("reading requirement from stdin: %w", err)
		}
		requirement = string(b)
	}

	requirement = strings.TrimSpace(requirement)
	switch {
	case requirement == "":
		return "", errors.New("a requirement is required, as arguments or on stdin")
	case len(requirement) > service.MaxRequirementLength:
		return "", fmt.Errorf("requirement must be %d bytes or fewer", service.MaxRequirementLength)
	}
	return requirement, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}
