// Package orchestrator drives one requirement through generate → test →
// execute, looping through debug → execute while the generated code fails
// its tests and the retry budget lasts.
//
// The machine itself is deterministic. All non-determinism lives behind the
// four component interfaces below; the orchestrator only looks at whether
// the last execution left an error and at the retry counter.
//
// An Orchestrator holds no per-run state. Build one at startup and share it:
// every Run owns its own RunRecord and nothing is aliased between runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/agentcoder/internal/apperror"
	"github.com/sakif/agentcoder/internal/model"
)

// CodeProducer turns a requirement into a candidate program.
type CodeProducer interface {
	Produce(ctx context.Context, requirement string) (string, error)
}

// TestProducer turns a requirement and its code into test vectors.
type TestProducer interface {
	Produce(ctx context.Context, requirement, code string) (model.TestVectorSet, error)
}

// Execution is what one executor pass hands back: the instrumented code,
// which becomes the run's current code, and the captured failure, empty
// when every assertion held.
type Execution struct {
	Code  string
	Error string
}

// Executor instruments code with an assertion harness and runs it.
// A failing program is reported in Execution.Error; the returned error is
// reserved for failures of the executor itself (model call, sandbox).
type Executor interface {
	Run(ctx context.Context, code string, tests model.TestVectorSet) (Execution, error)
}

// Refiner repairs code given the error it produced.
type Refiner interface {
	Refine(ctx context.Context, code, errText string) (string, error)
}

// Components groups the four model-backed steps.
type Components struct {
	Coder    CodeProducer
	Tester   TestProducer
	Executor Executor
	Refiner  Refiner
}

// Snapshot is the record as it stood right after State's step ran.
// The final snapshot of a finished run has State == StateTerminal.
type Snapshot struct {
	Seq    int
	State  State
	Record model.RunRecord
	At     time.Time
}

// Observer receives every snapshot of a run, in order, on the run's goroutine.
type Observer func(Snapshot)

// Result summarises a run that reached Terminal.
type Result struct {
	Record     model.RunRecord
	Outcome    Outcome
	Executions int
	Duration   time.Duration
}

// Orchestrator sequences the components. It is safe for concurrent use.
type Orchestrator struct {
	components Components
	logger     *slog.Logger
	now        func() time.Time
}

// New builds an Orchestrator. Every component is required.
func New(c Components, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case c.Coder == nil:
		return nil, errors.New("orchestrator: code producer is required")
	case c.Tester == nil:
		return nil, errors.New("orchestrator: test producer is required")
	case c.Executor == nil:
		return nil, errors.New("orchestrator: executor is required")
	case c.Refiner == nil:
		return nil, errors.New("orchestrator: refiner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		components: c,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Run drives requirement to Terminal.
//
// On success or budget exhaustion it returns the terminal Result and a nil
// error. A failing component aborts the run with an apperror.Orchestration
// error; a canceled ctx aborts it with apperror.Canceled. In both cases the
// returned Result carries the last record reached, so callers can still
// show partial progress. Cancellation is checked before every step.
func (o *Orchestrator) Run(ctx context.Context, runID, requirement string, observe Observer) (Result, error) {
	start := o.now()
	logger := o.logger.With(slog.String("run_id", runID))

	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return Result{}, apperror.ValidationFailed("requirement", "requirement is required")
	}
	if observe == nil {
		observe = func(Snapshot) {}
	}

	var (
		state      = StateStart
		rec        = model.RunRecord{Requirement: requirement}
		seq        int
		executions int
	)

	for !state.Terminal() {
		if err := ctx.Err(); err != nil {
			logger.Warn("run canceled", slog.String("state", state.String()))
			return o.partial(rec, executions, start), apperror.Canceled(state.String(), err)
		}

		next, err := o.Step(ctx, state, rec)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				logger.Warn("run canceled during step", slog.String("state", state.String()))
				return o.partial(rec, executions, start), apperror.Canceled(state.String(), ctxErr)
			}
			logger.Error("step failed",
				slog.String("state", state.String()),
				slog.String("error", err.Error()),
			)
			return o.partial(rec, executions, start), apperror.Orchestration(state.String(), err)
		}

		if state == StateExecute {
			executions++
		}
		rec = next

		if state != StateStart {
			seq++
			observe(Snapshot{Seq: seq, State: state, Record: rec, At: o.now()})
		}

		to := Next(state, rec)
		logger.Info("transition",
			slog.String("from", state.String()),
			slog.String("to", to.String()),
			slog.Int("retry_count", rec.RetryCount),
			slog.Bool("has_error", rec.HasError()),
		)
		state = to
	}

	seq++
	observe(Snapshot{Seq: seq, State: StateTerminal, Record: rec, At: o.now()})

	res := Result{
		Record:     rec,
		Outcome:    OutcomeOf(rec),
		Executions: executions,
		Duration:   o.now().Sub(start),
	}
	logger.Info("run finished",
		slog.String("outcome", string(res.Outcome)),
		slog.Int("executions", executions),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// Step performs the work of state on rec and returns the new record.
// It never modifies rec in place. Start and Terminal do no work, so
// calling Step on a terminal record returns it unchanged and calls nothing.
func (o *Orchestrator) Step(ctx context.Context, state State, rec model.RunRecord) (model.RunRecord, error) {
	switch state {
	case StateStart, StateTerminal:
		return rec, nil

	case StateGenerate:
		code, err := o.components.Coder.Produce(ctx, rec.Requirement)
		if err != nil {
			return rec, err
		}
		return model.NewRunRecord(rec.Requirement, code), nil

	case StateTest:
		tests, err := o.components.Tester.Produce(ctx, rec.Requirement, rec.Code)
		if err != nil {
			return rec, err
		}
		// The producer already validates; this keeps the invariant true for
		// any TestProducer plugged in here.
		if err := tests.Validate(); err != nil {
			return rec, err
		}
		next := rec
		next.Tests = tests
		next.Error = ""
		next.Success = false
		return next, nil

	case StateExecute:
		if rec.Tests.IsEmpty() {
			return rec, errors.New("no test vectors to execute against")
		}
		exec, err := o.components.Executor.Run(ctx, rec.Code, rec.Tests)
		if err != nil {
			return rec, err
		}
		next := rec
		next.Code = exec.Code
		next.Error = exec.Error
		next.Success = exec.Error == ""
		return next, nil

	case StateDebug:
		next := rec
		next.RetryCount = rec.RetryCount + 1
		next.Error = ""
		next.Success = false
		if rec.RetryCount >= MaxRetries {
			// Past the ceiling: forward the code untouched so the run still terminates.
			o.logger.Warn("retry ceiling reached, skipping refinement",
				slog.Int("retry_count", rec.RetryCount),
			)
			return next, nil
		}
		code, err := o.components.Refiner.Refine(ctx, rec.Code, rec.Error)
		if err != nil {
			return rec, err
		}
		next.Code = code
		return next, nil

	default:
		return rec, fmt.Errorf("unknown state %d", int(state))
	}
}

func (o *Orchestrator) partial(rec model.RunRecord, executions int, start time.Time) Result {
	return Result{
		Record:     rec,
		Outcome:    OutcomeOf(rec),
		Executions: executions,
		Duration:   o.now().Sub(start),
	}
}
