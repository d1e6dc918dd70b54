// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// RunService sits in the middle. It accepts requirements, runs each one
// through the orchestrator in the background, and records what happened so
// handlers only ever read from the repository or subscribe to live events.
//
// DEPENDENCY INJECTION:
// RunService takes a repository.RunRepository and a Runner (interfaces), not
// *sqlite.DB or *orchestrator.Orchestrator. Tests pass in-memory fakes for
// both (see run_test.go).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sakif/agentcoder/internal/apperror"
	"github.com/sakif/agentcoder/internal/metrics"
	"github.com/sakif/agentcoder/internal/model"
	"github.com/sakif/agentcoder/internal/orchestrator"
	"github.com/sakif/agentcoder/internal/repository"
)

// MaxRequirementLength bounds a requirement, in bytes.
const MaxRequirementLength = 20000

// persistTimeout bounds each repository write made from a run's goroutine.
const persistTimeout = 10 * time.Second

// Runner drives one requirement to a terminal state.
// *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, runID, requirement string, observe orchestrator.Observer) (orchestrator.Result, error)
}

// RunService handles submitted runs.
type RunService struct {
	repo   repository.RunRepository
	runner Runner
	logger *slog.Logger
	slots  *semaphore.Weighted
	hub    *hub
	now    func() time.Time

	// base is the parent of every run's context. Shutdown cancels it.
	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewRunService creates a RunService that runs at most maxConcurrent
// orchestrations at once. Further runs wait in the queued status.
func NewRunService(repo repository.RunRepository, runner Runner, maxConcurrent int, logger *slog.Logger) *RunService {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &RunService{
		repo:   repo,
		runner: runner,
		logger: logger,
		slots:  semaphore.NewWeighted(int64(maxConcurrent)),
		hub:    newHub(logger),
		now:    time.Now,
		base:   base,
		stop:   stop,
		active: make(map[string]context.CancelFunc),
	}
}

// RecoverInterrupted fails runs a previous process left queued or running.
// Call it once at startup, before accepting submissions.
func (s *RunService) RecoverInterrupted(ctx context.Context) error {
	n, err := s.repo.FailInterrupted(ctx, "interrupted by a server restart")
	if err != nil {
		return fmt.Errorf("service: recovering interrupted runs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked interrupted runs as failed", slog.Int64("count", n))
	}
	return nil
}

// Submit validates requirement, stores a queued run and starts it in the
// background. The returned run is the queued row; progress is read with
// Get, Events or Subscribe.
func (s *RunService) Submit(ctx context.Context, owner, requirement string) (*model.Run, error) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, apperror.ValidationFailed("requirement", "requirement is required")
	}
	if len(requirement) > MaxRequirementLength {
		return nil, apperror.ValidationFailed("requirement",
			fmt.Sprintf("requirement must be %d bytes or fewer", MaxRequirementLength))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperror.Unavailable("server is shutting down", nil)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	run := &model.Run{
		Owner:       owner,
		Requirement: requirement,
		Status:      model.StatusQueued,
	}
	if err := s.repo.Create(ctx, run); err != nil {
		s.wg.Done()
		return nil, fmt.Errorf("service: creating run: %w", err)
	}

	runCtx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.active[run.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("run submitted", slog.String("run_id", run.ID), slog.String("owner", owner))

	queued := *run
	go s.execute(runCtx, cancel, &queued)
	return run, nil
}

// execute owns run until it is terminal. It never returns early without
// writing a terminal status, closing subscribers and releasing its slot.
func (s *RunService) execute(ctx context.Context, cancel context.CancelFunc, run *model.Run) {
	defer s.wg.Done()
	defer cancel()
	logger := s.logger.With(slog.String("run_id", run.ID))

	var (
		res orchestrator.Result
		err error
	)
	if err = s.slots.Acquire(ctx, 1); err != nil {
		err = apperror.Canceled("start", err)
	} else {
		metrics.RunStarted()
		run.Status = model.StatusRunning
		s.persist(logger, run)

		res, err = s.runner.Run(ctx, run.ID, run.Requirement, func(snap orchestrator.Snapshot) {
			ev := model.RunEvent{
				RunID:     run.ID,
				Seq:       snap.Seq,
				State:     snap.State.String(),
				Record:    snap.Record,
				CreatedAt: snap.At,
			}
			wctx, wcancel := context.WithTimeout(context.Background(), persistTimeout)
			if aerr := s.repo.AppendEvent(wctx, &ev); aerr != nil {
				logger.Error("failed to store run event", slog.Int("seq", ev.Seq), slog.String("error", aerr.Error()))
			}
			wcancel()

			run.Apply(snap.Record)
			if !snap.State.Terminal() {
				s.persist(logger, run)
			}
			s.hub.publish(ev)
		})

		s.slots.Release(1)
		metrics.RunStopped()
	}

	s.finish(logger, run, res, err)

	s.mu.Lock()
	delete(s.active, run.ID)
	s.mu.Unlock()
	s.hub.close(run.ID)
}

func (s *RunService) finish(logger *slog.Logger, run *model.Run, res orchestrator.Result, err error) {
	if res.Record.Requirement != "" {
		run.Apply(res.Record)
	}
	run.Executions = res.Executions
	finished := s.now().UTC()
	run.FinishedAt = &finished

	run.Status = orchestrator.StatusOf(res, err)
	if err != nil {
		run.Failure = err.Error()
	}

	s.persist(logger, run)
	metrics.ObserveRun(string(run.Status), res.Duration, res.Executions)

	logger.Info("run finished",
		slog.String("status", string(run.Status)),
		slog.Int("retry_count", run.RetryCount),
		slog.Int("executions", run.Executions),
	)
}

// persist writes run with its own short timeout; the run's context may
// already be canceled when its final state is written.
func (s *RunService) persist(logger *slog.Logger, run *model.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.repo.Update(ctx, run); err != nil {
		logger.Error("failed to store run", slog.String("status", string(run.Status)), slog.String("error", err.Error()))
	}
}

// Get returns one run. When owner is set, runs of other owners are
// reported as not found.
func (s *RunService) Get(ctx context.Context, owner, id string) (*model.Run, error) {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner != "" && run.Owner != owner {
		return nil, apperror.NotFound("run", id)
	}
	return run, nil
}

// List returns runs newest first, limited to owner's when owner is set.
func (s *RunService) List(ctx context.Context, owner string, opts repository.ListOptions) ([]model.Run, error) {
	if owner != "" {
		opts.Owner = owner
	}
	runs, err := s.repo.List(ctx, opts.Normalize())
	if err != nil {
		return nil, fmt.Errorf("service: listing runs: %w", err)
	}
	return runs, nil
}

// Events returns a run's snapshot history.
func (s *RunService) Events(ctx context.Context, owner, id string) ([]model.RunEvent, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service: listing events: %w", err)
	}
	return events, nil
}

// Subscribe returns live events of a run and a func to stop listening.
// The channel is closed once the run's terminal state has been stored; for
// a run that is not active it is closed immediately. Events published
// before the call are not replayed, so callers read Events after
// subscribing and skip duplicates by Seq.
func (s *RunService) Subscribe(ctx context.Context, owner, id string) (<-chan model.RunEvent, func(), error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; !ok {
		ch := make(chan model.RunEvent)
		close(ch)
		return ch, func() {}, nil
	}
	ch, unsubscribe := s.hub.subscribe(id)
	return ch, unsubscribe, nil
}

// Cancel stops an active run. It finishes as canceled once its current
// step returns. Runs that are not active are not found.
func (s *RunService) Cancel(ctx context.Context, owner, id string) error {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}

	s.mu.Lock()
	cancel, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return apperror.NotFound("active run", id)
	}
	cancel()
	s.logger.Info("run cancel requested", slog.String("run_id", id))
	return nil
}

// Active reports how many runs are queued or running in this process.
func (s *RunService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown stops accepting runs, cancels the active ones and waits for them
// to store their final state, or for ctx to end.
func (s *RunService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	n := len(s.active)
	s.mu.Unlock()

	if n > 0 {
		s.logger.Info("canceling active runs", slog.Int("count", n))
	}
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service: waiting for runs to stop: %w", ctx.Err())
	}
}
