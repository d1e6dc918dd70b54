package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/agentcoder/internal/apperror"
	"github.com/sakif/agentcoder/internal/auth"
	"github.com/sakif/agentcoder/internal/handler"
	"github.com/sakif/agentcoder/internal/model"
	"github.com/sakif/agentcoder/internal/repository"
)

// fakeRunService implements handler.RunService. Each field is what the
// matching method returns; the Captured* fields record what it was called with.
type fakeRunService struct {
	run       *model.Run
	runs      []model.Run
	events    [][]model.RunEvent // successive Events calls
	live      chan model.RunEvent
	err       error
	cancelErr error

	CapturedOwner       string
	CapturedRequirement string
	CapturedOpts        repository.ListOptions
	CapturedCancel      string
	eventCalls          int
}

func (f *fakeRunService) Submit(_ context.Context, owner, requirement string) (*model.Run, error) {
	f.CapturedOwner = owner
	f.CapturedRequirement = requirement
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakeRunService) Get(_ context.Context, owner, _ string) (*model.Run, error) {
	f.CapturedOwner = owner
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakeRunService) List(_ context.Context, owner string, opts repository.ListOptions) ([]model.Run, error) {
	f.CapturedOwner = owner
	f.CapturedOpts = opts
	return f.runs, f.err
}

func (f *fakeRunService) Events(_ context.Context, owner, _ string) ([]model.RunEvent, error) {
	f.CapturedOwner = owner
	if f.err != nil {
		return nil, f.err
	}
	if len(f.events) == 0 {
		return []model.RunEvent{}, nil
	}
	i := f.eventCalls
	if i >= len(f.events) {
		i = len(f.events) - 1
	}
	f.eventCalls++
	return f.events[i], nil
}

func (f *fakeRunService) Subscribe(_ context.Context, owner, _ string) (<-chan model.RunEvent, func(), error) {
	f.CapturedOwner = owner
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.live, func() {}, nil
}

func (f *fakeRunService) Cancel(_ context.Context, owner, id string) error {
	f.CapturedOwner = owner
	f.CapturedCancel = id
	return f.cancelErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newRunRouter mounts the handler the way the server does. A non-empty
// subject simulates a request that passed RequireAuth.
func newRunRouter(svc handler.RunService, subject string) http.Handler {
	h := handler.NewRunHandler(svc, testLogger())
	r := chi.NewRouter()
	if subject != "" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(auth.WithSubject(req.Context(), subject)))
			})
		})
	}
	r.Post("/api/runs", h.HandleSubmit)
	r.Get("/api/runs", h.HandleList)
	r.Get("/api/runs/{id}", h.HandleGet)
	r.Get("/api/runs/{id}/events", h.HandleEvents)
	r.Get("/api/runs/{id}/stream", h.HandleStream)
	r.Post("/api/runs/{id}/cancel", h.HandleCancel)
	return r
}

func event(seq int, state string) model.RunEvent {
	return model.RunEvent{RunID: "run-1", Seq: seq, State: state, Record: model.RunRecord{Requirement: "add"}}
}

func TestRunHandler_HandleSubmit(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := &fakeRunService{run: &model.Run{ID: "run-1", Status: model.StatusQueued, Requirement: "add"}}
		router := newRunRouter(svc, "alice")

		req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(`{"requirement":"add"}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "/api/runs/run-1", rr.Header().Get("Location"))
		assert.Equal(t, "add", svc.CapturedRequirement)
		assert.Equal(t, "alice", svc.CapturedOwner)

		var run model.Run
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
		assert.Equal(t, model.StatusQueued, run.Status)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := &fakeRunService{}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(`{"requirement":`)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, svc.CapturedRequirement)
	})

	t.Run("unknown field", func(t *testing.T) {
		svc := &fakeRunService{}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(`{"requirment":"add"}`)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("service validation error", func(t *testing.T) {
		svc := &fakeRunService{err: apperror.ValidationFailed("requirement", "requirement is required")}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(`{"requirement":" "}`)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "requirement is required")
	})

	t.Run("shutting down", func(t *testing.T) {
		svc := &fakeRunService{err: apperror.Unavailable("server is shutting down", nil)}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(`{"requirement":"add"}`)))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestRunHandler_HandleList(t *testing.T) {
	t.Run("parses paging and status", func(t *testing.T) {
		svc := &fakeRunService{runs: []model.Run{{ID: "run-2"}, {ID: "run-1"}}}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "alice").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs?limit=500&offset=10&status=exhausted", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, repository.MaxLimit, svc.CapturedOpts.Limit)
		assert.Equal(t, 10, svc.CapturedOpts.Offset)
		assert.Equal(t, model.StatusExhausted, svc.CapturedOpts.Status)
		assert.Equal(t, "alice", svc.CapturedOwner)

		var runs []model.Run
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&runs))
		assert.Len(t, runs, 2)
	})

	t.Run("defaults", func(t *testing.T) {
		svc := &fakeRunService{runs: []model.Run{}}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, repository.DefaultLimit, svc.CapturedOpts.Limit)
		assert.Equal(t, "[]\n", rr.Body.String())
	})

	for _, q := range []string{"limit=abc", "limit=-1", "offset=x", "status=done"} {
		t.Run("rejects "+q, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newRunRouter(&fakeRunService{}, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestRunHandler_HandleGet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := &fakeRunService{run: &model.Run{ID: "run-1", Status: model.StatusSucceeded, Success: true}}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"status":"succeeded"`)
	})

	t.Run("not found", func(t *testing.T) {
		svc := &fakeRunService{err: apperror.NotFound("run", "nope")}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestRunHandler_HandleEvents(t *testing.T) {
	svc := &fakeRunService{events: [][]model.RunEvent{{event(1, "generate"), event(2, "test")}}}
	rr := httptest.NewRecorder()
	newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/run-1/events", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var events []model.RunEvent
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&events))
	require.Len(t, events, 2)
	assert.Equal(t, "test", events[1].State)
}

func TestRunHandler_HandleCancel(t *testing.T) {
	t.Run("active run", func(t *testing.T) {
		svc := &fakeRunService{run: &model.Run{ID: "run-1", Status: model.StatusRunning}}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "alice").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/runs/run-1/cancel", nil))

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "run-1", svc.CapturedCancel)
		assert.Equal(t, "alice", svc.CapturedOwner)
	})

	t.Run("not active", func(t *testing.T) {
		svc := &fakeRunService{cancelErr: apperror.NotFound("active run", "run-1")}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/runs/run-1/cancel", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

// sseEvent is one parsed Server-Sent Event.
type sseEvent struct {
	name string
	id   string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				ev.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" {
			events = append(events, ev)
		}
	}
	return events
}

func TestRunHandler_HandleStream(t *testing.T) {
	t.Run("replays history, dedupes live events and ends with done", func(t *testing.T) {
		live := make(chan model.RunEvent, 4)
		live <- event(2, "test") // also in the history
		live <- event(3, "execute")
		close(live)

		svc := &fakeRunService{
			run:  &model.Run{ID: "run-1", Status: model.StatusSucceeded, Success: true},
			live: live,
			events: [][]model.RunEvent{
				{event(1, "generate"), event(2, "test")},
				// Stored history after the run closed; seq 4 never reached the subscriber.
				{event(1, "generate"), event(2, "test"), event(3, "execute"), event(4, "terminal")},
			},
		}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/run-1/stream", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
		assert.True(t, rr.Flushed)

		events := parseSSE(t, rr.Body.String())
		require.Len(t, events, 5)
		for i, want := range []string{"1", "2", "3", "4"} {
			assert.Equal(t, "snapshot", events[i].name)
			assert.Equal(t, want, events[i].id)
		}
		assert.Equal(t, "done", events[4].name)

		var run model.Run
		require.NoError(t, json.Unmarshal([]byte(events[4].data), &run))
		assert.Equal(t, model.StatusSucceeded, run.Status)
	})

	t.Run("finished run", func(t *testing.T) {
		live := make(chan model.RunEvent)
		close(live)
		svc := &fakeRunService{
			run:    &model.Run{ID: "run-1", Status: model.StatusExhausted, Error: "Execution Error : boom"},
			live:   live,
			events: [][]model.RunEvent{{event(1, "generate"), event(2, "terminal")}},
		}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/run-1/stream", nil))

		events := parseSSE(t, rr.Body.String())
		require.Len(t, events, 3)
		assert.Equal(t, "done", events[2].name)
		assert.Contains(t, events[2].data, `"status":"exhausted"`)
	})

	t.Run("unknown run", func(t *testing.T) {
		svc := &fakeRunService{err: apperror.NotFound("run", "nope")}
		rr := httptest.NewRecorder()
		newRunRouter(svc, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/nope/stream", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	})
}
