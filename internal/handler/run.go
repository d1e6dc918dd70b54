package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/agentcoder/internal/apperror"
	"github.com/sakif/agentcoder/internal/auth"
	"github.com/sakif/agentcoder/internal/model"
	"github.com/sakif/agentcoder/internal/repository"
)

// defaultHeartbeat keeps idle proxies from closing a stream while a model
// call is in flight.
const defaultHeartbeat = 15 * time.Second

// RunService is what RunHandler needs from the service layer.
// *service.RunService implements it; tests pass a fake.
type RunService interface {
	Submit(ctx context.Context, owner, requirement string) (*model.Run, error)
	Get(ctx context.Context, owner, id string) (*model.Run, error)
	List(ctx context.Context, owner string, opts repository.ListOptions) ([]model.Run, error)
	Events(ctx context.Context, owner, id string) ([]model.RunEvent, error)
	Subscribe(ctx context.Context, owner, id string) (<-chan model.RunEvent, func(), error)
	Cancel(ctx context.Context, owner, id string) error
}

// RunHandler serves the run API.
//
// Every call is scoped to the authenticated subject. With auth disabled
// there is no subject and every run is visible.
type RunHandler struct {
	runs      RunService
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(runs RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runs:      runs,
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
}

// submitRequest is the body of POST /api/runs.
type submitRequest struct {
	Requirement string `json:"requirement"`
}

func owner(r *http.Request) string {
	subject, _ := auth.SubjectFromContext(r.Context())
	return subject
}

// HandleSubmit starts a run.
//
// HTTP: POST /api/runs
// REQUEST BODY: {"requirement": "write a function that adds two numbers"}
//
// The run continues after this request returns, so the answer is
// 202 Accepted with the queued run and a Location to poll or stream.
func (h *RunHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	run, err := h.runs.Submit(r.Context(), owner(r), req.Requirement)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

// HandleList returns runs newest first.
//
// HTTP: GET /api/runs?limit=20&offset=0&status=succeeded
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	runs, err := h.runs.List(r.Context(), owner(r), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func listOptions(r *http.Request) (repository.ListOptions, error) {
	q := r.URL.Query()
	var opts repository.ListOptions

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apperror.ValidationFailed("limit", "limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, apperror.ValidationFailed("offset", "offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	if v := q.Get("status"); v != "" {
		status := model.RunStatus(v)
		switch status {
		case model.StatusQueued, model.StatusRunning, model.StatusSucceeded,
			model.StatusExhausted, model.StatusFailed, model.StatusCanceled:
		default:
			return opts, apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", v))
		}
		opts.Status = status
	}
	return opts.Normalize(), nil
}

// HandleGet returns one run.
//
// HTTP: GET /api/runs/{id}
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleEvents returns the snapshot history of a run.
//
// HTTP: GET /api/runs/{id}/events
func (h *RunHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.runs.Events(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleCancel stops an active run.
//
// HTTP: POST /api/runs/{id}/cancel
//
// The run stops once its current step returns, so the answer is 202 and
// the run as it stands now.
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runs.Cancel(r.Context(), owner(r), id); err != nil {
		writeError(w, err)
		return
	}

	run, err := h.runs.Get(r.Context(), owner(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// HandleStream sends a run's snapshots as Server-Sent Events.
//
// HTTP: GET /api/runs/{id}/stream
//
// WIRE FORMAT (text/event-stream):
//
//	event: snapshot
//	id: 3
//	data: {"runId":"...","seq":3,"state":"execute","record":{...}}
//
//	event: done
//	data: {"id":"...","status":"succeeded",...}
//
// Snapshots already stored are replayed first, so a client that connects
// late (or reconnects) still sees the whole run. The stream ends with one
// "done" event carrying the final run.
//
// ORDERING:
// We subscribe BEFORE reading the history. Anything published in between
// shows up in both; Seq tells the duplicates apart.
func (h *RunHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	who := owner(r)

	live, unsubscribe, err := h.runs.Subscribe(ctx, who, id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	history, err := h.runs.Events(ctx, who, id)
	if err != nil {
		writeError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server's WriteTimeout would cut a long run off mid-stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("could not clear write deadline", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := 0
	send := func(events []model.RunEvent) error {
		for _, ev := range events {
			if ev.Seq <= last {
				continue
			}
			if err := writeEvent(w, "snapshot", strconv.Itoa(ev.Seq), ev); err != nil {
				return err
			}
			last = ev.Seq
		}
		return rc.Flush()
	}

	if err := send(history); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for open := true; open; {
		select {
		case ev, ok := <-live:
			if !ok {
				open = false
				break
			}
			if err := send([]model.RunEvent{ev}); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}

	// A slow stream may have missed live events; the stored history is complete.
	if rest, err := h.runs.Events(ctx, who, id); err == nil {
		if err := send(rest); err != nil {
			return
		}
	}

	run, err := h.runs.Get(ctx, who, id)
	if err != nil {
		h.logger.Error("failed to load finished run", slog.String("run_id", id), slog.String("error", err.Error()))
		return
	}
	if err := writeEvent(w, "done", "", run); err != nil {
		return
	}
	_ = rc.Flush()
}

// writeEvent writes one SSE event. json.Marshal never emits a raw newline,
// so the payload always fits on a single data line.
func writeEvent(w http.ResponseWriter, name, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("handler: encoding %s event: %w", name, err)
	}
	if id != "" {
		_, err = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", name, id, payload)
	} else {
		_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	}
	return err
}
