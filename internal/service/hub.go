package service

import (
	"log/slog"
	"sync"

	"github.com/sakif/agentcoder/internal/model"
)

// subscriberBuffer comfortably holds every snapshot of one run: generate,
// test, four executes, three debugs and the terminal snapshot.
const subscriberBuffer = 32

// hub fans run events out to live subscribers (SSE streams).
//
// Publishing never blocks the run: a subscriber whose buffer is full misses
// the event, and it can always re-read the full history from the repository.
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan model.RunEvent]struct{}
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		subs:   make(map[string]map[chan model.RunEvent]struct{}),
		logger: logger,
	}
}

// subscribe registers a channel for runID. The returned func unsubscribes
// and is safe to call after the run has finished.
func (h *hub) subscribe(runID string) (<-chan model.RunEvent, func()) {
	ch := make(chan model.RunEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan model.RunEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[runID][ch]; ok {
			delete(h.subs[runID], ch)
			close(ch)
			if len(h.subs[runID]) == 0 {
				delete(h.subs, runID)
			}
		}
	}
}

func (h *hub) publish(ev model.RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				slog.String("run_id", ev.RunID),
				slog.Int("seq", ev.Seq),
			)
		}
	}
}

// close ends every subscription of runID.
func (h *hub) close(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[runID] {
		close(ch)
	}
	delete(h.subs, runID)
}

func (h *hub) count(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}
