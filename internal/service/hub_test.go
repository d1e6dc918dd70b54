package service

import (
	"log/slog"
	"os"
	"testing"

	"github.com/sakif/agentcoder/internal/model"
)

func newTestHub() *hub {
	return newHub(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestHub_PublishReachesOnlyThatRun(t *testing.T) {
	h := newTestHub()
	a, unsubA := h.subscribe("a")
	defer unsubA()
	b, unsubB := h.subscribe("b")
	defer unsubB()

	h.publish(model.RunEvent{RunID: "a", Seq: 1})

	if ev := <-a; ev.Seq != 1 {
		t.Errorf("Seq = %d, want 1", ev.Seq)
	}
	select {
	case ev := <-b:
		t.Errorf("subscriber of b got %+v", ev)
	default:
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := newTestHub()
	ch, unsubscribe := h.subscribe("a")
	defer unsubscribe()

	for i := 1; i <= subscriberBuffer+5; i++ {
		h.publish(model.RunEvent{RunID: "a", Seq: i})
	}

	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
	if ev := <-ch; ev.Seq != 1 {
		t.Errorf("first Seq = %d, want 1", ev.Seq)
	}
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	h := newTestHub()
	ch, unsubscribe := h.subscribe("a")
	h.subscribe("a")

	if n := h.count("a"); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	h.close("a")
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if n := h.count("a"); n != 0 {
		t.Errorf("count after close = %d, want 0", n)
	}

	// Unsubscribing after close must not close the channel twice.
	unsubscribe()
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := newTestHub()
	_, unsubscribe := h.subscribe("a")

	unsubscribe()
	unsubscribe()

	if n := h.count("a"); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	h.publish(model.RunEvent{RunID: "a", Seq: 1})
}
