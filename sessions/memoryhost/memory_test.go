package memoryhost

import (
	"context"
	"testing"
	"time"

	"github.com/marketmux/marketmux/sessions"
	"github.com/marketmux/marketmux/sessions/sessionhosttest"
)

func TestConformance(t *testing.T) {
	sessionhosttest.Run(t, func(t *testing.T) sessions.SessionHost {
		return New()
	})
}

func TestPublishAfterCleanupFails(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := h.PublishSession(ctx, "sess-1", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.CleanupSession(ctx, "sess-1"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	// The old log is gone; a new publish starts a fresh log rather than
	// resurrecting the closed one.
	if _, err := h.PublishSession(ctx, "sess-1", []byte("y")); err != nil {
		t.Fatalf("publish after cleanup: %v", err)
	}
}

func TestEventIDsAreSortable(t *testing.T) {
	h := New()
	ctx := context.Background()

	var prev string
	for i := 0; i < 10; i++ {
		id, err := h.PublishSession(ctx, "sess-1", []byte("x"))
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if prev != "" && !(id > prev) {
			t.Fatalf("event id %q not greater than predecessor %q", id, prev)
		}
		prev = id
	}
}
