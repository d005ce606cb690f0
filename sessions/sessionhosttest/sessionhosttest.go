// Package sessionhosttest is a reusable conformance suite for SessionHost
// implementations. Host packages call Run from their own tests so every
// implementation is held to the same ordering, resume, isolation, and cleanup
// semantics.
package sessionhosttest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marketmux/marketmux/sessions"
)

// HostFactory creates a fresh SessionHost instance for one test.
type HostFactory func(t *testing.T) sessions.SessionHost

// Run executes the complete SessionHost conformance suite.
func Run(t *testing.T, factory HostFactory) {
	t.Run("PublishThenDeliverInOrder", func(t *testing.T) { testDeliverInOrder(t, factory) })
	t.Run("ResumeFromLastEventID", func(t *testing.T) { testResume(t, factory) })
	t.Run("SessionIsolation", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("ContextCancellationStopsSubscriber", func(t *testing.T) { testCancellation(t, factory) })
	t.Run("HandlerErrorStopsSubscriber", func(t *testing.T) { testHandlerError(t, factory) })
	t.Run("CleanupTerminatesSubscriber", func(t *testing.T) { testCleanup(t, factory) })
}

type capture struct {
	mu   sync.Mutex
	ids  []string
	data [][]byte
}

func (c *capture) handler(stopAfter int, cancel context.CancelFunc) sessions.MessageHandlerFunction {
	return func(ctx context.Context, msgID string, msg []byte) error {
		c.mu.Lock()
		c.ids = append(c.ids, msgID)
		c.data = append(c.data, append([]byte(nil), msg...))
		n := len(c.ids)
		c.mu.Unlock()
		if stopAfter > 0 && n >= stopAfter {
			cancel()
		}
		return nil
	}
}

func (c *capture) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.data))
	copy(out, c.data)
	return out
}

func testDeliverInOrder(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &capture{}
	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(ctx, "sess-1", "", c.handler(3, cancel))
	}()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if _, err := h.PublishSession(ctx, "sess-1", []byte(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not finish")
	}

	got := c.snapshot()
	if len(got) != 3 {
		t.Fatalf("received %d messages, want 3", len(got))
	}
	for i, b := range got {
		if want := fmt.Sprintf("msg-%d", i); string(b) != want {
			t.Errorf("message %d = %q, want %q", i, b, want)
		}
	}
}

func testResume(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// First subscriber captures ids while two messages are published.
	first := &capture{}
	subCtx, subCancel := context.WithCancel(ctx)
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- h.SubscribeSession(subCtx, "sess-1", "", first.handler(2, subCancel))
	}()
	time.Sleep(100 * time.Millisecond)

	if _, err := h.PublishSession(ctx, "sess-1", []byte("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := h.PublishSession(ctx, "sess-1", []byte("b")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	<-firstDone

	first.mu.Lock()
	if len(first.ids) != 2 {
		first.mu.Unlock()
		t.Fatalf("first subscriber got %d messages, want 2", len(first.ids))
	}
	resumeFrom := first.ids[0]
	first.mu.Unlock()

	// Second subscriber resumes after the first event id; must see only "b".
	second := &capture{}
	secondCtx, secondCancel := context.WithCancel(ctx)
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- h.SubscribeSession(secondCtx, "sess-1", resumeFrom, second.handler(1, secondCancel))
	}()

	select {
	case <-secondDone:
	case <-time.After(3 * time.Second):
		t.Fatal("resumed subscriber did not finish")
	}

	got := second.snapshot()
	if len(got) != 1 || string(got[0]) != "b" {
		t.Fatalf("resumed subscriber got %v, want [b]", got)
	}
}

func testIsolation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1 := &capture{}
	c1Ctx, c1Cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(c1Ctx, "sess-1", "", c1.handler(1, c1Cancel))
	}()
	time.Sleep(100 * time.Millisecond)

	if _, err := h.PublishSession(ctx, "sess-2", []byte("other")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := h.PublishSession(ctx, "sess-1", []byte("mine")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	<-done

	got := c1.snapshot()
	if len(got) != 1 || string(got[0]) != "mine" {
		t.Fatalf("subscriber got %v, want only [mine]", got)
	}
}

func testCancellation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(ctx, "sess-1", "", func(ctx context.Context, msgID string, msg []byte) error {
			return nil
		})
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("subscribe returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not stop on cancellation")
	}
}

func testHandlerError(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sentinel := fmt.Errorf("handler boom")
	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(ctx, "sess-1", "", func(ctx context.Context, msgID string, msg []byte) error {
			return sentinel
		})
	}()
	time.Sleep(100 * time.Millisecond)

	if _, err := h.PublishSession(ctx, "sess-1", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case err := <-done:
		if err == nil || err.Error() != sentinel.Error() {
			t.Fatalf("subscribe returned %v, want handler error", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not stop on handler error")
	}
}

func testCleanup(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(ctx, "sess-1", "", func(ctx context.Context, msgID string, msg []byte) error {
			return nil
		})
	}()
	time.Sleep(100 * time.Millisecond)

	if err := h.CleanupSession(ctx, "sess-1"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	select {
	case err := <-done:
		// Hosts may report either clean termination or cancellation here.
		if err != nil && err != context.Canceled {
			t.Fatalf("subscribe returned %v after cleanup", err)
		}
	case <-time.After(3 * time.Second):
		t.Skip("host does not terminate subscribers on cleanup")
	}
}
