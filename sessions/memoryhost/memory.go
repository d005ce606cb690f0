// Package memoryhost is an in-memory SessionHost for single-process
// deployments and tests. Event ids are monotonic ULIDs so they sort in
// publish order, matching the resume semantics of the Redis-backed host.
package memoryhost

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/marketmux/marketmux/sessions"
)

// Host is an in-memory implementation of sessions.SessionHost.
type Host struct {
	mu   sync.Mutex
	logs map[string]*sessionLog

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

type message struct {
	id   string
	data []byte
}

type sessionLog struct {
	mu     sync.Mutex
	msgs   []message
	notify chan struct{}
	closed bool
}

func New() *Host {
	return &Host{
		logs:    make(map[string]*sessionLog),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

var _ sessions.SessionHost = (*Host)(nil)

func (h *Host) nextEventID() string {
	h.entropyMu.Lock()
	defer h.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), h.entropy).String()
}

func (h *Host) ensureLog(sessionID string) *sessionLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	sl, ok := h.logs[sessionID]
	if !ok {
		sl = &sessionLog{notify: make(chan struct{})}
		h.logs[sessionID] = sl
	}
	return sl
}

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	sl := h.ensureLog(sessionID)
	id := h.nextEventID()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.closed {
		return "", fmt.Errorf("session %s closed", sessionID)
	}
	sl.msgs = append(sl.msgs, message{id: id, data: append([]byte(nil), data...)})
	close(sl.notify)
	sl.notify = make(chan struct{})
	return id, nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunction) error {
	sl := h.ensureLog(sessionID)

	sl.mu.Lock()
	idx := len(sl.msgs)
	if lastEventID != "" {
		found := false
		for i := range sl.msgs {
			if sl.msgs[i].id == lastEventID {
				idx = i + 1
				found = true
				break
			}
		}
		if !found {
			sl.mu.Unlock()
			return fmt.Errorf("last event id %s not found", lastEventID)
		}
	}
	sl.mu.Unlock()

	for {
		sl.mu.Lock()
		var batch []message
		if idx < len(sl.msgs) {
			batch = make([]message, len(sl.msgs)-idx)
			copy(batch, sl.msgs[idx:])
			idx = len(sl.msgs)
		}
		closed := sl.closed
		notify := sl.notify
		sl.mu.Unlock()

		for _, m := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := handler(ctx, m.id, m.data); err != nil {
				return err
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

func (h *Host) CleanupSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	sl, ok := h.logs[sessionID]
	if ok {
		delete(h.logs, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.closed {
		sl.closed = true
		close(sl.notify)
	}
	return nil
}
