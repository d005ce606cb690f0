package engine

import (
	"context"
	"sync"
	"time"
)

// sessionState tracks the lifecycle of a session record. Transitions are
// one-way: created -> streamBound -> closed. A closed session is never
// resurrected; its id is removed from the registry and never re-issued.
type sessionState int

const (
	stateCreated sessionState = iota
	stateStreamBound
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateStreamBound:
		return "stream_bound"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// sessionRecord is the registry entry for one live session. All mutable
// fields are guarded by mu; sessions never share state with each other.
type sessionRecord struct {
	id         string // raw session id (the sealed form travels on the wire)
	userID     string
	clientName string
	createdAt  time.Time

	mu           sync.Mutex
	state        sessionState
	streamEpoch  uint64
	streamCancel context.CancelCauseFunc
	subs         map[string]*subscription // feed URI -> recurring task
}

// streamBound reports whether a live stream is currently attached. The
// notification path checks this per tick: updates for an unbound session are
// dropped, not queued.
func (r *sessionRecord) streamBound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateStreamBound && r.streamCancel != nil
}

// subscription is one recurring feed task: a single goroutine that ticks at a
// fixed cadence, snapshots the feed, and publishes to the session's stream.
type subscription struct {
	uri    string
	symbol string
	cancel context.CancelFunc
	done   chan struct{} // closed when the ticker goroutine has exited
}

// SessionHandle is the engine's per-request view of a session, produced by
// InitializeSession or LoadSession and consumed by the transport layer.
type SessionHandle struct {
	rec      *sessionRecord
	sealedID string
}

// SessionID returns the sealed session id as it travels on the wire.
func (s *SessionHandle) SessionID() string { return s.sealedID }

// UserID returns the authenticated principal the session is bound to.
func (s *SessionHandle) UserID() string { return s.rec.userID }

// State returns the session's lifecycle state name for logging.
func (s *SessionHandle) State() string {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	return s.rec.state.String()
}
