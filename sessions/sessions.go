// Package sessions defines the SessionHost contract: ordered, per-session
// outbound message logs with resume-by-event-id semantics. The engine owns
// session lifecycle and subscription state; hosts own only message transport,
// which is the part that must scale horizontally.
package sessions

import (
	"context"
	"errors"
)

// ErrSessionNotFound indicates the named session id is unknown to the server.
var ErrSessionNotFound = errors.New("session not found")

// MessageHandlerFunction handles ordered messages for a session stream.
// If the handler returns an error, the subscription terminates with that error.
type MessageHandlerFunction func(ctx context.Context, msgID string, msg []byte) error

// SessionHost provides ordered per-session messaging with resume via
// lastEventID. Implementations must be safe for concurrent use and must
// preserve publish order within a session.
type SessionHost interface {
	// PublishSession appends data to the session's ordered log and returns the
	// assigned event id.
	PublishSession(ctx context.Context, sessionID string, data []byte) (eventID string, err error)

	// SubscribeSession delivers messages for the session to handler, starting
	// after lastEventID (or only new messages when empty), until ctx is
	// cancelled, the handler errors, or the session is cleaned up.
	SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunction) error

	// CleanupSession discards the session's log and terminates any active
	// subscribers. Idempotent.
	CleanupSession(ctx context.Context, sessionID string) error
}
