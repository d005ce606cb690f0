// Package engine is the core of a marketmux server: it owns the session
// registry, routes JSON-RPC requests to their handlers, runs the recurring
// subscription tasks, and coordinates cleanup on stream close, explicit
// termination, and process shutdown. It is transport-agnostic; the HTTP layer
// drives it through SessionHandle values.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketmux/marketmux/feed"
	"github.com/marketmux/marketmux/internal/jsonrpc"
	"github.com/marketmux/marketmux/internal/logctx"
	"github.com/marketmux/marketmux/internal/sessionseal"
	"github.com/marketmux/marketmux/sessions"
	"github.com/marketmux/marketmux/wire"
)

const (
	defaultTickInterval  = 1 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

// ErrStreamSuperseded terminates the previous stream when a newer attach
// replaces it. A session holds at most one bound stream; the transport treats
// this as a normal end of the old response, not a session teardown.
var ErrStreamSuperseded = errors.New("stream superseded by a newer attach")

var errSessionClosed = errors.New("session closed")

type handlerFunc func(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error)

// Engine coordinates sessions, subscriptions, and notification delivery. It
// is safe for concurrent use; per-session state hides behind each record's
// own mutex so sessions never contend with one another.
type Engine struct {
	host     sessions.SessionHost
	quotes   feed.QuoteProvider
	accounts feed.AccountProvider
	catalog  *feed.Catalog
	sealer   sessionseal.Sealer
	log      *slog.Logger

	serverInfo    wire.ServerInfo
	tickInterval  time.Duration
	shutdownGrace time.Duration

	// Closed dispatch table, built once at construction. Lookups never
	// allocate and unknown methods fall out in one map probe.
	handlers map[string]handlerFunc

	mu       sync.Mutex
	registry map[string]*sessionRecord // raw session id -> record
}

// NewEngine builds an engine over a session host, the feed collaborators, and
// a session id sealer.
func NewEngine(host sessions.SessionHost, quotes feed.QuoteProvider, accounts feed.AccountProvider, catalog *feed.Catalog, sealer sessionseal.Sealer, opts ...EngineOption) *Engine {
	e := &Engine{
		host:          host,
		quotes:        quotes,
		accounts:      accounts,
		catalog:       catalog,
		sealer:        sealer,
		log:           slog.Default(),
		serverInfo:    wire.ServerInfo{Name: "marketmux"},
		tickInterval:  defaultTickInterval,
		shutdownGrace: defaultShutdownGrace,
		registry:      make(map[string]*sessionRecord),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.handlers = map[string]handlerFunc{
		string(wire.PingMethod):              e.handlePing,
		string(wire.FeedsSubscribeMethod):    e.handleFeedsSubscribe,
		string(wire.FeedsUnsubscribeMethod):  e.handleFeedsUnsubscribe,
		string(wire.MarketQuoteMethod):       e.handleMarketQuote,
		string(wire.MarketCandlesMethod):     e.handleMarketCandles,
		string(wire.MarketSymbolsMethod):     e.handleMarketSymbols,
		string(wire.MarketDescribeMethod):    e.handleMarketDescribe,
		string(wire.AccountsListMethod):      e.handleAccountsList,
		string(wire.AccountsPositionsMethod): e.handleAccountsPositions,
	}

	return e
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithServerInfo overrides the identity reported in initialize results.
func WithServerInfo(info wire.ServerInfo) EngineOption {
	return func(e *Engine) { e.serverInfo = info }
}

// WithTickInterval overrides the fixed cadence of subscription updates.
func WithTickInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// WithShutdownGrace bounds how long Shutdown waits for in-flight subscription
// tasks before abandoning them.
func WithShutdownGrace(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.shutdownGrace = d
		}
	}
}

// InitializeSession creates a session record for userID and returns its
// handle alongside the initialize result payload. The sealed session id
// travels back to the client out-of-band in the session header.
func (e *Engine) InitializeSession(ctx context.Context, userID string, req *wire.InitializeRequest) (*SessionHandle, *wire.InitializeResult, error) {
	if req == nil {
		return nil, nil, errors.New("initialize request required")
	}

	sid := uuid.NewString()
	sealed, err := e.sealer.Seal(sid, userID)
	if err != nil {
		return nil, nil, err
	}

	rec := &sessionRecord{
		id:         sid,
		userID:     userID,
		clientName: req.ClientInfo.Name,
		createdAt:  time.Now(),
		state:      stateCreated,
	}

	e.mu.Lock()
	e.registry[sid] = rec
	e.mu.Unlock()

	e.log.InfoContext(ctx, "engine.session.create",
		slog.String("sess_id", sid),
		slog.String("client", req.ClientInfo.Name),
	)

	res := &wire.InitializeResult{
		ServerInfo: e.serverInfo,
		FeedCount:  len(e.catalog.Symbols()),
	}
	return &SessionHandle{rec: rec, sealedID: sealed}, res, nil
}

// LoadSession resolves a sealed session id presented by userID. Every failure
// mode collapses to ErrSessionNotFound: a forged or tampered id, an id sealed
// for a different principal, and an id the registry no longer knows are
// indistinguishable to the caller.
func (e *Engine) LoadSession(ctx context.Context, sealedID, userID string) (*SessionHandle, error) {
	sid, owner, err := e.sealer.Open(sealedID)
	if err != nil || owner != userID {
		return nil, sessions.ErrSessionNotFound
	}

	e.mu.Lock()
	rec, ok := e.registry[sid]
	e.mu.Unlock()
	if !ok || rec.userID != userID {
		return nil, sessions.ErrSessionNotFound
	}

	rec.mu.Lock()
	closed := rec.state == stateClosed
	rec.mu.Unlock()
	if closed {
		return nil, sessions.ErrSessionNotFound
	}

	return &SessionHandle{rec: rec, sealedID: sealedID}, nil
}

// StreamSession binds a stream to the session and delivers its ordered
// messages to handler until the stream ends. A session holds at most one
// bound stream: a newer attach cancels the previous one, which returns
// ErrStreamSuperseded without tearing the session down. Any other end of the
// stream closes the session.
func (e *Engine) StreamSession(ctx context.Context, sess *SessionHandle, lastEventID string, handler sessions.MessageHandlerFunction) error {
	rec := sess.rec

	rec.mu.Lock()
	if rec.state == stateClosed {
		rec.mu.Unlock()
		return sessions.ErrSessionNotFound
	}
	if rec.streamCancel != nil {
		rec.streamCancel(ErrStreamSuperseded)
	}
	streamCtx, cancel := context.WithCancelCause(ctx)
	rec.streamCancel = cancel
	rec.streamEpoch++
	epoch := rec.streamEpoch
	rec.state = stateStreamBound
	rec.mu.Unlock()

	err := e.host.SubscribeSession(streamCtx, rec.id, lastEventID, handler)

	rec.mu.Lock()
	superseded := rec.streamEpoch != epoch
	if !superseded && rec.streamCancel != nil {
		rec.streamCancel(nil)
		rec.streamCancel = nil
	}
	rec.mu.Unlock()

	if superseded || errors.Is(context.Cause(streamCtx), ErrStreamSuperseded) {
		return ErrStreamSuperseded
	}
	if errors.Is(context.Cause(streamCtx), errSessionClosed) {
		// Teardown already ran via TerminateSession or Shutdown.
		return nil
	}

	// The bound stream went away for real (client disconnect or handler
	// failure): the session dies with it.
	e.closeSession(context.WithoutCancel(ctx), rec, "stream_closed")
	return err
}

// TerminateSession explicitly closes the session: cancels its subscriptions,
// unbinds any live stream, removes it from the registry, and discards its
// host-side log. Idempotent.
func (e *Engine) TerminateSession(ctx context.Context, sess *SessionHandle) error {
	e.closeSession(ctx, sess.rec, "terminated")
	return nil
}

// Shutdown closes every registered session and waits up to the grace period
// for their subscription tasks to finish; stragglers are abandoned, not
// awaited.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	recs := make([]*sessionRecord, 0, len(e.registry))
	for _, rec := range e.registry {
		recs = append(recs, rec)
	}
	e.mu.Unlock()

	var cancelled []*subscription
	for _, rec := range recs {
		cancelled = append(cancelled, e.closeSession(ctx, rec, "shutdown")...)
	}

	deadline := time.NewTimer(e.shutdownGrace)
	defer deadline.Stop()
	for _, sub := range cancelled {
		select {
		case <-sub.done:
		case <-deadline.C:
			e.log.WarnContext(ctx, "engine.shutdown.grace_elapsed",
				slog.Int("sessions", len(recs)),
			)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.log.InfoContext(ctx, "engine.shutdown.ok", slog.Int("sessions", len(recs)))
	return nil
}

// closeSession applies the cleanup sequence: mark closed, cancel all
// subscriptions, unbind the stream, remove from registry, discard the host
// log. Safe to call multiple times; only the first caller does work. Returns
// the subscriptions it cancelled so shutdown can await them.
func (e *Engine) closeSession(ctx context.Context, rec *sessionRecord, reason string) []*subscription {
	rec.mu.Lock()
	if rec.state == stateClosed {
		rec.mu.Unlock()
		return nil
	}
	rec.state = stateClosed
	if rec.streamCancel != nil {
		rec.streamCancel(errSessionClosed)
		rec.streamCancel = nil
	}
	subs := rec.subs
	rec.subs = nil
	rec.mu.Unlock()

	cancelled := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		sub.cancel()
		cancelled = append(cancelled, sub)
	}

	e.mu.Lock()
	delete(e.registry, rec.id)
	e.mu.Unlock()

	if err := e.host.CleanupSession(context.WithoutCancel(ctx), rec.id); err != nil {
		e.log.ErrorContext(ctx, "engine.session.cleanup.fail",
			slog.String("sess_id", rec.id),
			slog.String("err", err.Error()),
		)
	}

	e.log.InfoContext(ctx, "engine.session.close",
		slog.String("sess_id", rec.id),
		slog.String("reason", reason),
		slog.Int("subscriptions", len(cancelled)),
	)
	return cancelled
}

// HandleRequest routes one session-scoped request through the dispatch table
// and returns the correlated response. Errors worth reporting to the client
// come back as error responses, not Go errors; a non-nil error here means the
// exchange itself broke.
func (e *Engine) HandleRequest(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})

	if req.Method == string(wire.InitializeMethod) {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil), nil
	}

	h, ok := e.handlers[req.Method]
	if !ok {
		e.log.InfoContext(ctx, "engine.handle_request.unknown_method",
			slog.String("method", req.Method),
		)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found", nil), nil
	}

	res, err := h(ctx, sess, req)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail",
			slog.String("method", req.Method),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	e.log.InfoContext(ctx, "engine.handle_request.ok",
		slog.String("method", req.Method),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}
