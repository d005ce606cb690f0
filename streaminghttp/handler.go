package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/marketmux/marketmux/auth"
	"github.com/marketmux/marketmux/internal/engine"
	"github.com/marketmux/marketmux/internal/jsonrpc"
	"github.com/marketmux/marketmux/internal/logctx"
	"github.com/marketmux/marketmux/internal/wellknown"
	"github.com/marketmux/marketmux/sessions"
	"github.com/marketmux/marketmux/wire"
)

var _ http.Handler = (*StreamingHTTPHandler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Canonical header names; Go matches headers case-insensitively.
	lastEventIDHeader     = "Last-Event-ID"
	sessionIDHeader       = "Mm-Session-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC exchange is possible. This is transport-level, not JSON-RPC
// framing. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	serverName string
	logger     *slog.Logger
	realm      string
	issuer     string
	jwksURI    string
	scopes     []string
}

// WithServerName sets the human-readable name surfaced in the protected
// resource metadata document.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger sets the logger used by the handler.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRealm sets the HTTP authentication realm advertised in WWW-Authenticate
// challenges. Empty (the default) omits the realm attribute entirely; RFC
// 6750 makes it optional.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithAuthorizationServer advertises the issuer and key material in the
// protected resource metadata document so clients can discover how to obtain
// a token.
func WithAuthorizationServer(issuer, jwksURI string, scopes ...string) Option {
	return func(c *newConfig) {
		c.issuer = issuer
		c.jwksURI = jwksURI
		c.scopes = scopes
	}
}

// buildBearerChallenge builds an RFC 6750 Bearer challenge header value.
// Go map iteration is randomized, so known params are emitted in a fixed
// order.
func buildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 2+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if v, ok := params["error"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
	}
	if v, ok := params["error_description"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

func pathIfSet(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// StreamingHTTPHandler is the HTTP face of a marketmux server: POST carries
// JSON-RPC exchanges, GET attaches the session's SSE stream, DELETE
// terminates the session. It also serves the OAuth protected resource
// metadata document for authorization discovery.
type StreamingHTTPHandler struct {
	mux            *http.ServeMux
	log            *slog.Logger
	serverURL      *url.URL
	prmDocument    wellknown.ProtectedResourceMetadata
	prmDocumentURL *url.URL

	auth  auth.Authenticator
	eng   *engine.Engine
	realm string
}

// lockedWriteFlusher serializes concurrent writes/flushes to one response and
// refuses to write after ctx is cancelled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a StreamingHTTPHandler serving the engine at publicEndpoint.
//
// Required:
//   - publicEndpoint: externally visible URL of the RPC endpoint (scheme, host, path)
//   - eng: the session/subscription engine
//   - authenticator: bearer-token validator (auth.NewDisabled() admits everyone)
func New(publicEndpoint string, eng *engine.Engine, authenticator auth.Authenticator, opts ...Option) (*StreamingHTTPHandler, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	serverURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if serverURL.Scheme != "https" && serverURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", serverURL.Scheme)
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	h := &StreamingHTTPHandler{
		log:       slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		serverURL: serverURL,
		auth:      authenticator,
		eng:       eng,
		realm:     cfg.realm,
	}

	h.prmDocument = wellknown.ProtectedResourceMetadata{
		Resource:               serverURL.String(),
		BearerMethodsSupported: []string{"authorization_header"},
		ResourceName:           cfg.serverName,
		ScopesSupported:        cfg.scopes,
		JwksURI:                cfg.jwksURI,
	}
	if cfg.issuer != "" {
		h.prmDocument.AuthorizationServers = []string{cfg.issuer}
	}
	h.prmDocumentURL = &url.URL{
		Scheme: serverURL.Scheme,
		Host:   serverURL.Host,
		Path:   "/.well-known/oauth-protected-resource" + serverURL.Path,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", pathOnly(serverURL)), h.handlePostRPC)
	mux.HandleFunc(fmt.Sprintf("GET %s", pathOnly(serverURL)), h.handleGetStream)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", pathOnly(serverURL)), h.handleDeleteSession)
	prmPath := pathOnly(h.prmDocumentURL)
	mux.HandleFunc(fmt.Sprintf("GET %s", prmPath), h.handleGetProtectedResourceMetadata)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", prmPath), h.handleOptionsProtectedResourceMetadata)
	if !strings.HasSuffix(prmPath, "/") {
		mux.HandleFunc(fmt.Sprintf("GET %s/", prmPath), h.handleGetProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s/", prmPath), h.handleOptionsProtectedResourceMetadata)
	}
	h.mux = mux
	return h, nil
}

func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// authFailure captures why a credential was rejected so each endpoint can
// render the failure in its own shape.
type authFailure struct {
	status int
	params map[string]string // RFC 6750 challenge params; nil for bare challenge
	msg    string
}

// authenticate resolves the request principal without writing to the
// response. A missing Authorization header is admitted only when the
// authenticator explicitly allows anonymous access.
func (h *StreamingHTTPHandler) authenticate(ctx context.Context, r *http.Request) (auth.UserInfo, *authFailure) {
	authHeader := r.Header.Get(authorizationHeader)

	if authHeader == "" {
		if ac, ok := h.auth.(auth.AnonymousCapable); ok && ac.AllowsAnonymous() {
			userInfo, err := h.auth.CheckAuthentication(ctx, "")
			if err == nil {
				return userInfo, nil
			}
		}
		// RFC 6750 §3.1: no authentication information at all gets a bare
		// challenge without an error code.
		return nil, &authFailure{status: http.StatusUnauthorized, msg: "no authorization header"}
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix) {
		return nil, &authFailure{
			status: http.StatusBadRequest,
			params: map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"},
			msg:    "malformed bearer authorization header",
		}
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		return nil, &authFailure{
			status: http.StatusBadRequest,
			params: map[string]string{"error": "invalid_request", "error_description": "empty bearer token"},
			msg:    "empty bearer token",
		}
	}

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInsufficientScope):
			return nil, &authFailure{
				status: http.StatusForbidden,
				params: map[string]string{"error": "insufficient_scope", "error_description": err.Error()},
				msg:    err.Error(),
			}
		case errors.Is(err, auth.ErrUnauthorized):
			return nil, &authFailure{
				status: http.StatusUnauthorized,
				params: map[string]string{"error": "invalid_token", "error_description": err.Error()},
				msg:    err.Error(),
			}
		default:
			return nil, &authFailure{status: http.StatusInternalServerError, msg: err.Error()}
		}
	}
	return userInfo, nil
}

// checkAuthentication authenticates attach-style requests (GET/DELETE),
// writing the RFC 6750 challenge on failure. The challenge carries the
// protected resource metadata URL so clients can discover the authorization
// server.
func (h *StreamingHTTPHandler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) auth.UserInfo {
	userInfo, fail := h.authenticate(ctx, r)
	if fail == nil {
		return userInfo
	}

	h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", fail.msg))
	if fail.status != http.StatusInternalServerError {
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, pathIfSet(h.prmDocumentURL), fail.params))
	}
	w.WriteHeader(fail.status)
	return nil
}

// handlePostRPC carries one JSON-RPC exchange: session establishment when no
// session header is present, a session-scoped request otherwise. Responses to
// session-scoped requests are SSE-framed on the POST exchange itself; the GET
// stream is reserved for server push.
func (h *StreamingHTTPHandler) handlePostRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	// Auth failures on the RPC surface come back as a correlated JSON-RPC
	// error, not a bare challenge: a connected client keys off the error code
	// to distinguish a dead credential from a server fault.
	userInfo, fail := h.authenticate(ctx, r)
	if fail != nil {
		h.log.InfoContext(ctx, "auth.fail", slog.String("err", fail.msg))
		res := jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeUnauthorized, "unauthorized", nil)
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(fail.status)
		_ = json.NewEncoder(w).Encode(res)
		return
	}

	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, r, userInfo, &msg, start)
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.SessionID(),
		UserID:    sess.UserID(),
		State:     sess.State(),
	})

	req := msg.AsRequest()
	if req == nil {
		// We never issue server->client requests, so inbound responses have
		// nothing to correlate with. Accept and drop.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "jsonrpc.response.ignored")
		return
	}
	if req.Method == string(wire.InitializeMethod) {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	if req.ID.IsNil() {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ignored", slog.String("rpc_method", req.Method))
		return
	}

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	w.Header().Set(sessionIDHeader, sess.SessionID())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	res, err := h.eng.HandleRequest(ctx, sess, req)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}

	b, mErr := json.Marshal(res)
	if mErr != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", mErr.Error()))
		return
	}
	if err := writeSSEEvent(wf, "", b); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handleInitialize services the header-less POST that opens a session. Only
// initialize is accepted in that position; the new session id travels back in
// the session header and the result body is plain JSON.
func (h *StreamingHTTPHandler) handleInitialize(ctx context.Context, w http.ResponseWriter, r *http.Request, userInfo auth.UserInfo, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(wire.InitializeMethod) || req.ID.IsNil() {
		writeJSONError(w, http.StatusNotFound, "expected initialize request")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}

	var initReq wire.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}

	sess, initRes, err := h.eng.InitializeSession(ctx, userInfo.UserID(), &initReq)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.SessionID(), UserID: userInfo.UserID()})

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}

	w.Header().Set(sessionIDHeader, sess.SessionID())
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetStream attaches the session's SSE push stream. A session holds one
// stream at a time; a newer attach forcibly closes the previous one.
func (h *StreamingHTTPHandler) handleGetStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessionHeader := r.Header.Get(sessionIDHeader)
	if sessionHeader == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessionHeader, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.SessionID(),
		UserID:    sess.UserID(),
		State:     sess.State(),
	})

	lastEventID := r.Header.Get(lastEventIDHeader)

	w.Header().Set(sessionIDHeader, sess.SessionID())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	err = h.eng.StreamSession(ctx, sess, lastEventID, func(cbCtx context.Context, msgID string, payload []byte) error {
		if err := writeSSEEvent(wf, msgID, payload); err != nil {
			h.log.ErrorContext(cbCtx, "sse.write.fail", slog.String("err", err.Error()))
			return err
		}
		return nil
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	case errors.Is(err, engine.ErrStreamSuperseded):
		h.log.InfoContext(ctx, "sse.stream.superseded", slog.Duration("dur", time.Since(start)))
	default:
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

// handleDeleteSession explicitly terminates a session, cancelling its
// subscriptions and closing any bound stream.
func (h *StreamingHTTPHandler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.SessionID(),
		UserID:    sess.UserID(),
		State:     sess.State(),
	})

	if err := h.eng.TerminateSession(ctx, sess); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) handleOptionsProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProtectedResourceMetadata serves the OAuth 2.0 Protected Resource
// Metadata document (RFC 9728).
func (h *StreamingHTTPHandler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.prmDocument); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
	}
}

// writeSSEEvent writes one Server-Sent Event frame and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
