// Package streaminghttp implements the marketmux HTTP transport. It mounts as
// a standard net/http handler: POST carries JSON-RPC request/response
// exchanges, GET attaches the session's long-lived Server-Sent Events push
// stream, and DELETE terminates a session.
//
// Responsibilities
//   - Session establishment and validation (via the engine; ids travel in the
//     Mm-Session-Id header)
//   - Authentication (pluggable auth.Authenticator; bearer JWT or disabled)
//   - SSE framing for both POST responses and the push stream, with
//     Last-Event-ID resume on reattach
//
// Construction
//
//	h, err := streaminghttp.New(
//	    "https://api.example/rpc", // public endpoint
//	    eng,                       // *engine.Engine
//	    authenticator,             // auth.Authenticator
//	)
//
// # Scaling
//
// Horizontal scale relies on a shared sessions.SessionHost behind the engine.
// Ordering for a given session is preserved by the host's stream semantics,
// not sticky routing.
//
// # Error Handling
//
// Transport-level rejections map to HTTP status codes with a minimal JSON
// body; engine-level errors are serialized as JSON-RPC error responses.
// Authentication failures on attach-style requests surface a WWW-Authenticate
// challenge carrying the protected resource metadata URL; failures on the RPC
// surface come back as a correlated JSON-RPC error so connected clients can
// tell a dead credential from a server fault.
//
// Example (mount in net/http):
//
//	mux := http.NewServeMux()
//	mux.Handle("/", h)
//	http.ListenAndServe(":8080", mux)
package streaminghttp
