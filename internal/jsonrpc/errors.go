package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Server-defined codes (-32000 to -32099 reserved for implementations).
const (
	// ErrorCodeUnauthorized indicates the bearer credential was missing,
	// invalid, or expired. Deliberately distinct from ErrorCodeInternalError so
	// connected clients can tell an auth failure from a server fault without
	// re-triggering interactive authorization.
	ErrorCodeUnauthorized ErrorCode = -32001
	// ErrorCodeSessionNotFound indicates the request named a session id the
	// server does not know.
	ErrorCodeSessionNotFound ErrorCode = -32002
	// ErrorCodeNotStreamable indicates a feeds/subscribe URI outside the
	// streamable catalog.
	ErrorCodeNotStreamable ErrorCode = -32003
)
