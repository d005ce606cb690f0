package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// RequestID is the caller-supplied correlation id of a JSON-RPC request. The
// spec allows strings and numbers; we preserve whichever form the caller used
// so the response correlates byte-for-byte.
type RequestID struct {
	value any
}

// NewRequestID wraps a string or numeric value as a RequestID. The constraint
// rules out unsupported id types at compile time; a nil id (a notification) is
// expressed by passing nil where a *RequestID is expected, never by this
// constructor.
func NewRequestID[T string | int | int8 | int16 | int32 | int64 | uint | uint8 | uint16 | uint32 | uint64 | float32 | float64](value T) *RequestID {
	return &RequestID{value: value}
}

// String renders the id for logging and map keys. Nil ids render empty.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IsNil reports whether the id is absent (a notification).
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
}
