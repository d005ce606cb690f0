package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestRequestIDPreservesWireForm(t *testing.T) {
	cases := []struct {
		name string
		id   *RequestID
		want string
	}{
		{"string", NewRequestID("req-1"), `"req-1"`},
		{"int", NewRequestID(42), `42`},
		{"float", NewRequestID(1.5), `1.5`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.id)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != tc.want {
				t.Fatalf("got %s, want %s", b, tc.want)
			}
			if tc.id.IsNil() {
				t.Fatal("constructed id reported nil; request would degrade to a notification")
			}
		})
	}
}

func TestRequestIDNilMeansNotification(t *testing.T) {
	var id *RequestID
	if !id.IsNil() {
		t.Fatal("nil id must report IsNil")
	}
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "null" {
		t.Fatalf("got %s, want null", b)
	}
}

func TestRequestIDUnmarshalRejectsNonScalar(t *testing.T) {
	var id RequestID
	if err := json.Unmarshal([]byte(`{"bad":true}`), &id); err == nil {
		t.Fatal("object id accepted")
	}
	if err := json.Unmarshal([]byte(`[1]`), &id); err == nil {
		t.Fatal("array id accepted")
	}
}
