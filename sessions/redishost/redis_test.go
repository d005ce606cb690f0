package redishost

import (
	"os"
	"testing"

	"github.com/marketmux/marketmux/sessions"
	"github.com/marketmux/marketmux/sessions/sessionhosttest"
)

// TestConformance exercises the shared SessionHost suite against a live Redis.
// Set REDIS_TEST_ADDR to run, e.g. REDIS_TEST_ADDR=localhost:6379.
func TestConformance(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	sessionhosttest.Run(t, func(t *testing.T) sessions.SessionHost {
		h, err := New(Config{RedisAddr: addr, KeyPrefix: "marketmux:test:" + t.Name() + ":"})
		if err != nil {
			t.Fatalf("connect redis: %v", err)
		}
		t.Cleanup(func() { _ = h.Close() })
		return h
	})
}
