// Package redishost is a Redis Streams SessionHost for horizontally scaled
// deployments: any instance can publish into a session's stream and any
// instance can serve the attached client.
package redishost

import (
	"context"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/marketmux/marketmux/sessions"
)

// Config for the Redis-backed SessionHost. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=marketmux:sessions:"`
	// StreamTTL bounds how long an idle session stream survives. ENV: SESSIONS_STREAM_TTL
	StreamTTL time.Duration `env:"SESSIONS_STREAM_TTL,default=24h"`
}

type Host struct {
	client    *redis.Client
	keyPrefix string
	streamTTL time.Duration
}

var _ sessions.SessionHost = (*Host)(nil)

func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "marketmux:sessions:"
	}
	ttl := cfg.StreamTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Host{client: cl, keyPrefix: prefix, streamTTL: ttl}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode redis host config: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) streamKey(sessionID string) string { return h.keyPrefix + "stream:" + sessionID }

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	key := h.streamKey(sessionID)
	id, err := h.client.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: map[string]any{"d": data}}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	// Sliding idle expiry; a dead session's stream eventually disappears even
	// if cleanup never ran.
	_ = h.client.Expire(ctx, key, h.streamTTL).Err()
	return id, nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunction) error {
	key := h.streamKey(sessionID)
	cursor := lastEventID
	if cursor == "" {
		cursor = "$" // only messages published after attach
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, cursor},
			Count:   16,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xread: %w", err)
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			cursor = m.ID
			var payload []byte
			switch v := m.Values["d"].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				payload = []byte(fmt.Sprintf("%v", v))
			}
			if err := handler(ctx, m.ID, payload); err != nil {
				return err
			}
		}
	}
}

func (h *Host) CleanupSession(ctx context.Context, sessionID string) error {
	return h.client.Del(ctx, h.streamKey(sessionID)).Err()
}
