package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PresencePrefix namespaces liveness keys in Redis.
const PresencePrefix = "session:presence:"

// RedisPresence tracks session liveness as Redis keys that expire after the idle TTL.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresence creates a presence tracker.
func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	return &RedisPresence{client: client, ttl: ttl}
}

func presenceKey(id uuid.UUID) string {
	return PresencePrefix + id.String()
}

// Touch (re)arms the idle timer.
func (p *RedisPresence) Touch(ctx context.Context, id uuid.UUID) error {
	if err := p.client.Set(ctx, presenceKey(id), time.Now().UTC().Format(time.RFC3339), p.ttl).Err(); err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	return nil
}

// Alive reports whether the session was seen within the idle TTL.
func (p *RedisPresence) Alive(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := p.client.Exists(ctx, presenceKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("presence check: %w", err)
	}
	return n > 0, nil
}

// Clear drops the liveness key.
func (p *RedisPresence) Clear(ctx context.Context, id uuid.UUID) error {
	if err := p.client.Del(ctx, presenceKey(id)).Err(); err != nil {
		return fmt.Errorf("presence clear: %w", err)
	}
	return nil
}
