package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// GuardStore remembers the last day the daily reminder went out.
type GuardStore interface {
	// Claim records day as sent and reports whether it was not already.
	Claim(ctx context.Context, day string) (bool, error)
	// Release undoes a claim for day so the next tick retries.
	Release(ctx context.Context, day string) error
}

// MemoryGuard keeps the guard in process memory. A restart forgets it.
type MemoryGuard struct {
	mu   sync.Mutex
	last string
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{}
}

func (g *MemoryGuard) Claim(_ context.Context, day string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == day {
		return false, nil
	}
	g.last = day
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, day string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == day {
		g.last = ""
	}
	return nil
}

const (
	DefaultGuardKey = "medbook:reminders:appointments:last_sent"
	guardTTL        = 48 * time.Hour
)

// RedisGuard stores the guard in Redis so it survives restarts and is
// shared by every replica.
type RedisGuard struct {
	client redis.Cmdable
	key    string
}

func NewRedisGuard(client redis.Cmdable, key string) *RedisGuard {
	if key == "" {
		key = DefaultGuardKey
	}
	return &RedisGuard{client: client, key: key}
}

func (g *RedisGuard) Claim(ctx context.Context, day string) (bool, error) {
	prev, err := g.client.GetSet(ctx, g.key, day).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("claim reminder guard: %w", err)
	}
	if err := g.client.Expire(ctx, g.key, guardTTL).Err(); err != nil {
		return false, fmt.Errorf("expire reminder guard: %w", err)
	}
	return prev != day, nil
}

func (g *RedisGuard) Release(ctx context.Context, day string) error {
	cur, err := g.client.Get(ctx, g.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read reminder guard: %w", err)
	}
	if cur != day {
		return nil
	}
	return g.client.Del(ctx, g.key).Err()
}
