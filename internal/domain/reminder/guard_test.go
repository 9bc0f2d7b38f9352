package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseGuard(t *testing.T, g GuardStore) {
	t.Helper()
	ctx := context.Background()

	ok, err := g.Claim(ctx, "2024-03-06")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	ok, err = g.Claim(ctx, "2024-03-06")
	if err != nil || ok {
		t.Fatalf("second claim on the same day = %v, %v", ok, err)
	}

	if err := g.Release(ctx, "2024-03-06"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = g.Claim(ctx, "2024-03-06")
	if !ok {
		t.Fatal("expected claim to succeed after release")
	}

	ok, _ = g.Claim(ctx, "2024-03-07")
	if !ok {
		t.Fatal("expected a new day to be claimable")
	}
	// releasing a stale day must not clear the current one
	if err := g.Release(ctx, "2024-03-06"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = g.Claim(ctx, "2024-03-07")
	if ok {
		t.Error("stale release cleared the current claim")
	}
}

func TestMemoryGuard(t *testing.T) {
	exerciseGuard(t, NewMemoryGuard())
}

func TestRedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	exerciseGuard(t, NewRedisGuard(client, ""))

	if ttl := mr.TTL(DefaultGuardKey); ttl != guardTTL {
		t.Errorf("expected ttl %s, got %s", guardTTL, ttl)
	}
}

func TestRedisGuard_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewRedisGuard(client, "test:guard")
	b := NewRedisGuard(client, "test:guard")

	if ok, _ := a.Claim(ctx, "2024-03-06"); !ok {
		t.Fatal("expected first instance to claim")
	}
	if ok, _ := b.Claim(ctx, "2024-03-06"); ok {
		t.Error("second instance must see the existing claim")
	}
}

func TestRedisGuard_ReleaseMissingKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := NewRedisGuard(client, "").Release(context.Background(), "2024-03-06"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRedisGuard_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	mr.Close()

	if _, err := NewRedisGuard(client, "").Claim(context.Background(), "2024-03-06"); err == nil {
		t.Error("expected an error when redis is unreachable")
	}
}
