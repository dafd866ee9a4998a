//go:build integration

package repo

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tbourn/go-study-sidebar/internal/domain"
)

func newRedisUsage(t *testing.T) *RedisUsage {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewRedisUsage(client, WithUsageKeyPrefix(prefix))
}

func TestRedisUsage_MissingHash(t *testing.T) {
	r := newRedisUsage(t)
	ctx := context.Background()
	if _, err := r.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get: expected ErrNotFound, got %v", err)
	}
	if _, _, err := r.IncrementIfAllowed(ctx, "ghost", time.Now(), day); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Increment: expected ErrNotFound, got %v", err)
	}
}

func TestRedisUsage_SeedIsWriteOnce(t *testing.T) {
	r := newRedisUsage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := r.Seed(ctx, Usage{UserID: "u1", EnhancementsUsed: 4, EnhancementsLimit: 10, SubscriptionStatus: domain.SubscriptionFreemium, LastResetAt: now}); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := r.Seed(ctx, Usage{UserID: "u1", EnhancementsUsed: 0, EnhancementsLimit: 10, LastResetAt: now}); err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	u, err := r.Get(ctx, "u1")
	if err != nil || u.EnhancementsUsed != 4 || !u.LastResetAt.Equal(now) {
		t.Fatalf("Get after reseed: %+v err=%v", u, err)
	}
}

func TestRedisUsage_LimitResetAndPremium(t *testing.T) {
	r := newRedisUsage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = r.Seed(ctx, Usage{UserID: "u1", EnhancementsUsed: 9, EnhancementsLimit: 10, LastResetAt: now.Add(-time.Hour)})

	ok, u, err := r.IncrementIfAllowed(ctx, "u1", now, day)
	if err != nil || !ok || u.EnhancementsUsed != 10 {
		t.Fatalf("last slot: ok=%v u=%+v err=%v", ok, u, err)
	}
	ok, u, _ = r.IncrementIfAllowed(ctx, "u1", now, day)
	if ok || u.EnhancementsUsed != 10 {
		t.Fatalf("over limit: ok=%v u=%+v", ok, u)
	}

	// 23h59m after the window start: no reset.
	later := now.Add(-time.Hour).Add(day - time.Minute)
	if reset, _, _ := r.ResetIfDue(ctx, "u1", later, day); reset {
		t.Fatalf("reset before window elapsed")
	}
	// 24h+1s: reset, then increment succeeds.
	after := now.Add(-time.Hour).Add(day + time.Second)
	reset, u, err := r.ResetIfDue(ctx, "u1", after, day)
	if err != nil || !reset || u.EnhancementsUsed != 0 {
		t.Fatalf("reset: reset=%v u=%+v err=%v", reset, u, err)
	}
	if ok, u, _ := r.IncrementIfAllowed(ctx, "u1", after, day); !ok || u.EnhancementsUsed != 1 {
		t.Fatalf("after reset: ok=%v u=%+v", ok, u)
	}

	if err := r.SetPlan(ctx, "u1", true, 10); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	for i := 0; i < 12; i++ {
		if ok, _, _ := r.IncrementIfAllowed(ctx, "u1", after, day); !ok {
			t.Fatalf("premium increment %d denied", i)
		}
	}
}

func TestRedisUsage_ConcurrentLastSlot(t *testing.T) {
	r := newRedisUsage(t)
	ctx := context.Background()
	_ = r.Seed(ctx, Usage{UserID: "u1", EnhancementsUsed: 9, EnhancementsLimit: 10, LastResetAt: time.Now()})

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, err := r.IncrementIfAllowed(ctx, "u1", time.Now(), day); err == nil && ok {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()
	if granted != 1 {
		t.Fatalf("granted = %d, want 1", granted)
	}
}
