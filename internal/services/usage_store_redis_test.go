//go:build integration

package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/repo"
)

func newRedisStore(t *testing.T) (*RedisUsageStore, *fixedClock) {
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
	prefix := "svc-test:" + t.Name() + ":"
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})

	clk := &fixedClock{t: time.Now().UTC().Truncate(time.Millisecond)}
	return &RedisUsageStore{
		Redis:  repo.NewRedisUsage(client, repo.WithUsageKeyPrefix(prefix)),
		DB:     newServiceDB(t),
		Window: day,
		Now:    clk.Now,
	}, clk
}

func TestRedisUsageStore_SeedsFromSQLAndEnforcesLimit(t *testing.T) {
	s, clk := newRedisStore(t)
	ctx := context.Background()
	seedUser(t, s.DB, "u1", domain.SubscriptionFreemium, 8, 10, clk.Now())

	snap, err := s.GetUsage(ctx, "u1")
	if err != nil || snap.EnhancementsUsed != 8 {
		t.Fatalf("GetUsage = %+v, %v", snap, err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.IncrementIfAllowed(ctx, "u1"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if _, err := s.IncrementIfAllowed(ctx, "u1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}

	clk.Set(clk.Now().Add(day + time.Second))
	if reset, err := s.ResetIfNeeded(ctx, "u1"); err != nil || !reset {
		t.Fatalf("ResetIfNeeded = %v, %v", reset, err)
	}
}

func TestRedisUsageStore_UnknownUserAndPlanSync(t *testing.T) {
	s, clk := newRedisStore(t)
	ctx := context.Background()

	if _, err := s.IncrementIfAllowed(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("ghost err = %v", err)
	}

	seedUser(t, s.DB, "u1", domain.SubscriptionFreemium, 10, 10, clk.Now())
	if _, err := s.IncrementIfAllowed(ctx, "u1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if err := repo.SetSubscription(ctx, s.DB, "u1", domain.SubscriptionPremium); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}
	if err := s.SyncPlan(ctx, "u1"); err != nil {
		t.Fatalf("SyncPlan: %v", err)
	}
	snap, err := s.IncrementIfAllowed(ctx, "u1")
	if err != nil || !snap.IsPremium() || snap.EnhancementsUsed != 11 {
		t.Fatalf("premium increment = %+v, %v", snap, err)
	}
}
