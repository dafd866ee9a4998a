package repo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-study-sidebar/internal/domain"
)

const day = 24 * time.Hour

func TestGetUsage_ReturnsCountersOrNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	ctx := context.Background()
	reset := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	seedUser(t, db, "u1", domain.SubscriptionFreemium, 3, 10, reset)

	u, err := GetUsage(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.UserID != "u1" || u.EnhancementsUsed != 3 || u.EnhancementsLimit != 10 || u.SubscriptionStatus != domain.SubscriptionFreemium {
		t.Fatalf("unexpected usage: %+v", u)
	}
	if !u.LastResetAt.Equal(reset) {
		t.Fatalf("last reset = %v, want %v", u.LastResetAt, reset)
	}

	if _, err := GetUsage(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementUsageIfAllowed_MonotonicUntilLimit(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	ctx := context.Background()
	seedUser(t, db, "u1", domain.SubscriptionFreemium, 7, 10, time.Now())

	for i := 0; i < 3; i++ {
		ok, err := IncrementUsageIfAllowed(ctx, db, "u1")
		if err != nil || !ok {
			t.Fatalf("increment %d: ok=%v err=%v", i, ok, err)
		}
	}
	u, _ := GetUsage(ctx, db, "u1")
	if u.EnhancementsUsed != 10 {
		t.Fatalf("used = %d, want 10", u.EnhancementsUsed)
	}

	ok, err := IncrementUsageIfAllowed(ctx, db, "u1")
	if err != nil || ok {
		t.Fatalf("expected denial at limit, ok=%v err=%v", ok, err)
	}
	u, _ = GetUsage(ctx, db, "u1")
	if u.EnhancementsUsed != 10 {
		t.Fatalf("denied increment must not change counter, got %d", u.EnhancementsUsed)
	}
}

func TestIncrementUsageIfAllowed_PremiumBypass(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	ctx := context.Background()
	seedUser(t, db, "p1", domain.SubscriptionPremium, 10, 10, time.Now())

	ok, err := IncrementUsageIfAllowed(ctx, db, "p1")
	if err != nil || !ok {
		t.Fatalf("premium increment should succeed: ok=%v err=%v", ok, err)
	}
	u, _ := GetUsage(ctx, db, "p1")
	if u.EnhancementsUsed != 11 {
		t.Fatalf("used = %d, want 11", u.EnhancementsUsed)
	}
}

func TestIncrementUsageIfAllowed_UnknownUser(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	ok, err := IncrementUsageIfAllowed(context.Background(), db, "ghost")
	if err != nil || ok {
		t.Fatalf("unknown user: ok=%v err=%v", ok, err)
	}
}

func TestResetUsageIfDue_Boundary(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	seedUser(t, db, "old", domain.SubscriptionFreemium, 10, 10, now.Add(-(day + time.Second)))
	seedUser(t, db, "fresh", domain.SubscriptionFreemium, 10, 10, now.Add(-(day - time.Minute)))
	seedUser(t, db, "exact", domain.SubscriptionFreemium, 10, 10, now.Add(-day))

	reset, err := ResetUsageIfDue(ctx, db, "old", now, day)
	if err != nil || !reset {
		t.Fatalf("old: reset=%v err=%v", reset, err)
	}
	u, _ := GetUsage(ctx, db, "old")
	if u.EnhancementsUsed != 0 || !u.LastResetAt.Equal(now) {
		t.Fatalf("old after reset: %+v", u)
	}
	if ok, _ := IncrementUsageIfAllowed(ctx, db, "old"); !ok {
		t.Fatalf("increment after reset should succeed")
	}
	u, _ = GetUsage(ctx, db, "old")
	if u.EnhancementsUsed != 1 {
		t.Fatalf("used after reset+increment = %d, want 1", u.EnhancementsUsed)
	}

	reset, err = ResetUsageIfDue(ctx, db, "fresh", now, day)
	if err != nil || reset {
		t.Fatalf("fresh: reset=%v err=%v", reset, err)
	}
	if ok, _ := IncrementUsageIfAllowed(ctx, db, "fresh"); ok {
		t.Fatalf("increment without reset should be denied")
	}

	// now - lastResetAt == window resets.
	if reset, _ := ResetUsageIfDue(ctx, db, "exact", now, day); !reset {
		t.Fatalf("exactly one window elapsed should reset")
	}
}

func TestIncrementUsageIfAllowed_ConcurrentLastSlot(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		id := "race-" + string(rune('a'+round))
		seedUser(t, db, id, domain.SubscriptionFreemium, 9, 10, time.Now())

		var granted, denied int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := IncrementUsageIfAllowed(ctx, db, id)
				if err != nil {
					t.Errorf("increment: %v", err)
					return
				}
				if ok {
					atomic.AddInt32(&granted, 1)
				} else {
					atomic.AddInt32(&denied, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if granted != 1 || denied != 1 {
			t.Fatalf("round %d: granted=%d denied=%d, want 1/1", round, granted, denied)
		}
		u, _ := GetUsage(ctx, db, id)
		if u.EnhancementsUsed != 10 {
			t.Fatalf("round %d: used = %d, want 10", round, u.EnhancementsUsed)
		}
	}
}
