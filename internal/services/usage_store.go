// Package services – UsageStore
//
// This file implements the per-user enhancement counters behind the quota:
// reset-if-needed, read, and the atomic check-and-increment. Two backends
// are provided:
//
//   - SQLUsageStore keeps the counters on the users row and relies on a
//     conditional UPDATE for atomicity.
//   - RedisUsageStore keeps them in a Redis hash updated by Lua scripts so
//     several server instances can share one counter. Hashes are seeded from
//     the users row on first access.
//
// The window boundary is wall-clock based: nothing resets counters in the
// background, so ResetIfNeeded must run before any read that gates a decision.
package services

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultQuotaWindow is the rolling window after which counters reset.
const DefaultQuotaWindow = 24 * time.Hour

// UsageSnapshot is a point-in-time view of a user's counters.
type UsageSnapshot struct {
	EnhancementsUsed   int       `json:"enhancementsUsed"`
	EnhancementsLimit  int       `json:"enhancementsLimit"`
	SubscriptionStatus string    `json:"subscriptionStatus"`
	LastResetAt        time.Time `json:"lastResetAt"`
	ResetsAt           time.Time `json:"resetsAt"`
}

// IsPremium reports whether the limit is bypassed.
func (s UsageSnapshot) IsPremium() bool {
	return s.SubscriptionStatus == domain.SubscriptionPremium
}

// Remaining is the number of enhancements left in the window (0 when spent).
func (s UsageSnapshot) Remaining() int {
	if r := s.EnhancementsLimit - s.EnhancementsUsed; r > 0 {
		return r
	}
	return 0
}

// ResetsInHours is the whole number of hours until ResetsAt, rounded up.
func (s UsageSnapshot) ResetsInHours(now time.Time) int {
	d := s.ResetsAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours()))
}

// UsageStore persists enhancement counters.
type UsageStore interface {
	// ResetIfNeeded zeroes the counter and restarts the window when the
	// window has elapsed; it reports whether it did.
	ResetIfNeeded(ctx context.Context, userID string) (bool, error)
	// GetUsage returns the counters or ErrUserNotFound.
	GetUsage(ctx context.Context, userID string) (UsageSnapshot, error)
	// IncrementIfAllowed spends one enhancement and returns the counters
	// after the increment, or a *QuotaExceededError with the unchanged ones.
	IncrementIfAllowed(ctx context.Context, userID string) (UsageSnapshot, error)
}

// PlanSyncer is implemented by stores that cache plan fields outside the
// users table and must be told when a subscription changes.
type PlanSyncer interface {
	SyncPlan(ctx context.Context, userID string) error
}

func snapshotOf(u repo.Usage, window time.Duration) UsageSnapshot {
	return UsageSnapshot{
		EnhancementsUsed:   u.EnhancementsUsed,
		EnhancementsLimit:  u.EnhancementsLimit,
		SubscriptionStatus: u.SubscriptionStatus,
		LastResetAt:        u.LastResetAt,
		ResetsAt:           u.LastResetAt.Add(window),
	}
}

// ----------------------------------------------------------------------------
// SQL

// SQLUsageStore keeps counters on the users row.
type SQLUsageStore struct {
	DB     *gorm.DB
	Window time.Duration    // zero means DefaultQuotaWindow
	Now    func() time.Time // nil means time.Now
}

func (s *SQLUsageStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLUsageStore) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return DefaultQuotaWindow
}

// ResetIfNeeded implements UsageStore.
func (s *SQLUsageStore) ResetIfNeeded(ctx context.Context, userID string) (bool, error) {
	tr := otel.Tracer("services/UsageStore")
	ctx, span := tr.Start(ctx, "ResetIfNeeded", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	return repo.ResetUsageIfDue(ctx, s.DB, userID, s.now(), s.window())
}

// GetUsage implements UsageStore.
func (s *SQLUsageStore) GetUsage(ctx context.Context, userID string) (UsageSnapshot, error) {
	u, err := repo.GetUsage(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return UsageSnapshot{}, ErrUserNotFound
	}
	if err != nil {
		return UsageSnapshot{}, err
	}
	return snapshotOf(u, s.window()), nil
}

// IncrementIfAllowed implements UsageStore. The conditional UPDATE and the
// read of the resulting counters run in one transaction, so the returned
// snapshot reflects this increment and no concurrent one.
func (s *SQLUsageStore) IncrementIfAllowed(ctx context.Context, userID string) (UsageSnapshot, error) {
	tr := otel.Tracer("services/UsageStore")
	ctx, span := tr.Start(ctx, "IncrementIfAllowed", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	var (
		granted bool
		u       repo.Usage
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repo.IncrementUsageIfAllowed(ctx, tx, userID)
		if err != nil {
			return err
		}
		granted = ok
		u, err = repo.GetUsage(ctx, tx, userID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return UsageSnapshot{}, ErrUserNotFound
	}
	if err != nil {
		return UsageSnapshot{}, err
	}

	snap := snapshotOf(u, s.window())
	span.SetAttributes(attribute.Bool("granted", granted), attribute.Int("used", snap.EnhancementsUsed))
	if !granted {
		return UsageSnapshot{}, &QuotaExceededError{Usage: snap}
	}
	return snap, nil
}

// ----------------------------------------------------------------------------
// Redis

// RedisUsageStore keeps counters in Redis, seeded from the users row.
type RedisUsageStore struct {
	Redis  *repo.RedisUsage
	DB     *gorm.DB
	Window time.Duration
	Now    func() time.Time
}

func (s *RedisUsageStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RedisUsageStore) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return DefaultQuotaWindow
}

// seed copies the users row into Redis unless the hash already exists.
func (s *RedisUsageStore) seed(ctx context.Context, userID string) error {
	u, err := repo.GetUsage(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return s.Redis.Seed(ctx, u)
}

// withSeed runs op, seeding the hash and retrying once when it is missing.
func (s *RedisUsageStore) withSeed(ctx context.Context, userID string, op func() error) error {
	err := op()
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := s.seed(ctx, userID); err != nil {
		return err
	}
	return op()
}

// ResetIfNeeded implements UsageStore.
func (s *RedisUsageStore) ResetIfNeeded(ctx context.Context, userID string) (bool, error) {
	var reset bool
	err := s.withSeed(ctx, userID, func() error {
		var err error
		reset, _, err = s.Redis.ResetIfDue(ctx, userID, s.now(), s.window())
		return err
	})
	return reset, err
}

// GetUsage implements UsageStore.
func (s *RedisUsageStore) GetUsage(ctx context.Context, userID string) (UsageSnapshot, error) {
	var u repo.Usage
	err := s.withSeed(ctx, userID, func() error {
		var err error
		u, err = s.Redis.Get(ctx, userID)
		return err
	})
	if err != nil {
		return UsageSnapshot{}, err
	}
	return snapshotOf(u, s.window()), nil
}

// IncrementIfAllowed implements UsageStore. The script repeats the reset
// check before incrementing, so the two steps cannot interleave with another
// instance.
func (s *RedisUsageStore) IncrementIfAllowed(ctx context.Context, userID string) (UsageSnapshot, error) {
	var (
		granted bool
		u       repo.Usage
	)
	err := s.withSeed(ctx, userID, func() error {
		var err error
		granted, u, err = s.Redis.IncrementIfAllowed(ctx, userID, s.now(), s.window())
		return err
	})
	if err != nil {
		return UsageSnapshot{}, err
	}
	snap := snapshotOf(u, s.window())
	if !granted {
		return UsageSnapshot{}, &QuotaExceededError{Usage: snap}
	}
	return snap, nil
}

// SyncPlan copies the plan fields of the users row into Redis.
func (s *RedisUsageStore) SyncPlan(ctx context.Context, userID string) error {
	u, err := repo.GetUsage(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return s.Redis.SetPlan(ctx, userID, u.SubscriptionStatus == domain.SubscriptionPremium, u.EnhancementsLimit)
}
