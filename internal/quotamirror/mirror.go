// Package quotamirror keeps a local, advisory copy of the enhancement
// counters. The sidebar falls back to it when the server cannot be asked
// (no token, or the server is unreachable); whenever the server answers,
// Reconcile overwrites the local copy.
package quotamirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/kv"
)

// StorageKey is where the counters are persisted.
const StorageKey = "usage"

// ErrLimitReached is returned by Increment when no enhancement is left.
var ErrLimitReached = errors.New("quotamirror: enhancement limit reached")

// Usage is the mirrored counter set.
type Usage struct {
	EnhancementsUsed   int       `json:"enhancementsUsed"`
	EnhancementsLimit  int       `json:"enhancementsLimit"`
	SubscriptionStatus string    `json:"subscriptionStatus"`
	LastResetAt        time.Time `json:"lastResetAt"`
}

// IsPremium reports whether the limit is not enforced.
func (u Usage) IsPremium() bool { return u.SubscriptionStatus == domain.SubscriptionPremium }

// Mirror applies the server's reset and increment rules to local counters.
type Mirror struct {
	Store  kv.Store
	Limit  int           // limit for a fresh mirror; zero means domain.DefaultEnhancementsLimit
	Window time.Duration // zero means 24h
	Now    func() time.Time

	mu sync.Mutex
}

// New returns a Mirror with default limit and window.
func New(store kv.Store) *Mirror {
	return &Mirror{Store: store, Now: time.Now}
}

func (m *Mirror) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Mirror) window() time.Duration {
	if m.Window > 0 {
		return m.Window
	}
	return 24 * time.Hour
}

func (m *Mirror) load(ctx context.Context) (Usage, error) {
	var u Usage
	err := m.Store.Get(ctx, StorageKey, &u)
	if errors.Is(err, kv.ErrNotFound) {
		limit := m.Limit
		if limit <= 0 {
			limit = domain.DefaultEnhancementsLimit
		}
		return Usage{
			EnhancementsLimit:  limit,
			SubscriptionStatus: domain.SubscriptionFreemium,
			LastResetAt:        m.now().UTC(),
		}, nil
	}
	return u, err
}

// resetIfDue zeroes the counter when the window has elapsed.
func (m *Mirror) resetIfDue(u *Usage) bool {
	now := m.now()
	if now.Sub(u.LastResetAt) < m.window() {
		return false
	}
	u.EnhancementsUsed = 0
	u.LastResetAt = now.UTC()
	return true
}

// ResetIfNeeded zeroes the counter when the window has elapsed and reports
// whether it did.
func (m *Mirror) ResetIfNeeded(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, err := m.load(ctx)
	if err != nil {
		return false, err
	}
	if !m.resetIfDue(&u) {
		return false, nil
	}
	return true, m.Store.Set(ctx, StorageKey, u)
}

// Usage returns the counters after applying a due reset.
func (m *Mirror) Usage(ctx context.Context) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, err := m.load(ctx)
	if err != nil {
		return Usage{}, err
	}
	if m.resetIfDue(&u) {
		if err := m.Store.Set(ctx, StorageKey, u); err != nil {
			return Usage{}, err
		}
	}
	return u, nil
}

// IsLimitReached reports whether a freemium user has no enhancement left.
func (m *Mirror) IsLimitReached(ctx context.Context) (bool, error) {
	u, err := m.Usage(ctx)
	if err != nil {
		return false, err
	}
	return !u.IsPremium() && u.EnhancementsUsed >= u.EnhancementsLimit, nil
}

// Increment spends one enhancement. When the limit is reached it returns
// the unchanged counters and ErrLimitReached.
func (m *Mirror) Increment(ctx context.Context) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, err := m.load(ctx)
	if err != nil {
		return Usage{}, err
	}
	m.resetIfDue(&u)
	if !u.IsPremium() && u.EnhancementsUsed >= u.EnhancementsLimit {
		return u, ErrLimitReached
	}
	u.EnhancementsUsed++
	if err := m.Store.Set(ctx, StorageKey, u); err != nil {
		return Usage{}, err
	}
	return u, nil
}

// Reconcile replaces the local counters with the server's.
func (m *Mirror) Reconcile(ctx context.Context, server Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if server.LastResetAt.IsZero() {
		server.LastResetAt = m.now().UTC()
	}
	return m.Store.Set(ctx, StorageKey, server)
}
