// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the per-user usage counter operations.
//
// The counter columns live on the users row. Every mutation is a single
// conditional UPDATE so concurrent requests cannot both pass the limit check:
// the database serializes writers on the row and the WHERE clause is
// re-evaluated against the committed value.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-study-sidebar/internal/domain"
)

// Usage is the quota-relevant projection of a user row.
type Usage struct {
	UserID             string
	EnhancementsUsed   int
	EnhancementsLimit  int
	SubscriptionStatus string
	LastResetAt        time.Time
}

// GetUsage reads the usage columns for a user or returns ErrNotFound.
func GetUsage(ctx context.Context, db *gorm.DB, userID string) (Usage, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Select("id", "enhancements_used", "enhancements_limit", "subscription_status", "last_reset_at").
		Where("id = ?", userID).
		First(&u).Error
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		UserID:             u.ID,
		EnhancementsUsed:   u.EnhancementsUsed,
		EnhancementsLimit:  u.EnhancementsLimit,
		SubscriptionStatus: u.SubscriptionStatus,
		LastResetAt:        u.LastResetAt.UTC(),
	}, nil
}

// ResetUsageIfDue zeroes the counter and restarts the window when at least
// window has elapsed since last_reset_at. It reports whether a reset happened.
func ResetUsageIfDue(ctx context.Context, db *gorm.DB, userID string, now time.Time, window time.Duration) (bool, error) {
	now = now.UTC()
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND last_reset_at <= ?", userID, now.Add(-window)).
		UpdateColumns(map[string]any{
			"enhancements_used": 0,
			"last_reset_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementUsageIfAllowed adds one to enhancements_used when the user is
// premium or still below the limit. It reports whether the row was updated;
// false means either the limit was reached or the user does not exist.
func IncrementUsageIfAllowed(ctx context.Context, db *gorm.DB, userID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND (subscription_status = ? OR enhancements_used < enhancements_limit)", userID, domain.SubscriptionPremium).
		UpdateColumn("enhancements_used", gorm.Expr("enhancements_used + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
