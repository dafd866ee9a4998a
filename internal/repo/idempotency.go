// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to replay generation responses without spending quota twice.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-sidebar/internal/domain"
)

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, route, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(route) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND route = ? AND key = ? AND expires_at > ?", userID, route, key, now.UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// PendingIdempotencyTTL bounds how long an unfinished reservation blocks its
// key when the request holding it never completes or releases it.
const PendingIdempotencyTTL = 5 * time.Minute

// CreateIdempotency stores a response body and returns ErrDuplicate on unique violation.
// Expired rows for the same tuple are removed first so keys can be reused after the TTL.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, route, key string, status int, body []byte, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	if err := deleteExpiredIdempotency(ctx, db, userID, route, key, now); err != nil {
		return nil, err
	}
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		Route:     route,
		Key:       key,
		Status:    status,
		Body:      datatypes.JSON(body),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ReserveIdempotency inserts a pending row for (userID, route, key). It
// returns ErrDuplicate when another request holds the key or already
// completed under it.
func ReserveIdempotency(ctx context.Context, db *gorm.DB, userID, route, key string) error {
	_, err := CreateIdempotency(ctx, db, userID, route, key, domain.StatusPending, []byte("{}"), PendingIdempotencyTTL)
	return err
}

// CompleteIdempotency stores the response on the pending row for the tuple,
// or creates the row when no reservation was made.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, userID, route, key string, status int, body []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("user_id = ? AND route = ? AND key = ? AND status = ?", userID, route, key, domain.StatusPending).
		Updates(map[string]any{
			"status":     status,
			"body":       datatypes.JSON(body),
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	_, err := CreateIdempotency(ctx, db, userID, route, key, status, body, ttl)
	return err
}

// ReleaseIdempotency drops a reservation that never completed. Completed rows
// are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, userID, route, key string) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND route = ? AND key = ? AND status = ?", userID, route, key, domain.StatusPending).
		Delete(&domain.Idempotency{}).Error
}

func deleteExpiredIdempotency(ctx context.Context, db *gorm.DB, userID, route, key string, now time.Time) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND route = ? AND key = ? AND expires_at <= ?", userID, route, key, now).
		Delete(&domain.Idempotency{}).Error
}
