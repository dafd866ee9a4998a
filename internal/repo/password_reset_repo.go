package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-sidebar/internal/domain"
)

// CreatePasswordReset stores a reset grant for userID identified by tokenHash.
func CreatePasswordReset(ctx context.Context, db *gorm.DB, userID, tokenHash string, expiresAt time.Time) (*domain.PasswordReset, error) {
	pr := &domain.PasswordReset{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(pr).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return pr, nil
}

// ConsumePasswordReset marks an unused, unexpired grant as used and returns
// it. Missing, expired or already used grants yield ErrNotFound. The
// conditional update guarantees a token is consumed at most once.
func ConsumePasswordReset(ctx context.Context, db *gorm.DB, tokenHash string, now time.Time) (*domain.PasswordReset, error) {
	now = now.UTC()
	var pr domain.PasswordReset
	err := db.WithContext(ctx).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", tokenHash, now).
		First(&pr).Error
	if err != nil {
		return nil, err
	}
	res := db.WithContext(ctx).
		Model(&domain.PasswordReset{}).
		Where("id = ? AND used_at IS NULL", pr.ID).
		Update("used_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	pr.UsedAt = &now
	return &pr, nil
}
