package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-sidebar/internal/domain"
)

// CreateGenerationEvent records one granted enhancement.
func CreateGenerationEvent(ctx context.Context, db *gorm.DB, userID, artifact string, used int, meta map[string]any) (*domain.GenerationEvent, error) {
	ev := &domain.GenerationEvent{
		ID:               uuid.NewString(),
		UserID:           userID,
		Artifact:         artifact,
		EnhancementsUsed: used,
		CreatedAt:        time.Now().UTC(),
	}
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		ev.Metadata = datatypes.JSON(b)
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// ListGenerationEvents returns a user's events since the given time, newest first.
func ListGenerationEvents(ctx context.Context, db *gorm.DB, userID string, since time.Time) ([]domain.GenerationEvent, error) {
	var out []domain.GenerationEvent
	err := db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}
