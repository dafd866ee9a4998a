package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Idempotency is the stored response of a generation request, keyed by
// (user_id, route, key). Replaying it returns the original artifact without
// spending another enhancement. A row with StatusPending is a reservation
// held by a request that has not finished yet.
type Idempotency struct {
	ID        string         `gorm:"type:char(36);primaryKey"`
	UserID    string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_user_route_key,priority:1"`
	Route     string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_user_route_key,priority:2"`
	Key       string         `gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_user_route_key,priority:3"`
	Status    int            `gorm:"not null"`
	Body      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time      `gorm:"not null;index"`
}

// StatusPending marks a reservation without a response.
const StatusPending = 0

// Pending reports whether the request holding the key is still running.
func (r Idempotency) Pending() bool { return r.Status == StatusPending }

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
