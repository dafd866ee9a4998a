// Package domain defines the persistence models for accounts, quota usage,
// password resets, and generation audit events. These types are mapped with
// GORM and form the core data layer of the study sidebar backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription statuses. Premium accounts bypass the enhancement limit.
const (
	SubscriptionFreemium = "freemium"
	SubscriptionPremium  = "premium"
)

// DefaultEnhancementsLimit is the per-window allowance given to new accounts.
const DefaultEnhancementsLimit = 10

// Artifact types produced by the completion provider.
const (
	ArtifactSummary    = "summary"
	ArtifactQuiz       = "quiz"
	ArtifactFlashcards = "flashcards"
	ArtifactChat       = "chat"
)

// ValidSubscription reports whether s is a known subscription status.
func ValidSubscription(s string) bool {
	return s == SubscriptionFreemium || s == SubscriptionPremium
}

// User is an account together with its usage record. The usage columns live
// on the user row so the quota check-and-increment is a single-row
// conditional UPDATE.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: normalized lower-case login, unique.
//   - PasswordHash: bcrypt hash, never serialized.
//   - SubscriptionStatus: "freemium" or "premium".
//   - EnhancementsUsed: generations spent in the current window (>= 0).
//   - EnhancementsLimit: allowance per window (> 0; ignored for premium).
//   - LastResetAt: start of the current quota window.
type User struct {
	ID                 string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	Email              string         `json:"email"               gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	Name               string         `json:"name"                gorm:"type:varchar(255);not null;default:''"`
	PasswordHash       string         `json:"-"                   gorm:"type:varchar(255);not null"`
	SubscriptionStatus string         `json:"subscription_status" gorm:"type:varchar(16);not null;default:'freemium';check:subscription_status IN ('freemium','premium')"`
	EnhancementsUsed   int            `json:"enhancements_used"   gorm:"not null;default:0;check:enhancements_used >= 0"`
	EnhancementsLimit  int            `json:"enhancements_limit"  gorm:"not null;default:10;check:enhancements_limit > 0"`
	LastResetAt        time.Time      `json:"last_reset_at"       gorm:"not null"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `json:"-"                   gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// IsPremium reports whether the account bypasses the enhancement limit.
func (u User) IsPremium() bool { return u.SubscriptionStatus == SubscriptionPremium }

// PasswordReset is a one-time password reset grant. Only the SHA-256 of the
// token handed to the user is stored.
type PasswordReset struct {
	ID        string     `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string     `json:"user_id"    gorm:"type:char(36);not null;index"`
	TokenHash string     `json:"-"          gorm:"type:char(64);not null;uniqueIndex:ux_password_resets_token"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"not null;index"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	// User owns the grant; grants are cascade-deleted with the account.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PasswordReset.
func (PasswordReset) TableName() string { return "password_resets" }

// GenerationEvent is an audit row written for every granted enhancement.
type GenerationEvent struct {
	ID               string         `json:"id"                gorm:"type:char(36);primaryKey"`
	UserID           string         `json:"user_id"           gorm:"type:char(36);not null;index:idx_events_user_time,priority:1"`
	Artifact         string         `json:"artifact"          gorm:"type:varchar(16);not null;check:artifact IN ('summary','quiz','flashcards','chat')"`
	EnhancementsUsed int            `json:"enhancements_used" gorm:"not null"`
	Metadata         datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"        gorm:"index:idx_events_user_time,priority:2"`
}

// TableName returns the database table name for GenerationEvent.
func (GenerationEvent) TableName() string { return "generation_events" }
