// Package services – QuotaGate
//
// QuotaGate is consulted before every generation call. It restarts an
// elapsed window and then spends one enhancement atomically. The
// enhancement is spent before the provider is called and is not refunded
// when the call fails, so repeated provider failures cannot be used to
// generate for free.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Ticket allows exactly one generation call.
type Ticket struct {
	UserID    string
	Artifact  string
	Usage     UsageSnapshot // counters after the increment
	GrantedAt time.Time
}

// QuotaGate composes UsageStore operations into allow/deny decisions.
type QuotaGate struct {
	Usage UsageStore
	DB    *gorm.DB // optional; records a GenerationEvent per grant
	Now   func() time.Time
}

func (g *QuotaGate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Authorize spends one enhancement for artifact. It returns a
// *QuotaExceededError when the window's allowance is used up.
func (g *QuotaGate) Authorize(ctx context.Context, userID, artifact string) (Ticket, error) {
	tr := otel.Tracer("services/QuotaGate")
	ctx, span := tr.Start(ctx, "Authorize",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("artifact", artifact),
		),
	)
	defer span.End()

	if !validArtifact(artifact) {
		return Ticket{}, invalid("unknown artifact %q", artifact)
	}

	if _, err := g.Usage.ResetIfNeeded(ctx, userID); err != nil {
		return Ticket{}, err
	}
	snap, err := g.Usage.IncrementIfAllowed(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			enhancementsDenied.WithLabelValues(artifact).Inc()
		}
		return Ticket{}, err
	}
	enhancementsGranted.WithLabelValues(artifact).Inc()

	if g.DB != nil {
		if _, err := repo.CreateGenerationEvent(ctx, g.DB, userID, artifact, snap.EnhancementsUsed, nil); err != nil {
			// Already spent; audit is best-effort.
			zerolog.Ctx(ctx).Warn().Err(err).Str("artifact", artifact).Msg("record generation event")
		}
	}

	return Ticket{UserID: userID, Artifact: artifact, Usage: snap, GrantedAt: g.now()}, nil
}

// Snapshot returns the current counters, restarting an elapsed window first
// so the reported value is never stale.
func (g *QuotaGate) Snapshot(ctx context.Context, userID string) (UsageSnapshot, error) {
	tr := otel.Tracer("services/QuotaGate")
	ctx, span := tr.Start(ctx, "Snapshot", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if _, err := g.Usage.ResetIfNeeded(ctx, userID); err != nil {
		return UsageSnapshot{}, err
	}
	return g.Usage.GetUsage(ctx, userID)
}

func validArtifact(a string) bool {
	switch a {
	case domain.ArtifactSummary, domain.ArtifactQuiz, domain.ArtifactFlashcards, domain.ArtifactChat:
		return true
	}
	return false
}
