// Package contentcache keeps generated artifacts per content item on the
// client so reopening a video or page does not spend another enhancement.
//
// Entries live in a kv.Store under "<artifactType>_<contentIdentity>" and
// expire 24 hours after they were written. Expired entries are removed when
// read and by SweepExpired, which the client calls once at startup.
package contentcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/kv"
)

// DefaultTTL is how long an artifact stays fresh.
const DefaultTTL = 24 * time.Hour

// Artifacts are the artifact types that are cached.
var Artifacts = []string{domain.ArtifactSummary, domain.ArtifactQuiz, domain.ArtifactFlashcards, domain.ArtifactChat}

// Entry is the persisted form of a cached artifact.
type Entry struct {
	Content         json.RawMessage `json:"content"`
	Timestamp       time.Time       `json:"timestamp"`
	ContentIdentity string          `json:"contentIdentity"`
}

// Cache reads and writes artifacts in a kv.Store.
type Cache struct {
	Store kv.Store
	TTL   time.Duration
	Now   func() time.Time
}

// New returns a Cache with the default TTL.
func New(store kv.Store) *Cache {
	return &Cache{Store: store, TTL: DefaultTTL, Now: time.Now}
}

// Key is the storage key for an artifact of a content item.
func Key(artifact, identity string) string {
	return artifact + "_" + identity
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTTL
}

func (c *Cache) expired(e Entry) bool {
	return c.now().Sub(e.Timestamp) > c.ttl()
}

// Get decodes the cached artifact into dst. It reports false for an empty
// identity, a missing entry, or an expired one (which it deletes).
func (c *Cache) Get(ctx context.Context, identity, artifact string, dst any) (bool, error) {
	if identity == "" {
		return false, nil
	}
	key := Key(artifact, identity)
	var e Entry
	if err := c.Store.Get(ctx, key, &e); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if c.expired(e) {
		if err := c.Store.Delete(ctx, key); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := json.Unmarshal(e.Content, dst); err != nil {
		// Unreadable entries are treated as a miss and replaced on the next Put.
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("dropping unreadable cache entry")
		return false, c.Store.Delete(ctx, key)
	}
	return true, nil
}

// Put stores payload, replacing any previous entry. An empty identity is a
// no-op.
func (c *Cache) Put(ctx context.Context, identity, artifact string, payload any) error {
	if identity == "" {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Store.Set(ctx, Key(artifact, identity), Entry{
		Content:         raw,
		Timestamp:       c.now().UTC(),
		ContentIdentity: identity,
	})
}

// Invalidate removes one artifact of a content item.
func (c *Cache) Invalidate(ctx context.Context, identity, artifact string) error {
	if identity == "" {
		return nil
	}
	return c.Store.Delete(ctx, Key(artifact, identity))
}

// SweepExpired deletes every expired or unreadable entry and returns how
// many were removed.
func (c *Cache) SweepExpired(ctx context.Context) (int, error) {
	removed := 0
	for _, artifact := range Artifacts {
		keys, err := c.Store.Keys(ctx, artifact+"_")
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			var e Entry
			err := c.Store.Get(ctx, key, &e)
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			if err == nil && !c.expired(e) {
				continue
			}
			if err := c.Store.Delete(ctx, key); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		zerolog.Ctx(ctx).Debug().Int("removed", removed).Msg("swept expired cache entries")
	}
	return removed, nil
}
