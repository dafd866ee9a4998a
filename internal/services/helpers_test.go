package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-study-sidebar/internal/domain"
	"github.com/tbourn/go-study-sidebar/internal/llm"
)

// newServiceDB opens a file-backed SQLite database with all models migrated.
// A file (not :memory:) lets concurrent transactions share one database.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.User{}, &domain.PasswordReset{}, &domain.GenerationEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedUser inserts a user with explicit counters.
func seedUser(t *testing.T, db *gorm.DB, id, status string, used, limit int, lastReset time.Time) {
	t.Helper()
	u := &domain.User{
		ID:                 id,
		Email:              id + "@example.com",
		PasswordHash:       "h",
		SubscriptionStatus: status,
		EnhancementsUsed:   used,
		EnhancementsLimit:  limit,
		LastResetAt:        lastReset.UTC(),
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// usedOf reads enhancements_used straight from the row.
func usedOf(t *testing.T, db *gorm.DB, id string) int {
	t.Helper()
	var u domain.User
	if err := db.Where("id = ?", id).First(&u).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	return u.EnhancementsUsed
}

// fixedClock returns a settable clock.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeProvider records requests and replies with a canned answer.
type fakeProvider struct {
	mu    sync.Mutex
	reqs  []llm.Request
	reply string
	err   error
}

func (p *fakeProvider) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return llm.Response{}, p.err
	}
	return llm.Response{Content: p.reply, Model: "fake"}, nil
}

func (p *fakeProvider) last(t *testing.T) llm.Request {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reqs) == 0 {
		t.Fatalf("provider was not called")
	}
	return p.reqs[len(p.reqs)-1]
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}
