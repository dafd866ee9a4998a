package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-study-sidebar/internal/client"
	"github.com/tbourn/go-study-sidebar/internal/config"
	httpapi "github.com/tbourn/go-study-sidebar/internal/http"
	"github.com/tbourn/go-study-sidebar/internal/llm"
	"github.com/tbourn/go-study-sidebar/internal/repo"
)

func startServer(t *testing.T, provider llm.Provider, freeLimit int) *client.Client {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))

	cfg := config.Config{
		APIBasePath:    "/api",
		MaxBodyBytes:   1 << 20,
		RateRPS:        100,
		RateBurst:      50,
		UsageBackend:   "sql",
		IdempotencyTTL: time.Hour,
		Auth:           config.AuthConfig{JWTSecret: "0123456789abcdef0123", TokenTTL: time.Hour, ResetTokenTTL: time.Hour},
		Quota:          config.QuotaConfig{FreeLimit: freeLimit, Window: 24 * time.Hour, PremiumVideoSeconds: 3600},
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, httpapi.RegisterRoutes(r, db, nil, provider, cfg))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return client.New(srv.URL + "/api")
}

func TestClient_AgainstRouter(t *testing.T) {
	var calls atomic.Int32
	provider := llm.ProviderFunc(func(context.Context, llm.Request) (llm.Response, error) {
		calls.Add(1)
		return llm.Response{Content: "<p>Osmosis moves water.</p>"}, nil
	})
	c := startServer(t, provider, 1)
	ctx := context.Background()

	_, err := c.Usage(ctx)
	require.ErrorIs(t, err, client.ErrUnauthorized)

	_, err = c.Register(ctx, "ada@example.com", "longenough", "Ada")
	require.NoError(t, err)
	require.NotEmpty(t, c.Token())

	u, err := c.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, u.EnhancementsUsed)
	assert.Equal(t, 1, u.EnhancementsLimit)
	assert.Equal(t, "freemium", u.SubscriptionStatus)

	res, err := c.Summarize(ctx, client.SummarizeRequest{Text: "Water crosses membranes.", Title: "Osmosis"})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "Osmosis")
	assert.Equal(t, 1, res.Usage.EnhancementsUsed)
	assert.Equal(t, 0, res.Usage.Remaining)

	_, err = c.Chat(ctx, client.ChatRequest{Message: "And diffusion?"})
	var qe *client.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 1, qe.EnhancementsUsed)
	assert.Equal(t, 1, qe.EnhancementsLimit)
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.Login(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestClient_SlowGenerationIsChargedOnce(t *testing.T) {
	var calls atomic.Int32
	provider := llm.ProviderFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		calls.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(500 * time.Millisecond):
		}
		return llm.Response{Content: "<p>late</p>"}, nil
	})
	c := startServer(t, provider, 10)
	ctx := context.Background()

	_, err := c.Register(ctx, "grace@example.com", "longenough", "Grace")
	require.NoError(t, err)

	c.HTTPClient = &http.Client{Timeout: 300 * time.Millisecond}
	_, err = c.Summarize(ctx, client.SummarizeRequest{Text: "Water crosses membranes.", Title: "Osmosis"})
	require.ErrorIs(t, err, client.ErrNoResponse)
	assert.False(t, client.IsUnreachable(err))

	c.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	u, err := c.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, u.EnhancementsUsed)
	assert.Equal(t, int32(1), calls.Load())
}
