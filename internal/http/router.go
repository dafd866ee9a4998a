// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-sidebar/docs"
	"github.com/tbourn/go-study-sidebar/internal/config"
	"github.com/tbourn/go-study-sidebar/internal/http/handlers"
	"github.com/tbourn/go-study-sidebar/internal/http/middleware"
	"github.com/tbourn/go-study-sidebar/internal/llm"
	"github.com/tbourn/go-study-sidebar/internal/repo"
	"github.com/tbourn/go-study-sidebar/internal/services"
)

// allowedHeaders are the request headers the extension may send cross-origin.
var allowedHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}

// exposedHeaders are readable by the extension on cross-origin responses.
var exposedHeaders = []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotentReplay}

// NewUsageStore picks the usage backend named by cfg.UsageBackend. The redis
// backend needs rdb; the SQL row stays the source of truth for seeding.
func NewUsageStore(db *gorm.DB, rdb goredis.Cmdable, cfg config.Config) (services.UsageStore, error) {
	switch cfg.UsageBackend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("usage backend redis requires a redis client")
		}
		return &services.RedisUsageStore{
			Redis:  repo.NewRedisUsage(rdb),
			DB:     db,
			Window: cfg.Quota.Window,
		}, nil
	default:
		return &services.SQLUsageStore{DB: db, Window: cfg.Quota.Window}, nil
	}
}

// idempotencyLookup adapts repo.GetIdempotency to the middleware contract.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, route, key string, now time.Time) (*middleware.StoredResponse, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, route, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.Pending() {
			return nil, nil
		}
		return &middleware.StoredResponse{Status: rec.Status, Body: rec.Body}, nil
	}
}

// idempotencyReserve adapts repo.ReserveIdempotency to the middleware contract.
func idempotencyReserve(db *gorm.DB) func(ctx context.Context, userID, route, key string) error {
	return func(ctx context.Context, userID, route, key string) error {
		err := repo.ReserveIdempotency(ctx, db, userID, route, key)
		if errors.Is(err, repo.ErrDuplicate) {
			return middleware.ErrIdempotencyInFlight
		}
		return err
	}
}

// idempotencyRelease adapts repo.ReleaseIdempotency to the middleware contract.
func idempotencyRelease(db *gorm.DB) func(ctx context.Context, userID, route, key string) error {
	return func(ctx context.Context, userID, route, key string) error {
		return repo.ReleaseIdempotency(ctx, db, userID, route, key)
	}
}

// idempotencyRecorder adapts repo.CompleteIdempotency to the handler contract.
func idempotencyRecorder(db *gorm.DB, ttl time.Duration) handlers.ReplayRecorder {
	return func(ctx context.Context, userID, route, key string, status int, body []byte) error {
		return repo.CompleteIdempotency(ctx, db, userID, route, key, status, body, ttl)
	}
}

// tokenVerifier adapts AuthService.VerifyToken to the Auth middleware.
func tokenVerifier(auth *services.AuthService) middleware.TokenVerifier {
	return func(token string) (string, error) {
		claims, err := auth.VerifyToken(token)
		if err != nil {
			return "", err
		}
		return claims.UserID(), nil
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS, security headers, gzip
//
// Protected routes then run Auth → Idempotency → rate limiter, so replays are
// looked up per user and bypass the limiter.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, rdb goredis.Cmdable, provider llm.Provider, cfg config.Config) error {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit; chat bodies may carry an image
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (allow all if none configured)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/provider
	usage, err := NewUsageStore(db, rdb, cfg)
	if err != nil {
		return err
	}
	authSvc := &services.AuthService{
		DB:            db,
		Secret:        []byte(cfg.Auth.JWTSecret),
		TokenTTL:      cfg.Auth.TokenTTL,
		ResetTokenTTL: cfg.Auth.ResetTokenTTL,
		FreeLimit:     cfg.Quota.FreeLimit,
		Usage:         usage,
	}
	gate := &services.QuotaGate{Usage: usage, DB: db}
	gen := &services.GenerationService{
		Provider:            provider,
		Params:              cfg.LLM.Artifacts,
		PremiumVideoSeconds: cfg.Quota.PremiumVideoSeconds,
	}
	h := handlers.New(authSvc, gate, gen, idempotencyRecorder(db, cfg.IdempotencyTTL))

	// One limiter per surface: auth is keyed by IP, the rest by user.
	authLimiter := middleware.NewRateLimiter(middleware.RateLimitOptions{Scope: "auth", RPS: cfg.RateRPS, Burst: cfg.RateBurst})
	userLimiter := middleware.NewRateLimiter(middleware.RateLimitOptions{Scope: "api", RPS: cfg.RateRPS, Burst: cfg.RateBurst})

	api := groupWithPrefix(r, cfg.APIBasePath)

	public := api.Group("/auth", authLimiter.Handler(), middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	{
		public.POST("/register", h.Register)
		public.POST("/login", h.Login)
		public.POST("/forgot-password", h.ForgotPassword)
		public.POST("/reset-password", h.ResetPassword)
	}

	protected := api.Group("",
		middleware.Auth(tokenVerifier(authSvc)),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{
			MaxLen:  200,
			Reserve: idempotencyReserve(db),
			Release: idempotencyRelease(db),
		}, idempotencyLookup(db)),
		userLimiter.Handler(),
	)
	{
		protected.POST("/auth/change-password", h.ChangePassword)
		protected.GET("/user/usage", h.GetUsage)

		protected.POST("/summarize", h.Summarize)
		protected.POST("/quiz", h.GenerateQuiz)
		protected.POST("/flashcards", h.GenerateFlashcards)
		protected.POST("/chat", h.Chat)
	}

	if cfg.Auth.AdminToken != "" {
		internal := api.Group("/internal",
			middleware.AdminKey(cfg.Auth.AdminToken),
			middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}),
		)
		internal.PUT("/users/:id/subscription", h.SetSubscription)
	}
	return nil
}

// corsMiddleware allows every origin when origins is empty and otherwise only
// the listed ones (chrome-extension://<id> origins included).
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     allowedHeaders,
		ExposeHeaders:    exposedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		return cors.New(cc)
	}
	cc.AllowOrigins = origins
	for _, o := range origins {
		if strings.HasPrefix(o, "chrome-extension://") || strings.HasPrefix(o, "moz-extension://") {
			cc.AllowBrowserExtensions = true
			break
		}
	}
	return cors.New(cc)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
