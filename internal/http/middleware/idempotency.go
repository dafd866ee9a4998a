// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for generation requests. It
// validates an Idempotency-Key request header, looks up a previously stored
// response for (user, route, key), and annotates the request context so
// downstream handlers can:
//   - read the normalized key (GetIdempotencyKey)
//   - serve the stored response instead of spending quota (StoredReplay)
//   - bypass rate limiting when a replay is served (via an internal flag)
//
// When a Reserve function is configured, the key is also claimed before the
// handler runs, so a second request with the same key that arrives while the
// first is still generating gets 409 instead of being charged again.
//
// Persistence stays behind narrow function types.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for generation requests.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplay is set on responses served from a stored result.
const HeaderIdempotentReplay = "Idempotent-Replayed"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // *StoredResponse when a replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// ErrIdempotencyInFlight is returned by a reserve function when the key is
// already held.
var ErrIdempotencyInFlight = errors.New("idempotency key in flight")

// StoredResponse is a completed response recorded under an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// StoredReplay returns the response recorded for this request's key, if any.
func StoredReplay(c *gin.Context) (*StoredResponse, bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return nil, false
	}
	r, _ := v.(*StoredResponse)
	return r, r != nil
}

// IsReplay reports whether a stored response exists for this request.
func IsReplay(c *gin.Context) bool {
	_, ok := StoredReplay(c)
	return ok
}

// IdempotencyOptions configures header validation behavior for
// IdempotencyValidator. TTL is enforced by the lookup.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp

	// Reserve claims (user, route, key) before the handler runs and returns
	// ErrIdempotencyInFlight when it is held. Nil disables the claim.
	Reserve func(ctx context.Context, userID, route, key string) error
	// Release drops the claim after the handler returns unless the handler
	// completed it.
	Release func(ctx context.Context, userID, route, key string) error
}

// IdempotencyLookup returns the still-valid response stored for
// (userID, route, key) at now, or nil when there is none. Errors are lookup
// failures and do not block normal processing.
type IdempotencyLookup func(ctx context.Context, userID, route, key string, now time.Time) (*StoredResponse, error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it in the request context, and checks for a stored response via
// lookup. The route is the matched Gin pattern (c.FullPath()).
//
// Behavior:
//   - If header is absent: the middleware is a no-op.
//   - If header fails validation: responds 400.
//   - If lookup finds a stored response: marks replay + rate bypass.
//   - Otherwise, with Reserve set: claims the key, or responds 409 when
//     another request holds it.
//   - Invokes the next handler unless validation or the claim fails.
//
// Install after Auth so the lookup is scoped to the caller.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortError(c, http.StatusBadRequest, "bad_request", "invalid Idempotency-Key")
			return
		}

		c.Set(ctxKeyIdemKey, key)

		uid, route := userIDFromCtx(c), c.FullPath()
		find := func() bool {
			if lookup == nil {
				return false
			}
			stored, err := lookup(c.Request.Context(), uid, route, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if stored == nil {
				return false
			}
			c.Set(ctxKeyIdemReplay, stored)
			c.Set(ctxKeyRateBypass, true)
			return true
		}

		if find() || opts.Reserve == nil {
			c.Next()
			return
		}

		err := opts.Reserve(c.Request.Context(), uid, route, key)
		switch {
		case errors.Is(err, ErrIdempotencyInFlight):
			// The holder may have finished since the first lookup.
			if find() {
				c.Next()
				return
			}
			abortError(c, http.StatusConflict, "conflict", "a request with this Idempotency-Key is still in progress")
			return
		case err != nil:
			LoggerFrom(c).Warn().Err(err).Msg("idempotency reserve failed")
			c.Next()
			return
		}

		c.Next()

		if opts.Release != nil {
			if err := opts.Release(context.WithoutCancel(c.Request.Context()), uid, route, key); err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency release failed")
			}
		}
	}
}

// userIDFromCtx extracts the user identifier set by Auth. Anonymous requests
// share the empty identity.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
