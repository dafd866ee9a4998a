// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. A valid token stores the
// account id in the Gin context under "userID", which downstream handlers,
// the rate limiter, and the idempotency validator read.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenVerifier validates a raw bearer token and returns the user id it was
// issued for. The returned error message is shown to the client.
type TokenVerifier func(token string) (userID string, err error)

// Auth rejects requests without a valid "Authorization: Bearer <token>"
// header with 401:
//
//	{ "request_id": "...", "code": "unauthorized", "error": "token expired" }
func Auth(verify TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			unauthorized(c, "missing authorization header")
			return
		}
		token, found := cutBearer(header)
		if !found {
			unauthorized(c, "invalid authorization format")
			return
		}
		if token == "" {
			unauthorized(c, "empty token")
			return
		}

		uid, err := verify(token)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		if uid == "" {
			unauthorized(c, "invalid token")
			return
		}

		c.Set("userID", uid)
		l := LoggerFrom(c).With().Str("user_id", uid).Logger()
		attachLogger(c, l)
		c.Next()
	}
}

// HeaderAdminToken carries the shared secret for internal routes.
const HeaderAdminToken = "X-Admin-Token"

// AdminKey admits requests whose X-Admin-Token equals token. It is used for
// service-to-service calls such as billing webhooks, not for end users.
func AdminKey(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(strings.TrimSpace(c.GetHeader(HeaderAdminToken)))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			abortError(c, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		c.Next()
	}
}

// cutBearer strips a case-insensitive "Bearer " scheme.
func cutBearer(header string) (string, bool) {
	const scheme = "bearer "
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}
	return strings.TrimSpace(header[len(scheme):]), true
}

func unauthorized(c *gin.Context, msg string) {
	abortError(c, http.StatusUnauthorized, "unauthorized", msg)
}

// abortError writes the API error envelope and stops the chain.
func abortError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"error":      msg,
	})
}
