// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all
// endpoints: the error envelope, the quota-exceeded variant carrying the
// caller's counters, and the mapping from service errors to statuses.
//
// Example error response:
//
//	HTTP/1.1 401 Unauthorized
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "unauthorized",
//	  "error": "token expired"
//	}
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-study-sidebar/internal/http/middleware"
	"github.com/tbourn/go-study-sidebar/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Error string `json:"error" example:"user not found"`
}

// QuotaErrorResponse is the 403 body for an exhausted enhancement quota.
type QuotaErrorResponse struct {
	ErrorResponse
	EnhancementsUsed  int `json:"enhancementsUsed" example:"10"`
	EnhancementsLimit int `json:"enhancementsLimit" example:"10"`
	ResetsInHours     int `json:"resetsInHours" example:"7"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Error:     msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("error", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failQuota aborts with 403 and the caller's counters.
func failQuota(c *gin.Context, qe *services.QuotaExceededError, now time.Time) {
	c.AbortWithStatusJSON(http.StatusForbidden, QuotaErrorResponse{
		ErrorResponse: ErrorResponse{
			RequestID: c.Writer.Header().Get("X-Request-ID"),
			Code:      ErrCodeQuotaExceeded,
			Error:     qe.Error(),
		},
		EnhancementsUsed:  qe.Usage.EnhancementsUsed,
		EnhancementsLimit: qe.Usage.EnhancementsLimit,
		ResetsInHours:     qe.Usage.ResetsInHours(now),
	})
}

// failErr maps a service error onto the envelope. Unknown errors are logged
// and reported as a generic 500 so internals never reach the client.
func failErr(c *gin.Context, err error, now time.Time) {
	var (
		qe *services.QuotaExceededError
		ge *services.GenerationError
		ve *services.ValidationError
	)
	switch {
	case errors.As(err, &qe):
		failQuota(c, qe, now)
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, ve.Msg)
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrExpiredToken):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, services.ErrResetTokenInvalid):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrEmailTaken):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrPremiumRequired):
		fail(c, http.StatusForbidden, ErrCodePremiumRequired, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.As(err, &ge):
		middleware.LoggerFrom(c).Error().Err(err).Str("artifact", ge.Artifact).Msg("generation failed")
		fail(c, http.StatusInternalServerError, ErrCodeGenerationFailed, ge.Message())
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
