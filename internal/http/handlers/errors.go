// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes give clients a stable, machine-readable error taxonomy next to
// the human-readable `error` message. Generic codes mirror HTTP status
// semantics; domain codes name failures the status alone cannot convey
// (a 403 is either an exhausted quota or a premium-only video).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "quota_exceeded",
//	  "error": "enhancement limit reached (10/10 used)",
//	  "enhancementsUsed": 10,
//	  "enhancementsLimit": 10,
//	  "resetsInHours": 7
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeQuotaExceeded    = "quota_exceeded"
	ErrCodePremiumRequired  = "premium_required"
	ErrCodeGenerationFailed = "generation_failed"
)
