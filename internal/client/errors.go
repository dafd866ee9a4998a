package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors matched with errors.Is against values returned by Client.
var (
	ErrUnauthorized    = errors.New("client: unauthorized")
	ErrQuotaExceeded   = errors.New("client: enhancement limit reached")
	ErrPremiumRequired = errors.New("client: premium subscription required")
	ErrNotFound        = errors.New("client: not found")
	ErrUnreachable     = errors.New("client: server unreachable")

	// ErrNoResponse means a generation request was delivered but no usable
	// response came back. The server may have charged it; it is not re-sent.
	ErrNoResponse = errors.New("client: no response to delivered request")
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: status %d", e.Status)
	}
	return fmt.Sprintf("client: status %d: %s", e.Status, e.Message)
}

// Is maps statuses and codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrPremiumRequired:
		return e.Code == "premium_required"
	case ErrQuotaExceeded:
		return e.Code == "quota_exceeded"
	}
	return false
}

// QuotaError is a 403 quota_exceeded response with the caller's counters.
type QuotaError struct {
	APIError
	EnhancementsUsed  int
	EnhancementsLimit int
	ResetsInHours     int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("client: enhancement limit reached (%d/%d used, resets in %dh)",
		e.EnhancementsUsed, e.EnhancementsLimit, e.ResetsInHours)
}

// Unwrap exposes the embedded APIError to errors.Is and errors.As.
func (e *QuotaError) Unwrap() error { return &e.APIError }

// errorEnvelope is the server's error body.
type errorEnvelope struct {
	RequestID         string `json:"request_id"`
	Code              string `json:"code"`
	Error             string `json:"error"`
	EnhancementsUsed  int    `json:"enhancementsUsed"`
	EnhancementsLimit int    `json:"enhancementsLimit"`
	ResetsInHours     int    `json:"resetsInHours"`
}

func (env errorEnvelope) toError(status int) error {
	base := APIError{Status: status, Code: env.Code, Message: env.Error, RequestID: env.RequestID}
	if base.Message == "" {
		base.Message = http.StatusText(status)
	}
	if status == http.StatusForbidden && env.Code == "quota_exceeded" {
		return &QuotaError{
			APIError:          base,
			EnhancementsUsed:  env.EnhancementsUsed,
			EnhancementsLimit: env.EnhancementsLimit,
			ResetsInHours:     env.ResetsInHours,
		}
	}
	return &base
}

// transientStatus reports gateway failures worth retrying on calls that
// spend no quota.
func transientStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
