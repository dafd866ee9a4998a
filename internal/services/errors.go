// Package services defines the business logic for accounts, quota, and
// artifact generation. This file centralizes service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// Translation into user-facing messages and HTTP status codes is performed
// at the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-study-sidebar/internal/llm"
)

// Account and token errors.
var (
	// ErrValidation marks missing or malformed input. Concrete failures are
	// *ValidationError values that match it with errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidToken is returned for malformed or wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")

	// ErrResetTokenInvalid is returned when a password reset token is unknown,
	// expired or already used.
	ErrResetTokenInvalid = errors.New("reset token is invalid or expired")

	// ErrUserNotFound indicates the account does not exist (or was deleted
	// while a token referencing it is still in circulation).
	ErrUserNotFound = errors.New("user not found")
)

// Quota and generation errors.
var (
	// ErrQuotaExceeded matches *QuotaExceededError.
	ErrQuotaExceeded = errors.New("enhancement limit reached")

	// ErrPremiumRequired is returned for content only premium accounts may
	// process (videos longer than the configured threshold).
	ErrPremiumRequired = errors.New("premium subscription required")

	// ErrGenerationFailed matches *GenerationError.
	ErrGenerationFailed = errors.New("generation failed")
)

// ValidationError describes one invalid input. Its message is safe to show
// to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// QuotaExceededError carries the unchanged counters so the caller can report
// "N/M used, resets in H hours".
type QuotaExceededError struct {
	Usage UsageSnapshot
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("enhancement limit reached (%d/%d used)", e.Usage.EnhancementsUsed, e.Usage.EnhancementsLimit)
}

// Is makes errors.Is(err, ErrQuotaExceeded) true.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// GenerationError wraps a completion provider failure for one artifact.
type GenerationError struct {
	Artifact string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Artifact, e.Err)
}

// Unwrap exposes both ErrGenerationFailed and the provider error.
func (e *GenerationError) Unwrap() []error { return []error{ErrGenerationFailed, e.Err} }

// Message is the provider's own description of the failure when it sent
// one, otherwise the wrapped error text.
func (e *GenerationError) Message() string {
	var apiErr *llm.APIError
	if errors.As(e.Err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if e.Err == nil {
		return ErrGenerationFailed.Error()
	}
	return e.Err.Error()
}
