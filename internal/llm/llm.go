// Package llm talks to the completion provider. The provider is treated as an
// opaque text/vision generation service reached over an OpenAI-compatible
// chat-completions API.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Roles used in chat-completion messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentinel errors mapped from provider HTTP responses.
var (
	ErrRateLimited         = errors.New("llm: rate limited by provider")
	ErrAuthFailed          = errors.New("llm: authentication failed")
	ErrInvalidRequest      = errors.New("llm: invalid request")
	ErrProviderUnavailable = errors.New("llm: provider unavailable")
	ErrEmptyCompletion     = errors.New("llm: empty completion")
)

// Message is one chat turn. ImageURL (http(s) or data URL) is only honoured
// on user messages of vision requests.
type Message struct {
	Role     string
	Content  string
	ImageURL string
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	Vision      bool // route to the vision-capable model
	Temperature *float64
	MaxTokens   *int
}

// Usage reports token accounting returned by the provider.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Response is the first choice of a completion.
type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Provider produces completions.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (Response, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// APIError carries the provider's HTTP status and message. It unwraps to one
// of the sentinel errors above.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.Err, e.Status)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Err, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Float and Int return pointers for optional request parameters.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
