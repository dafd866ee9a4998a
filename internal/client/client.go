// Package client is the sidebar's typed client for the study API.
//
// Generation calls spend the caller's quota, so they are re-sent only when the
// request never left the client, and they carry an Idempotency-Key that stays
// fixed across those attempts. Once a generation request has been written,
// any failure is returned to the caller as is.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultAttempts bounds attempts per call.
	DefaultAttempts = 3
	// DefaultBackoff is multiplied by the attempt number between retries.
	DefaultBackoff = 200 * time.Millisecond

	headerIdempotencyKey = "Idempotency-Key"
	maxResponseBytes     = 8 << 20
)

// Client calls the API at BaseURL (including the /api prefix).
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxAttempts int
	Backoff     time.Duration

	// NewKey mints idempotency keys; defaults to uuid.NewString.
	NewKey func() string

	// Pace, when set, spaces out every attempt including retries.
	Pace *rate.Limiter

	mu    sync.RWMutex
	token string
}

// New returns a client with default retry settings.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTPClient:  &http.Client{Timeout: 60 * time.Second},
		MaxAttempts: DefaultAttempts,
		Backoff:     DefaultBackoff,
	}
}

// SetToken sets the bearer token sent on protected calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// call describes one logical request.
type call struct {
	method     string
	path       string
	in         any
	out        any
	// charged calls spend quota on the server.
	charged bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	var payload []byte
	if cl.in != nil {
		raw, err := json.Marshal(cl.in)
		if err != nil {
			return fmt.Errorf("client: encode %s: %w", cl.path, err)
		}
		payload = raw
	}
	var key string
	if cl.charged {
		key = c.newKey()
	}

	log := zerolog.Ctx(ctx)
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		resp, wrote, err := c.send(ctx, cl, payload, key)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if wrote && cl.charged {
				return fmt.Errorf("%w: %s %s: %v", ErrNoResponse, cl.method, cl.path, err)
			}
			if attempt >= attempts {
				return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, cl.method, cl.path, err)
			}
			log.Debug().Err(err).Int("attempt", attempt).Str("path", cl.path).Msg("retrying request")
		case transientStatus(resp.StatusCode) && !cl.charged:
			if attempt >= attempts {
				return fmt.Errorf("%w: %w", ErrUnreachable, decode(resp, nil))
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			log.Debug().Int("status", resp.StatusCode).Int("attempt", attempt).Str("path", cl.path).Msg("retrying request")
		default:
			return decode(resp, cl.out)
		}
		if err := sleep(ctx, time.Duration(attempt)*c.Backoff); err != nil {
			return err
		}
	}
}

// send performs one attempt. wrote reports whether the full request reached
// the connection, after which the server may have acted on it.
func (c *Client) send(ctx context.Context, cl call, payload []byte, key string) (resp *http.Response, wrote bool, err error) {
	if c.Pace != nil {
		if err := c.Pace.Wait(ctx); err != nil {
			return nil, false, err
		}
	}
	var written atomic.Bool
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	})
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.BaseURL+cl.path, body)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}
	resp, err = c.httpClient().Do(req)
	return resp, written.Load(), err
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var env errorEnvelope
		_ = json.Unmarshal(raw, &env)
		return env.toError(resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) newKey() string {
	if c.NewKey != nil {
		return c.NewKey()
	}
	return uuid.NewString()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsUnreachable reports whether err means the server could not be reached,
// as opposed to the server refusing the request.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
