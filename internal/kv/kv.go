// Package kv is the client's local key/value store. Values are JSON encoded
// so callers persist plain structs.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("kv: key not found")

// Store persists JSON values by key.
type Store interface {
	// Get decodes the value under key into dst or returns ErrNotFound.
	Get(ctx context.Context, key string, dst any) error
	// Set overwrites the value under key.
	Set(ctx context.Context, key string, v any) error
	// Delete removes key; a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
