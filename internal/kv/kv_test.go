package kv

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("kv_%d.db", time.Now().UnixNano()))
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return map[string]Store{"memory": NewMemory(), "sqlite": s}
}

func TestStore_RoundTripAndOverwrite(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var got record
			assert.ErrorIs(t, s.Get(ctx, "summary_abc", &got), ErrNotFound)

			require.NoError(t, s.Set(ctx, "summary_abc", record{Content: "<p>v1</p>", Timestamp: at}))
			require.NoError(t, s.Set(ctx, "summary_abc", record{Content: "<p>v2</p>", Timestamp: at.Add(time.Minute)}))

			require.NoError(t, s.Get(ctx, "summary_abc", &got))
			assert.Equal(t, "<p>v2</p>", got.Content)
			assert.True(t, got.Timestamp.Equal(at.Add(time.Minute)))

			require.NoError(t, s.Delete(ctx, "summary_abc"))
			require.NoError(t, s.Delete(ctx, "summary_abc"))
			assert.ErrorIs(t, s.Get(ctx, "summary_abc", &got), ErrNotFound)
		})
	}
}

func TestStore_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"quiz_b", "quiz_a", "summary_a", "quizzes", "quiz%x"} {
				require.NoError(t, s.Set(ctx, k, 1))
			}
			keys, err := s.Keys(ctx, "quiz_")
			require.NoError(t, err)
			assert.Equal(t, []string{"quiz_a", "quiz_b"}, keys)

			keys, err = s.Keys(ctx, "quiz%")
			require.NoError(t, err)
			assert.Equal(t, []string{"quiz%x"}, keys)

			all, err := s.Keys(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 5)
		})
	}
}
