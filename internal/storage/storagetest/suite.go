// Package storagetest holds a compliance suite shared by storage.Store
// implementations.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion/backend/internal/storage"
)

// Run exercises the storage.Store contract. makeStore must return a clean,
// isolated store; the suite closes it.
func Run(t *testing.T, makeStore func(t *testing.T) storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key is not an error", func(t *testing.T) {
		s := makeStore(t)
		defer s.Close()

		v, found, err := s.Get(ctx, "absent")
		require.NoError(t, err)
		require.False(t, found)
		require.Empty(t, v)
	})

	t.Run("set overwrites and remove deletes", func(t *testing.T) {
		s := makeStore(t)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "chats", `[]`))
		require.NoError(t, s.Set(ctx, "chats", `[{"id":"a","title":"New Chat"}]`))

		v, found, err := s.Get(ctx, "chats")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, `[{"id":"a","title":"New Chat"}]`, v)

		require.NoError(t, s.Remove(ctx, "chats"))
		require.NoError(t, s.Remove(ctx, "chats"), "removing an absent key must be a no-op")

		_, found, err = s.Get(ctx, "chats")
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("raw strings round trip", func(t *testing.T) {
		s := makeStore(t)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "language", "hi"))
		v, _, err := s.Get(ctx, "language")
		require.NoError(t, err)
		require.Equal(t, "hi", v)
	})

	t.Run("batch applies every entry", func(t *testing.T) {
		s := makeStore(t)
		defer s.Close()

		b, ok := s.(storage.Batcher)
		if !ok {
			t.Skip("store does not support atomic batches")
		}
		require.NoError(t, s.Set(ctx, "stale", "x"))
		err := b.Apply(ctx, []storage.Entry{
			{Key: "messages", Value: `{}`},
			{Key: "archivedChatsMessages", Value: `{"a":[]}`},
			{Key: "stale", Remove: true},
		})
		require.NoError(t, err)

		v, found, err := s.Get(ctx, "archivedChatsMessages")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, `{"a":[]}`, v)

		_, found, err = s.Get(ctx, "stale")
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("keys are listed sorted", func(t *testing.T) {
		s := makeStore(t)
		defer s.Close()

		l, ok := s.(storage.Lister)
		if !ok {
			t.Skip("store does not list keys")
		}
		require.NoError(t, s.Set(ctx, "messages", "{}"))
		require.NoError(t, s.Set(ctx, "chats", "[]"))

		keys, err := l.Keys(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"chats", "messages"}, keys)
	})
}
