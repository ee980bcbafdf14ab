package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion/backend/internal/storage"
	"github.com/zhouzirui/companion/backend/internal/storage/storagetest"
)

func TestSQLiteStoreCompliance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
		require.NoError(t, err)
		return s
	})
}

func TestInMemoryDatabase(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "hasLaunched", "true"))
	v, found, err := s.Get(ctx, "hasLaunched")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "true", v)
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kv.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "chats", `[{"id":"a","title":"New Chat"}]`))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, found, err := s.Get(ctx, "chats")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `[{"id":"a","title":"New Chat"}]`, v)
}

func TestApplyRollsBackOnCancelledContext(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "chats", "[]"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.Apply(cancelled, []storage.Entry{{Key: "chats", Value: `[{"id":"x","title":"t"}]`}})
	require.Error(t, err)

	v, _, err := s.Get(ctx, "chats")
	require.NoError(t, err)
	require.Equal(t, "[]", v)
}
