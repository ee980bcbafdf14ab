package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion/backend/internal/storage"
	"github.com/zhouzirui/companion/backend/internal/storage/memory"
)

func fastPersist() PersistConfig {
	return PersistConfig{
		QueueSize:      8,
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxInterval:    5 * time.Millisecond,
		EnqueueTimeout: 50 * time.Millisecond,
	}
}

func TestWriterAppliesBatchesInOrder(t *testing.T) {
	store := memory.New(nil)
	store.RecordWrites = true
	w := newWriter(store, fastPersist(), zerolog.Nop())
	defer w.Stop()

	ctx := context.Background()
	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, w.Submit(ctx, []storage.Entry{{Key: "k", Value: v}, {Key: "other", Value: v}}))
	}
	require.NoError(t, w.Barrier(ctx))

	var got []string
	for _, e := range store.Writes() {
		got = append(got, e.Key+"="+e.Value)
	}
	require.Equal(t, []string{"k=1", "other=1", "k=2", "other=2", "k=3", "other=3"}, got)
}

func TestWriterRetriesTransientFailures(t *testing.T) {
	store := memory.New(nil)
	var calls int32
	store.FailSet = func(string) error {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return errors.New("busy")
		}
		return nil
	}
	w := newWriter(store, fastPersist(), zerolog.Nop())
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, w.Submit(ctx, []storage.Entry{{Key: "chats", Value: "[]"}}))
	require.NoError(t, w.Barrier(ctx))

	v, ok := store.Raw("chats")
	require.True(t, ok)
	require.Equal(t, "[]", v)
}

func TestWriterDropsBatchAfterMaxAttempts(t *testing.T) {
	store := memory.New(nil)
	boom := errors.New("disk full")
	store.FailSet = func(key string) error {
		if key == "bad" {
			return boom
		}
		return nil
	}

	var (
		mu      sync.Mutex
		dropped [][]storage.Entry
	)
	cfg := fastPersist()
	cfg.ErrorHandler = func(entries []storage.Entry, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.ErrorIs(t, err, boom)
		dropped = append(dropped, entries)
	}
	w := newWriter(store, cfg, zerolog.Nop())
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, w.Submit(ctx, []storage.Entry{{Key: "bad", Value: "x"}}))
	require.NoError(t, w.Submit(ctx, []storage.Entry{{Key: "good", Value: "y"}}))
	require.NoError(t, w.Barrier(ctx))

	mu.Lock()
	require.Len(t, dropped, 1)
	mu.Unlock()
	v, ok := store.Raw("good")
	require.True(t, ok)
	require.Equal(t, "y", v)
}

func TestWriterStopDrainsAndRejects(t *testing.T) {
	store := memory.New(nil)
	w := newWriter(store, fastPersist(), zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, w.Submit(ctx, []storage.Entry{{Key: "a", Value: "1"}}))
	w.Stop()
	w.Stop()

	_, ok := store.Raw("a")
	require.True(t, ok)
	require.ErrorIs(t, w.Submit(ctx, []storage.Entry{{Key: "b", Value: "2"}}), ErrWriterClosed)
	require.ErrorIs(t, w.Barrier(ctx), ErrWriterClosed)
}

func TestWriterUsesBatcherWhenAvailable(t *testing.T) {
	store := &batchingStore{Store: memory.New(nil)}
	w := newWriter(store, fastPersist(), zerolog.Nop())
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, w.Submit(ctx, []storage.Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}))
	require.NoError(t, w.Barrier(ctx))
	require.Equal(t, int32(1), atomic.LoadInt32(&store.batches))
}

type batchingStore struct {
	*memory.Store
	batches int32
}

func (s *batchingStore) Apply(ctx context.Context, entries []storage.Entry) error {
	atomic.AddInt32(&s.batches, 1)
	return storage.ApplyInOrder(ctx, s.Store, entries)
}
