// Package storage defines the durable key-value store the chat session
// persists into. Implementations offer per-key reads and writes only; atomic
// multi-key writes are an optional capability (Batcher).
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("storage: store closed")

// Store is an asynchronous-style per-key get/set/remove store. Get reports
// found=false for absent keys rather than returning an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Entry is one write inside a batch. Remove entries ignore Value.
type Entry struct {
	Key    string
	Value  string
	Remove bool
}

// Batcher is implemented by stores that can apply several writes atomically.
type Batcher interface {
	Apply(ctx context.Context, entries []Entry) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// ApplyInOrder writes entries one by one, stopping at the first failure.
// It is the fallback used when a store is not a Batcher.
func ApplyInOrder(ctx context.Context, s Store, entries []Entry) error {
	for _, e := range entries {
		var err error
		if e.Remove {
			err = s.Remove(ctx, e.Key)
		} else {
			err = s.Set(ctx, e.Key, e.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
