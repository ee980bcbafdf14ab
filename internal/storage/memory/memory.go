// Package memory provides an in-process storage.Store used by tests and the
// "memory" store driver. Failure hooks let tests simulate a flaky device store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/companion/backend/internal/storage"
)

// Store keeps values in a map guarded by a mutex.
type Store struct {
	mu     sync.Mutex
	data   map[string]string
	writes []storage.Entry
	closed bool

	// FailGet and FailSet, when set, are consulted before every read/write.
	// A non-nil error aborts the call without touching data.
	FailGet func(key string) error
	FailSet func(key string) error

	// RecordWrites keeps every successful write for Writes. Test use only;
	// the log is unbounded.
	RecordWrites bool
}

// New returns an empty store, optionally seeded with raw values.
func New(seed map[string]string) *Store {
	data := make(map[string]string, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &Store{data: data}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, storage.ErrClosed
	}
	if s.FailGet != nil {
		if err := s.FailGet(key); err != nil {
			return "", false, err
		}
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, storage.Entry{Key: key, Value: value})
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.write(ctx, storage.Entry{Key: key, Remove: true})
}

func (s *Store) write(ctx context.Context, e storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	if s.FailSet != nil {
		if err := s.FailSet(e.Key); err != nil {
			return err
		}
	}
	if e.Remove {
		delete(s.data, e.Key)
	} else {
		s.data[e.Key] = e.Value
	}
	if s.RecordWrites {
		s.writes = append(s.writes, e)
	}
	return nil
}

// Keys implements storage.Lister.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Writes returns every successful write in the order it was applied. It is
// empty unless RecordWrites is set.
func (s *Store) Writes() []storage.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Entry(nil), s.writes...)
}

// Raw returns the stored value without going through failure hooks.
func (s *Store) Raw(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
