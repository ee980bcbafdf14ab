package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion/backend/internal/storage"
)

var (
	// ErrWriterClosed is returned when a batch is submitted after Stop.
	ErrWriterClosed = errors.New("chat: persistence writer closed")
	// ErrQueueFull is returned when no queue slot frees up within the enqueue
	// timeout.
	ErrQueueFull = errors.New("chat: persistence queue full")
)

// PersistConfig tunes the background writer. Zero values take defaults.
type PersistConfig struct {
	QueueSize      int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxInterval    time.Duration
	EnqueueTimeout time.Duration
	// AttemptTimeout bounds a single batch write.
	AttemptTimeout time.Duration
	// ErrorHandler is called once per batch that could not be written.
	ErrorHandler func(entries []storage.Entry, err error)
}

func (c PersistConfig) withDefaults() PersistConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 50 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 200 * time.Millisecond
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Second
	}
	return c
}

type batch struct {
	entries []storage.Entry
	// barrier is closed once every batch queued before it has been handled.
	barrier chan struct{}
}

// writer applies batches to the store on a single goroutine, strictly in
// submission order. A failing batch is retried with exponential backoff and
// then dropped; later batches still run.
type writer struct {
	cfg   PersistConfig
	store storage.Store
	log   zerolog.Logger

	queue  chan batch
	done   chan struct{}
	closed uint32
	wg     sync.WaitGroup
}

func newWriter(store storage.Store, cfg PersistConfig, log zerolog.Logger) *writer {
	cfg = cfg.withDefaults()
	w := &writer{
		cfg:   cfg,
		store: store,
		log:   log,
		queue: make(chan batch, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Submit enqueues entries. ctx only bounds the wait for a queue slot; the
// write itself runs detached from the caller.
func (w *writer) Submit(ctx context.Context, entries []storage.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return w.enqueue(ctx, batch{entries: entries})
}

// Barrier waits until every batch submitted before it has been written or
// given up on.
func (w *writer) Barrier(ctx context.Context) error {
	b := batch{barrier: make(chan struct{})}
	if err := w.enqueue(ctx, b); err != nil {
		return err
	}
	select {
	case <-b.barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued batches with a single attempt each and waits for the
// worker to exit. It is idempotent.
func (w *writer) Stop() {
	if !atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		return
	}
	close(w.done)
	w.wg.Wait()
}

func (w *writer) enqueue(ctx context.Context, b batch) error {
	if atomic.LoadUint32(&w.closed) == 1 {
		return ErrWriterClosed
	}
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}

	timer := time.NewTimer(w.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case w.queue <- b:
		return nil
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Wrapf(ErrQueueFull, "%d batches pending", len(w.queue))
	}
}

func (w *writer) run() {
	defer w.wg.Done()
	for {
		select {
		case b := <-w.queue:
			w.handle(b, true)
			queueDepth.Set(float64(len(w.queue)))
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *writer) drain() {
	n := 0
	for {
		select {
		case b := <-w.queue:
			w.handle(b, false)
			n++
		default:
			if n > 0 {
				w.log.Info().Int("batches", n).Msg("persistence queue drained")
			}
			queueDepth.Set(0)
			return
		}
	}
}

func (w *writer) handle(b batch, retry bool) {
	if b.barrier != nil {
		close(b.barrier)
		return
	}

	attempts := w.cfg.MaxAttempts
	if !retry {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = w.cfg.MaxInterval
	exp.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		if err = w.apply(b.entries); err == nil {
			flushesTotal.WithLabelValues("ok").Inc()
			for _, e := range b.entries {
				keyWritesTotal.WithLabelValues(e.Key).Inc()
			}
			return
		}
		if attempt >= attempts {
			break
		}
		writeRetriesTotal.Inc()
		w.log.Warn().Err(err).Int("attempt", attempt).Msg("persist batch failed, retrying")

		select {
		case <-time.After(exp.NextBackOff()):
		case <-w.done:
			// shutting down: one last try, then give up
			attempts = attempt + 1
		}
	}

	flushesTotal.WithLabelValues("failed").Inc()
	w.log.Error().Stack().Err(err).Strs("keys", entryKeys(b.entries)).Msg("persist batch dropped")
	w.safeHandleError(b.entries, err)
}

func (w *writer) apply(entries []storage.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	defer func() { flushDuration.Observe(time.Since(start).Seconds()) }()

	if b, ok := w.store.(storage.Batcher); ok {
		return b.Apply(ctx, entries)
	}
	return storage.ApplyInOrder(ctx, w.store, entries)
}

func (w *writer) safeHandleError(entries []storage.Entry, err error) {
	if w.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("persist error handler panicked")
		}
	}()
	w.cfg.ErrorHandler(entries, err)
}

func entryKeys(entries []storage.Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}
