package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	model "github.com/zhouzirui/companion/backend/internal/model/chat"
	"github.com/zhouzirui/companion/backend/internal/storage"
)

// corruptSuffix marks the key an unparsable value is copied to before the
// session starts overwriting the original key.
const corruptSuffix = ".corrupt"

// Snapshot is the in-memory state rebuilt from durable storage.
type Snapshot struct {
	Active           []model.Summary
	Archived         []model.Summary
	ActiveMessages   map[string][]model.Message
	ArchivedMessages map[string][]model.Message
	Language         string
	Launched         bool
}

// Bridge moves state between the session and the key-value store. Reads are
// tolerant: anything missing or malformed loads as empty. Writes go through an
// ordered background writer.
type Bridge struct {
	store  storage.Store
	writer *writer
	log    zerolog.Logger
}

// NewBridge starts the background writer for store.
func NewBridge(store storage.Store, cfg PersistConfig, log zerolog.Logger) *Bridge {
	log = log.With().Str("component", "persistence").Logger()
	return &Bridge{
		store:  store,
		writer: newWriter(store, cfg, log),
		log:    log,
	}
}

// Load reads every durable key concurrently. Individual read or parse failures
// are logged and the key defaults to empty; only ctx cancellation is returned.
func (b *Bridge) Load(ctx context.Context) (Snapshot, error) {
	var (
		mu  sync.Mutex
		raw = make(map[string]string, len(Keys))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range Keys {
		key := key
		g.Go(func() error {
			v, found, err := b.store.Get(gctx, key)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				b.log.Warn().Err(err).Str("key", key).Msg("read failed, using empty value")
				return nil
			}
			if found {
				mu.Lock()
				raw[key] = v
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Active:           b.summaries(ctx, raw, KeyChats),
		Archived:         b.summaries(ctx, raw, KeyArchivedChats),
		ActiveMessages:   b.histories(ctx, raw, KeyMessages),
		ArchivedMessages: b.histories(ctx, raw, KeyArchivedMessages),
		Language:         raw[KeyLanguage],
		Launched:         raw[KeyHasLaunched] != "",
	}
	return snap, nil
}

func (b *Bridge) summaries(ctx context.Context, raw map[string]string, key string) []model.Summary {
	v, ok := raw[key]
	if !ok || v == "" {
		return []model.Summary{}
	}
	items, err := DecodeSummaries(v)
	if err != nil {
		b.quarantine(ctx, key, v, err)
		return []model.Summary{}
	}
	return items
}

func (b *Bridge) histories(ctx context.Context, raw map[string]string, key string) map[string][]model.Message {
	v, ok := raw[key]
	if !ok || v == "" {
		return map[string][]model.Message{}
	}
	m, bad, err := DecodeHistories(v)
	if err != nil {
		b.quarantine(ctx, key, v, err)
		return map[string][]model.Message{}
	}
	if len(bad) > 0 {
		b.log.Warn().Str("key", key).Strs("chats", bad).Msg("skipped unparsable chat histories")
		b.Persist(ctx, storage.Entry{Key: key + corruptSuffix, Value: v})
	}
	return m
}

// quarantine keeps a copy of an unparsable value so the next write of key does
// not lose it for good.
func (b *Bridge) quarantine(ctx context.Context, key, value string, err error) {
	b.log.Warn().Err(err).Str("key", key).Msg("malformed value, using empty default")
	b.Persist(ctx, storage.Entry{Key: key + corruptSuffix, Value: value})
}

// Persist queues entries as one batch. Failures are logged; the in-memory
// state stays authoritative.
func (b *Bridge) Persist(ctx context.Context, entries ...storage.Entry) {
	if err := b.writer.Submit(context.WithoutCancel(ctx), entries); err != nil {
		flushesTotal.WithLabelValues("dropped").Inc()
		b.log.Error().Err(err).Strs("keys", entryKeys(entries)).Msg("persist batch not queued")
	}
}

// Sync blocks until everything persisted so far has been written or dropped.
func (b *Bridge) Sync(ctx context.Context) error {
	return b.writer.Barrier(ctx)
}

// Close drains pending writes and stops the writer. The store itself is left
// open for its owner to close.
func (b *Bridge) Close() {
	b.writer.Stop()
}
