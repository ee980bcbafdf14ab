// Package chat owns the local chat store: the active/archived chat lists,
// their message histories, moves between the two, and persistence of all of
// it to a key-value store.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/companion/backend/internal/model/chat"
	"github.com/zhouzirui/companion/backend/internal/model/locale"
	"github.com/zhouzirui/companion/backend/internal/storage"
)

var (
	// ErrNotReady is returned by operations issued before Init.
	ErrNotReady = errors.New("chat: session not initialised")
	// ErrClosed is returned by operations issued after Dispose.
	ErrClosed = errors.New("chat: session disposed")
	// ErrChatNotFound is returned by lookups for an unknown chat id.
	ErrChatNotFound = errors.New("chat: chat not found")
	// ErrInvalidMessage is returned for messages without a known sender.
	ErrInvalidMessage = errors.New("chat: invalid message")
)

// Config controls session behaviour.
type Config struct {
	DefaultLanguage string
	DefaultTitle    string
	// RepairOnLoad runs Reconcile during Init and persists its fixes.
	RepairOnLoad bool
	Persist      PersistConfig
	// NewID overrides the chat id generator.
	NewID func() string
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateReady
	stateClosed
)

// Located is a chat summary together with the partition holding it.
type Located struct {
	model.Summary
	Partition model.Partition `json:"-"`
}

// Service is the chat session. It serialises every operation, keeps the
// in-memory lists and histories authoritative, and mirrors each committed
// change to the store in commit order.
type Service struct {
	mu    sync.RWMutex
	state lifecycle

	cfg     Config
	store   storage.Store
	locales locale.Store
	log     zerolog.Logger

	bridge   *Bridge
	registry *Registry
	ledger   *Ledger
	mover    *Mover
	events   *broadcaster

	language    string
	firstLaunch bool
}

// NewService creates a session over store. Call Init before use.
func NewService(store storage.Store, locales locale.Store, cfg Config, log zerolog.Logger) *Service {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = locale.DefaultCode
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = model.DefaultTitle
	}
	if cfg.NewID == nil {
		cfg.NewID = newChatID
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		locales: locales,
		log:     log.With().Str("component", "chat").Logger(),
		events:  newBroadcaster(),
	}
}

func newChatID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Init rehydrates state from the store. Operations are rejected until it
// returns successfully. Calling Init again is a no-op.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}

	bridge := NewBridge(s.store, s.cfg.Persist, s.log)
	snap, err := bridge.Load(ctx)
	if err != nil {
		bridge.Close()
		return errors.Wrap(err, "load chat state")
	}

	s.bridge = bridge
	s.registry = NewRegistry(snap.Active, snap.Archived, s.cfg.NewID)
	s.ledger = NewLedger(snap.ActiveMessages, snap.ArchivedMessages)
	s.mover = NewMover(s.registry, s.ledger)
	s.language = snap.Language
	if s.language == "" {
		s.language = s.cfg.DefaultLanguage
	}

	s.firstLaunch = !snap.Launched
	if s.firstLaunch {
		s.persist(ctx, KeyHasLaunched)
	}

	if s.cfg.RepairOnLoad {
		rep := Reconcile(s.registry, s.ledger)
		if rep.Changed() {
			s.log.Warn().
				Strs("duplicates", rep.DuplicateChats).
				Strs("relocated", rep.Relocated).
				Strs("dropped", rep.DroppedCopies).
				Msg("repaired interrupted chat moves")
			s.persist(ctx, repairKeys(rep)...)
		}
		if len(rep.Orphans) > 0 {
			s.log.Warn().Strs("chats", rep.Orphans).Msg("histories without a chat")
		}
	}

	s.state = stateReady
	s.log.Info().
		Int("active", len(s.registry.active)).
		Int("archived", len(s.registry.archived)).
		Str("language", s.language).
		Bool("first_launch", s.firstLaunch).
		Msg("chat session ready")
	return nil
}

// Dispose flushes pending writes and stops the session. Later calls return
// ErrClosed. The store is not closed.
func (s *Service) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	bridge := s.bridge
	s.mu.Unlock()

	s.events.closeAll()
	if bridge == nil {
		return nil
	}
	err := bridge.Sync(ctx)
	bridge.Close()
	if err != nil {
		return errors.Wrap(err, "flush chat state")
	}
	return nil
}

// Ready reports whether Init has completed and Dispose has not been called.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateReady
}

// Sync waits until every change committed so far has reached the store.
func (s *Service) Sync(ctx context.Context) error {
	s.mu.RLock()
	if err := s.checkState(); err != nil {
		s.mu.RUnlock()
		return err
	}
	bridge := s.bridge
	s.mu.RUnlock()
	return bridge.Sync(ctx)
}

// Subscribe returns a channel of committed change events and a cancel func.
func (s *Service) Subscribe(buffer int) (<-chan model.Event, func()) {
	return s.events.subscribe(buffer)
}

// FirstLaunch reports whether this store had never been initialised before.
func (s *Service) FirstLaunch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstLaunch
}

// Language returns the selected language code.
func (s *Service) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.language == "" {
		return s.cfg.DefaultLanguage
	}
	return s.language
}

// SetLanguage selects the language used for new greetings and replies.
func (s *Service) SetLanguage(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return err
	}
	if code == s.language {
		return nil
	}
	s.language = code
	s.persist(ctx, KeyLanguage)
	s.emit(model.EventLanguage, "")
	return nil
}

// ActiveChats lists active chats, newest first.
func (s *Service) ActiveChats() ([]model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkState(); err != nil {
		return nil, err
	}
	return s.registry.Active(), nil
}

// ArchivedChats lists archived chats, most recently archived first.
func (s *Service) ArchivedChats() ([]model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkState(); err != nil {
		return nil, err
	}
	return s.registry.Archived(), nil
}

// Chat looks up one chat in either partition.
func (s *Service) Chat(id string) (Located, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkState(); err != nil {
		return Located{}, err
	}
	sum, p, ok := s.registry.Lookup(id)
	if !ok {
		return Located{}, ErrChatNotFound
	}
	return Located{Summary: sum, Partition: p}, nil
}

// CreateChat adds an active chat seeded with a greeting in the selected
// language.
func (s *Service) CreateChat(ctx context.Context, title string) (model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return model.Summary{}, err
	}
	if title == "" {
		title = s.cfg.DefaultTitle
	}
	sum := s.registry.Create(title)
	s.ledger.AppendTo(sum.ID, model.Active, s.greeting())

	s.persist(ctx, KeyMessages, KeyChats)
	s.emit(model.EventCreated, sum.ID)
	return sum, nil
}

// RenameChat retitles a chat in whichever partition holds it. Unknown ids
// report false.
func (s *Service) RenameChat(ctx context.Context, id, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return false, err
	}
	p, ok := s.registry.Rename(id, title)
	if !ok {
		return false, nil
	}
	s.persist(ctx, registryKey(p))
	s.emit(model.EventRenamed, id)
	return true, nil
}

// DeleteChat removes a chat and its history from both partitions. Deleting
// an unknown id reports false and changes nothing.
func (s *Service) DeleteChat(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return false, err
	}
	lists := s.registry.Delete(id)
	touched := s.ledger.Delete(id)
	found := len(lists) > 0
	if !found && len(touched) == 0 {
		return false, nil
	}

	keys := make([]string, 0, 4)
	for _, tp := range touched {
		keys = append(keys, messagesKey(tp))
	}
	for _, lp := range lists {
		keys = append(keys, registryKey(lp))
	}
	s.persist(ctx, keys...)
	if found {
		s.emit(model.EventDeleted, id)
	}
	return found, nil
}

// ArchiveChat moves an active chat and its history to the archive.
func (s *Service) ArchiveChat(ctx context.Context, id string) (bool, error) {
	return s.move(ctx, id, model.Active, model.Archived)
}

// UnarchiveChat restores an archived chat and its history.
func (s *Service) UnarchiveChat(ctx context.Context, id string) (bool, error) {
	return s.move(ctx, id, model.Archived, model.Active)
}

func (s *Service) move(ctx context.Context, id string, from, to model.Partition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return false, err
	}

	var (
		mv Move
		ok bool
	)
	if to == model.Archived {
		mv, ok = s.mover.Archive(id)
	} else {
		mv, ok = s.mover.Unarchive(id)
	}
	if !ok {
		return false, nil
	}

	s.persist(ctx, keysForMoves(from, to, mv)...)
	chatMovesTotal.WithLabelValues(to.String()).Inc()
	if to == model.Archived {
		s.emit(model.EventArchived, id)
	} else {
		s.emit(model.EventUnarchived, id)
	}
	return true, nil
}

// ArchiveAll archives every active chat and returns how many moved.
func (s *Service) ArchiveAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return 0, err
	}
	moves := s.mover.ArchiveAll()
	if len(moves) == 0 {
		return 0, nil
	}
	s.persist(ctx, keysForMoves(model.Active, model.Archived, moves...)...)
	chatMovesTotal.WithLabelValues(model.Archived.String()).Add(float64(len(moves)))
	s.emit(model.EventArchiveAll, "")
	return len(moves), nil
}

// DeleteAll deletes every active chat and its history. Archived chats are
// kept.
func (s *Service) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return 0, err
	}
	removed := s.registry.DeleteAll()
	if len(removed) == 0 {
		return 0, nil
	}

	dirty := map[model.Partition]bool{}
	archivedListChanged := false
	for _, sum := range removed {
		for _, p := range s.ledger.Delete(sum.ID) {
			dirty[p] = true
		}
		// An id left in both lists by a partial move goes entirely.
		if s.registry.contains(sum.ID, model.Archived) {
			s.registry.drop(sum.ID, model.Archived)
			archivedListChanged = true
		}
	}
	keys := make([]string, 0, 4)
	for _, p := range []model.Partition{model.Active, model.Archived} {
		if dirty[p] {
			keys = append(keys, messagesKey(p))
		}
	}
	keys = append(keys, KeyChats)
	if archivedListChanged {
		keys = append(keys, KeyArchivedChats)
	}

	s.persist(ctx, keys...)
	s.emit(model.EventDeleteAll, "")
	return len(removed), nil
}

// Reset wipes every chat and history in both partitions. The language and
// first-launch flag survive.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return err
	}
	s.registry.Reset()
	s.ledger.Reset()
	s.bridge.Persist(ctx,
		storage.Entry{Key: KeyArchivedMessages, Remove: true},
		storage.Entry{Key: KeyMessages, Remove: true},
		storage.Entry{Key: KeyArchivedChats, Remove: true},
		storage.Entry{Key: KeyChats, Remove: true},
	)
	s.emit(model.EventReset, "")
	return nil
}

// Repair runs Reconcile against the live state and persists its fixes.
func (s *Service) Repair(ctx context.Context) (RepairReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return RepairReport{}, err
	}
	rep := Reconcile(s.registry, s.ledger)
	if rep.Changed() {
		s.persist(ctx, repairKeys(rep)...)
	}
	return rep, nil
}

// AppendMessage adds msg to a chat's history and returns the stored message.
// A registered chat without history gets the greeting first. Messages for an
// unknown chat are kept under a new active history.
func (s *Service) AppendMessage(ctx context.Context, id string, msg model.Message) (model.Message, error) {
	if !msg.Sender.Valid() {
		return model.Message{}, errors.Wrapf(ErrInvalidMessage, "sender %q", msg.Sender)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return model.Message{}, err
	}
	s.appendLocked(ctx, id, msg)
	return msg, nil
}

func (s *Service) appendLocked(ctx context.Context, id string, msgs ...model.Message) {
	home, registered := s.registry.Locate(id)
	if !registered {
		s.log.Warn().Str("chat_id", id).Msg("appending to unknown chat")
	}
	if registered && !s.ledger.Has(id, model.Active) && !s.ledger.Has(id, model.Archived) {
		msgs = append([]model.Message{s.greeting()}, msgs...)
	}
	p := s.ledger.AppendTo(id, home, msgs...)
	s.persist(ctx, messagesKey(p))
	s.emit(model.EventMessage, id)
}

// History returns a chat's messages, oldest first. Unknown chats yield an
// empty slice.
func (s *Service) History(id string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkState(); err != nil {
		return nil, err
	}
	expected, _ := s.registry.Locate(id)
	return s.ledger.History(id, expected), nil
}

// ReplaceHistory overwrites a chat's messages, for example after restoring
// them from the remote store.
func (s *Service) ReplaceHistory(ctx context.Context, id string, msgs []model.Message) error {
	for _, m := range msgs {
		if !m.Sender.Valid() {
			return errors.Wrapf(ErrInvalidMessage, "sender %q", m.Sender)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return err
	}
	home, _ := s.registry.Locate(id)
	p := s.ledger.Replace(id, home, msgs)
	s.persist(ctx, messagesKey(p))
	s.emit(model.EventHistory, id)
	return nil
}

// DeleteHistory drops a chat's messages but keeps the chat.
func (s *Service) DeleteHistory(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return false, err
	}
	touched := s.ledger.Delete(id)
	if len(touched) == 0 {
		return false, nil
	}
	keys := make([]string, 0, len(touched))
	for _, p := range touched {
		keys = append(keys, messagesKey(p))
	}
	s.persist(ctx, keys...)
	s.emit(model.EventHistory, id)
	return true, nil
}

func (s *Service) checkState() error {
	switch s.state {
	case stateNew:
		return ErrNotReady
	case stateClosed:
		return ErrClosed
	}
	return nil
}

func (s *Service) greeting() model.Message {
	lang := s.locales.Resolve(s.language)
	return model.NewMessage(model.SenderAI, lang.Greeting, "")
}

func (s *Service) emit(kind model.EventKind, chatID string) {
	s.events.publish(model.Event{Kind: kind, ChatID: chatID, At: time.Now().UTC()})
}

// persist encodes keys from the current state and queues them as one batch.
// Callers hold s.mu so batches reach the writer in commit order.
func (s *Service) persist(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	entries := make([]storage.Entry, 0, len(keys))
	for _, key := range keys {
		v, err := s.encode(key)
		if err != nil {
			s.log.Error().Stack().Err(err).Str("key", key).Msg("encode failed, batch skipped")
			return
		}
		entries = append(entries, storage.Entry{Key: key, Value: v})
	}
	s.bridge.Persist(ctx, entries...)
}

func (s *Service) encode(key string) (string, error) {
	switch key {
	case KeyChats:
		return encodeSummaries(s.registry.active)
	case KeyArchivedChats:
		return encodeSummaries(s.registry.archived)
	case KeyMessages:
		return encodeHistories(s.ledger.active)
	case KeyArchivedMessages:
		return encodeHistories(s.ledger.archived)
	case KeyLanguage:
		return s.language, nil
	case KeyHasLaunched:
		return "true", nil
	}
	return "", errors.Errorf("unknown key %q", key)
}
