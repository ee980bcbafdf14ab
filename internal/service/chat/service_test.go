package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/companion/backend/internal/model/chat"
	"github.com/zhouzirui/companion/backend/internal/model/locale"
	chat "github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/internal/storage"
	"github.com/zhouzirui/companion/backend/internal/storage/memory"
)

func testConfig() chat.Config {
	n := 0
	return chat.Config{
		RepairOnLoad: true,
		Persist: chat.PersistConfig{
			MaxAttempts:    2,
			BaseBackoff:    time.Millisecond,
			MaxInterval:    2 * time.Millisecond,
			EnqueueTimeout: 100 * time.Millisecond,
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("chat-%d", n)
		},
	}
}

func newSession(t *testing.T, store storage.Store, cfg chat.Config) *chat.Service {
	t.Helper()
	svc := chat.NewService(store, locale.NewMemoryStore(locale.Seed()), cfg, zerolog.Nop())
	require.NoError(t, svc.Init(context.Background()))
	t.Cleanup(func() { _ = svc.Dispose(context.Background()) })
	return svc
}

func chatIDs(items []model.Summary) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s.ID
	}
	return out
}

func seedStore(active, archived []string, messages, archivedMessages map[string][]model.Message) *memory.Store {
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return string(b)
	}
	toSummaries := func(ids []string) []model.Summary {
		out := make([]model.Summary, 0, len(ids))
		for _, id := range ids {
			out = append(out, model.Summary{ID: id, Title: "chat " + id})
		}
		return out
	}
	if messages == nil {
		messages = map[string][]model.Message{}
	}
	if archivedMessages == nil {
		archivedMessages = map[string][]model.Message{}
	}
	store := memory.New(map[string]string{
		chat.KeyChats:            enc(toSummaries(active)),
		chat.KeyArchivedChats:    enc(toSummaries(archived)),
		chat.KeyMessages:         enc(messages),
		chat.KeyArchivedMessages: enc(archivedMessages),
		chat.KeyHasLaunched:      "true",
	})
	store.RecordWrites = true
	return store
}

func TestLifecycleErrors(t *testing.T) {
	ctx := context.Background()
	svc := chat.NewService(memory.New(nil), locale.NewMemoryStore(locale.Seed()), testConfig(), zerolog.Nop())

	_, err := svc.CreateChat(ctx, "")
	require.ErrorIs(t, err, chat.ErrNotReady)
	require.False(t, svc.Ready())

	require.NoError(t, svc.Init(ctx))
	require.NoError(t, svc.Init(ctx))
	require.True(t, svc.Ready())

	require.NoError(t, svc.Dispose(ctx))
	_, err = svc.ActiveChats()
	require.ErrorIs(t, err, chat.ErrClosed)
	require.ErrorIs(t, svc.Init(ctx), chat.ErrClosed)
	require.NoError(t, svc.Dispose(ctx))
}

func TestCreateChatGreetsInSelectedLanguage(t *testing.T) {
	ctx := context.Background()
	svc := newSession(t, seedStore([]string{"old"}, nil, nil, nil), testConfig())
	require.NoError(t, svc.SetLanguage(ctx, "hi"))

	sum, err := svc.CreateChat(ctx, "")
	require.NoError(t, err)
	require.Equal(t, model.DefaultTitle, sum.Title)

	active, err := svc.ActiveChats()
	require.NoError(t, err)
	require.Equal(t, []string{sum.ID, "old"}, chatIDs(active))

	history, err := svc.History(sum.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, model.SenderAI, history[0].Sender)
	require.Equal(t, "नमस्ते! आज मैं आपकी कैसे मदद कर सकता हूँ?", history[0].Text)
}

func TestArchiveRoundTripKeepsHistory(t *testing.T) {
	ctx := context.Background()
	svc := newSession(t, memory.New(nil), testConfig())

	sum, err := svc.CreateChat(ctx, "trip")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, sum.ID, model.NewMessage(model.SenderUser, "hello", "u1"))
	require.NoError(t, err)
	before, err := svc.History(sum.ID)
	require.NoError(t, err)

	ok, err := svc.ArchiveChat(ctx, sum.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.UnarchiveChat(ctx, sum.ID)
	require.NoError(t, err)
	require.True(t, ok)

	active, _ := svc.ActiveChats()
	archived, _ := svc.ArchivedChats()
	require.Equal(t, []model.Summary{sum}, active)
	require.Empty(t, archived)

	after, err := svc.History(sum.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestPartitionExclusivity(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	svc := newSession(t, store, testConfig())

	var created []string
	for i := 0; i < 6; i++ {
		s, err := svc.CreateChat(ctx, "")
		require.NoError(t, err)
		created = append(created, s.ID)
	}
	steps := []func() error{
		func() error { _, err := svc.ArchiveChat(ctx, created[0]); return err },
		func() error { _, err := svc.ArchiveChat(ctx, created[1]); return err },
		func() error { _, err := svc.UnarchiveChat(ctx, created[0]); return err },
		func() error { _, err := svc.DeleteChat(ctx, created[2]); return err },
		func() error { _, err := svc.ArchiveAll(ctx); return err },
		func() error { _, err := svc.UnarchiveChat(ctx, created[3]); return err },
		func() error { _, err := svc.RenameChat(ctx, created[4], "renamed"); return err },
	}
	for _, step := range steps {
		require.NoError(t, step())
		assertExclusive(t, svc)
	}

	require.NoError(t, svc.Sync(ctx))
	var persistedActive, persistedArchived []model.Summary
	raw, _ := store.Raw(chat.KeyChats)
	require.NoError(t, json.Unmarshal([]byte(raw), &persistedActive))
	raw, _ = store.Raw(chat.KeyArchivedChats)
	require.NoError(t, json.Unmarshal([]byte(raw), &persistedArchived))
	active, _ := svc.ActiveChats()
	archived, _ := svc.ArchivedChats()
	require.Equal(t, active, persistedActive)
	require.Equal(t, archived, persistedArchived)
}

func assertExclusive(t *testing.T, svc *chat.Service) {
	t.Helper()
	active, err := svc.ActiveChats()
	require.NoError(t, err)
	archived, err := svc.ArchivedChats()
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, s := range append(active, archived...) {
		require.False(t, seen[s.ID], "chat %s listed twice", s.ID)
		seen[s.ID] = true
	}
}

func TestBulkOperationScope(t *testing.T) {
	ctx := context.Background()
	histories := map[string][]model.Message{
		"A": {model.NewMessage(model.SenderAI, "a", "")},
		"B": {model.NewMessage(model.SenderAI, "b", "")},
	}
	archivedHistories := map[string][]model.Message{"C": {model.NewMessage(model.SenderAI, "c", "")}}

	t.Run("delete all", func(t *testing.T) {
		svc := newSession(t, seedStore([]string{"A", "B"}, []string{"C"}, histories, archivedHistories), testConfig())
		n, err := svc.DeleteAll(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		active, _ := svc.ActiveChats()
		archived, _ := svc.ArchivedChats()
		require.Empty(t, active)
		require.Equal(t, []string{"C"}, chatIDs(archived))

		h, _ := svc.History("A")
		require.Empty(t, h)
		h, _ = svc.History("C")
		require.Len(t, h, 1)
	})

	t.Run("archive all", func(t *testing.T) {
		svc := newSession(t, seedStore([]string{"A", "B"}, []string{"C"}, histories, archivedHistories), testConfig())
		n, err := svc.ArchiveAll(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		active, _ := svc.ActiveChats()
		archived, _ := svc.ArchivedChats()
		require.Empty(t, active)
		require.Equal(t, []string{"A", "B", "C"}, chatIDs(archived))

		h, _ := svc.History("A")
		require.Equal(t, "a", h[0].Text)
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := seedStore([]string{"A"}, []string{"C"}, nil, map[string][]model.Message{
		"C": {model.NewMessage(model.SenderAI, "c", "")},
	})
	svc := newSession(t, store, testConfig())

	ok, err := svc.DeleteChat(ctx, "C")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, svc.Sync(ctx))
	writes := len(store.Writes())

	ok, err = svc.DeleteChat(ctx, "C")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, svc.Sync(ctx))
	require.Len(t, store.Writes(), writes)

	active, _ := svc.ActiveChats()
	archived, _ := svc.ArchivedChats()
	require.Equal(t, []string{"A"}, chatIDs(active))
	require.Empty(t, archived)
	raw, _ := store.Raw(chat.KeyArchivedMessages)
	require.Equal(t, "{}", raw)
}

func TestRenameScope(t *testing.T) {
	ctx := context.Background()
	svc := newSession(t, seedStore([]string{"A"}, []string{"Z"}, nil, nil), testConfig())

	ok, err := svc.RenameChat(ctx, "Z", "kept")
	require.NoError(t, err)
	require.True(t, ok)

	active, _ := svc.ActiveChats()
	archived, _ := svc.ArchivedChats()
	require.Equal(t, "chat A", active[0].Title)
	require.Equal(t, "kept", archived[0].Title)

	ok, err = svc.RenameChat(ctx, "missing", "nope")
	require.NoError(t, err)
	require.False(t, ok)
	activeAfter, _ := svc.ActiveChats()
	archivedAfter, _ := svc.ArchivedChats()
	require.Equal(t, active, activeAfter)
	require.Equal(t, archived, archivedAfter)
}

func TestFallbackReadAfterPartialMove(t *testing.T) {
	history := []model.Message{model.NewMessage(model.SenderAI, "left behind", "")}
	store := seedStore(nil, []string{"X"}, map[string][]model.Message{"X": history}, nil)

	cfg := testConfig()
	cfg.RepairOnLoad = false
	svc := newSession(t, store, cfg)

	got, err := svc.History("X")
	require.NoError(t, err)
	require.Equal(t, history, got)
}

func TestRepairOnLoadRelocatesHistory(t *testing.T) {
	history := []model.Message{model.NewMessage(model.SenderAI, "left behind", "")}
	store := seedStore(nil, []string{"X"}, map[string][]model.Message{"X": history}, nil)
	svc := newSession(t, store, testConfig())
	require.NoError(t, svc.Sync(context.Background()))

	var archived map[string][]model.Message
	raw, _ := store.Raw(chat.KeyArchivedMessages)
	require.NoError(t, json.Unmarshal([]byte(raw), &archived))
	require.Equal(t, history, archived["X"])

	raw, _ = store.Raw(chat.KeyMessages)
	require.Equal(t, "{}", raw)
}

func TestArchiveWriteOrder(t *testing.T) {
	ctx := context.Background()
	store := seedStore([]string{"A"}, nil, map[string][]model.Message{
		"A": {model.NewMessage(model.SenderAI, "hello", "")},
	}, nil)
	svc := newSession(t, store, testConfig())
	require.NoError(t, svc.Sync(ctx))
	before := len(store.Writes())

	_, err := svc.ArchiveChat(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, svc.Sync(ctx))

	var keys []string
	for _, w := range store.Writes()[before:] {
		keys = append(keys, w.Key)
	}
	require.Equal(t, []string{
		chat.KeyArchivedMessages, chat.KeyMessages, chat.KeyArchivedChats, chat.KeyChats,
	}, keys)
}

func TestStateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)

	cfg := testConfig()
	svc := chat.NewService(store, locale.NewMemoryStore(locale.Seed()), cfg, zerolog.Nop())
	require.NoError(t, svc.Init(ctx))
	require.True(t, svc.FirstLaunch())

	a, _ := svc.CreateChat(ctx, "first")
	b, _ := svc.CreateChat(ctx, "second")
	_, err := svc.AppendMessage(ctx, a.ID, model.NewMessage(model.SenderUser, "hi", ""))
	require.NoError(t, err)
	_, err = svc.ArchiveChat(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetLanguage(ctx, "ta"))
	wantHistory, _ := svc.History(a.ID)
	require.NoError(t, svc.Dispose(ctx))

	lang, _ := store.Raw(chat.KeyLanguage)
	require.Equal(t, "ta", lang)

	reloaded := newSession(t, store, testConfig())
	require.False(t, reloaded.FirstLaunch())
	require.Equal(t, "ta", reloaded.Language())

	active, _ := reloaded.ActiveChats()
	archived, _ := reloaded.ArchivedChats()
	require.Equal(t, []model.Summary{b}, active)
	require.Equal(t, []model.Summary{a}, archived)

	gotHistory, _ := reloaded.History(a.ID)
	require.Equal(t, wantHistory, gotHistory)
}

func TestLoadToleratesMalformedValues(t *testing.T) {
	store := memory.New(map[string]string{
		chat.KeyChats:            "not json",
		chat.KeyArchivedChats:    `[{"id":"z","title":"kept"}]`,
		chat.KeyMessages:         `{"z":[{"sender":"ai","text":"ok","created_at":"2024-05-01T10:00:00.000Z"}],"bad":42}`,
		chat.KeyArchivedMessages: `{`,
	})
	svc := newSession(t, store, testConfig())

	active, err := svc.ActiveChats()
	require.NoError(t, err)
	require.Empty(t, active)
	archived, _ := svc.ArchivedChats()
	require.Equal(t, []string{"z"}, chatIDs(archived))

	h, _ := svc.History("z")
	require.Len(t, h, 1)
	require.Equal(t, "ok", h[0].Text)

	require.NoError(t, svc.Sync(context.Background()))
	raw, ok := store.Raw(chat.KeyChats + ".corrupt")
	require.True(t, ok)
	require.Equal(t, "not json", raw)
}

func TestLoadToleratesReadFailures(t *testing.T) {
	store := seedStore([]string{"A"}, nil, nil, nil)
	store.FailGet = func(key string) error {
		if key == chat.KeyChats {
			return errors.New("io error")
		}
		return nil
	}
	svc := newSession(t, store, testConfig())
	active, err := svc.ActiveChats()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestWriteFailureKeepsMemoryAuthoritative(t *testing.T) {
	ctx := context.Background()
	store := memory.New(map[string]string{chat.KeyHasLaunched: "true"})
	store.FailSet = func(string) error { return errors.New("read-only filesystem") }
	svc := newSession(t, store, testConfig())

	sum, err := svc.CreateChat(ctx, "offline")
	require.NoError(t, err)
	require.NoError(t, svc.Sync(ctx))

	active, _ := svc.ActiveChats()
	require.Equal(t, []model.Summary{sum}, active)
	_, persisted := store.Raw(chat.KeyChats)
	require.False(t, persisted)
}

func TestAppendMessage(t *testing.T) {
	ctx := context.Background()
	svc := newSession(t, seedStore(nil, []string{"Z"}, nil, nil), testConfig())

	t.Run("rejects unknown sender", func(t *testing.T) {
		_, err := svc.AppendMessage(ctx, "Z", model.Message{Sender: "bot", Text: "x"})
		require.ErrorIs(t, err, chat.ErrInvalidMessage)
	})

	t.Run("archived chat without history is greeted in place", func(t *testing.T) {
		stored, err := svc.AppendMessage(ctx, "Z", model.Message{Sender: model.SenderUser, Text: "still here?"})
		require.NoError(t, err)
		require.False(t, stored.CreatedAt.IsZero())

		h, _ := svc.History("Z")
		require.Len(t, h, 2)
		require.Equal(t, model.SenderAI, h[0].Sender)
		require.Equal(t, "still here?", h[1].Text)
	})

	t.Run("unknown chat gets an active history", func(t *testing.T) {
		_, err := svc.AppendMessage(ctx, "ghost", model.NewMessage(model.SenderUser, "boo", ""))
		require.NoError(t, err)
		h, _ := svc.History("ghost")
		require.Len(t, h, 1)
	})
}

type fakeResponder struct {
	reply string
	err   error
	seen  chat.Turn
}

func (f *fakeResponder) Reply(_ context.Context, turn chat.Turn) (string, error) {
	f.seen = turn
	return f.reply, f.err
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	svc := newSession(t, memory.New(nil), testConfig())
	sum, err := svc.CreateChat(ctx, "")
	require.NoError(t, err)

	r := &fakeResponder{reply: "This is a demo response."}
	ex, err := svc.SendMessage(ctx, sum.ID, "hello", "user-1", r)
	require.NoError(t, err)
	require.Equal(t, model.SenderUser, ex.User.Sender)
	require.Equal(t, model.SenderAI, ex.Reply.Sender)
	require.Equal(t, "en", r.seen.Language.Code)
	require.Len(t, r.seen.History, 2)
	require.Equal(t, "hello", r.seen.History[1].Text)

	r.err = errors.New("model offline")
	_, err = svc.SendMessage(ctx, sum.ID, "anyone?", "user-1", r)
	require.Error(t, err)

	h, _ := svc.History(sum.ID)
	require.Len(t, h, 4)
	require.Equal(t, "anyone?", h[3].Text)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	ctx := context.Background()
	svc := newSession(t, memory.New(nil), testConfig())
	events, cancel := svc.Subscribe(4)
	defer cancel()

	sum, err := svc.CreateChat(ctx, "")
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, model.EventCreated, ev.Kind)
		require.Equal(t, sum.ID, ev.ChatID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestResetWipesChats(t *testing.T) {
	ctx := context.Background()
	store := seedStore([]string{"A"}, []string{"C"}, nil, nil)
	svc := newSession(t, store, testConfig())
	require.NoError(t, svc.SetLanguage(ctx, "bn"))

	require.NoError(t, svc.Reset(ctx))
	require.NoError(t, svc.Sync(ctx))

	active, _ := svc.ActiveChats()
	archived, _ := svc.ArchivedChats()
	require.Empty(t, active)
	require.Empty(t, archived)
	for _, key := range []string{chat.KeyChats, chat.KeyArchivedChats, chat.KeyMessages, chat.KeyArchivedMessages} {
		_, ok := store.Raw(key)
		require.False(t, ok, key)
	}
	lang, _ := store.Raw(chat.KeyLanguage)
	require.Equal(t, "bn", lang)
}

func withoutRepair() chat.Config {
	cfg := testConfig()
	cfg.RepairOnLoad = false
	return cfg
}

func TestPartialMoveStatesWithoutRepair(t *testing.T) {
	ctx := context.Background()
	old := model.NewMessage(model.SenderAI, "old", "")

	t.Run("append to archived chat held in both mappings", func(t *testing.T) {
		store := seedStore(nil, []string{"x"},
			map[string][]model.Message{"x": {old}},
			map[string][]model.Message{"x": {old}})
		svc := newSession(t, store, withoutRepair())

		_, err := svc.AppendMessage(ctx, "x", model.NewMessage(model.SenderUser, "new", ""))
		require.NoError(t, err)

		h, err := svc.History("x")
		require.NoError(t, err)
		require.Len(t, h, 2)
		require.Equal(t, "new", h[1].Text)

		require.NoError(t, svc.Sync(ctx))
		reloaded := newSession(t, store, withoutRepair())
		h, _ = reloaded.History("x")
		require.Len(t, h, 2)
		require.Equal(t, "new", h[1].Text)
	})

	t.Run("replace history of archived chat held in both mappings", func(t *testing.T) {
		store := seedStore(nil, []string{"x"},
			map[string][]model.Message{"x": {old}},
			map[string][]model.Message{"x": {old}})
		svc := newSession(t, store, withoutRepair())

		restored := []model.Message{model.NewMessage(model.SenderUser, "restored", "")}
		require.NoError(t, svc.ReplaceHistory(ctx, "x", restored))
		h, _ := svc.History("x")
		require.Equal(t, restored, h)
	})

	t.Run("delete chat listed in both partitions", func(t *testing.T) {
		store := seedStore([]string{"x", "a"}, []string{"x"},
			map[string][]model.Message{"x": {old}}, nil)
		svc := newSession(t, store, withoutRepair())

		ok, err := svc.DeleteChat(ctx, "x")
		require.NoError(t, err)
		require.True(t, ok)

		active, _ := svc.ActiveChats()
		archived, _ := svc.ArchivedChats()
		require.Equal(t, []string{"a"}, chatIDs(active))
		require.Empty(t, archived)

		require.NoError(t, svc.Sync(ctx))
		reloaded := newSession(t, store, withoutRepair())
		active, _ = reloaded.ActiveChats()
		archived, _ = reloaded.ArchivedChats()
		require.Equal(t, []string{"a"}, chatIDs(active))
		require.Empty(t, archived)
	})

	t.Run("delete all removes chats listed in both partitions", func(t *testing.T) {
		store := seedStore([]string{"x"}, []string{"x", "b"}, nil, nil)
		svc := newSession(t, store, withoutRepair())

		n, err := svc.DeleteAll(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		archived, _ := svc.ArchivedChats()
		require.Equal(t, []string{"b"}, chatIDs(archived))
	})

	t.Run("unarchive carries the history reads were using", func(t *testing.T) {
		newer := model.NewMessage(model.SenderUser, "newer", "")
		store := seedStore(nil, []string{"x"},
			map[string][]model.Message{"x": {old}},
			map[string][]model.Message{"x": {old, newer}})
		svc := newSession(t, store, withoutRepair())

		before, _ := svc.History("x")
		ok, err := svc.UnarchiveChat(ctx, "x")
		require.NoError(t, err)
		require.True(t, ok)

		after, _ := svc.History("x")
		require.Equal(t, before, after)
		require.Equal(t, "newer", after[len(after)-1].Text)

		active, _ := svc.ActiveChats()
		archived, _ := svc.ArchivedChats()
		require.Equal(t, []string{"x"}, chatIDs(active))
		require.Empty(t, archived)
	})
}

func TestAnyStoredLaunchFlagCountsAsLaunched(t *testing.T) {
	for _, v := range []string{"true", "1", "yes"} {
		store := memory.New(map[string]string{chat.KeyHasLaunched: v})
		svc := newSession(t, store, testConfig())
		require.False(t, svc.FirstLaunch(), "hasLaunched=%q", v)
	}

	svc := newSession(t, memory.New(map[string]string{chat.KeyHasLaunched: ""}), testConfig())
	require.True(t, svc.FirstLaunch())
}

func TestDecodeHistoriesToleratesOddTimestamps(t *testing.T) {
	raw := `{"x":[
		{"sender":"ai","text":"greeting"},
		{"sender":"user","text":"hi","created_at":"not a date"},
		{"sender":"ai","text":"hello","created_at":"2024-05-01T10:30:00.000Z"}
	]}`
	m, bad, err := chat.DecodeHistories(raw)
	require.NoError(t, err)
	require.Empty(t, bad)
	require.Len(t, m["x"], 3)
	require.True(t, m["x"][0].CreatedAt.IsZero())
	require.Equal(t, "hello", m["x"][2].Text)
	require.False(t, m["x"][2].CreatedAt.IsZero())
}
