package chat

import (
	"encoding/json"

	"github.com/pkg/errors"

	model "github.com/zhouzirui/companion/backend/internal/model/chat"
)

// Durable keys. The names and value shapes are shared with the mobile client,
// so existing installs load without migration.
const (
	KeyChats            = "chats"
	KeyArchivedChats    = "archivedChats"
	KeyMessages         = "messages"
	KeyArchivedMessages = "archivedChatsMessages"
	KeyLanguage         = "language"
	KeyHasLaunched      = "hasLaunched"
)

// Keys lists every key the session reads at startup.
var Keys = []string{
	KeyChats,
	KeyArchivedChats,
	KeyMessages,
	KeyArchivedMessages,
	KeyLanguage,
	KeyHasLaunched,
}

func registryKey(p model.Partition) string {
	if p == model.Archived {
		return KeyArchivedChats
	}
	return KeyChats
}

func messagesKey(p model.Partition) string {
	if p == model.Archived {
		return KeyArchivedMessages
	}
	return KeyMessages
}

func encodeSummaries(items []model.Summary) (string, error) {
	if items == nil {
		items = []model.Summary{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", errors.Wrap(err, "encode chat list")
	}
	return string(b), nil
}

func encodeHistories(m map[string][]model.Message) (string, error) {
	out := make(map[string][]model.Message, len(m))
	for id, msgs := range m {
		if msgs == nil {
			msgs = []model.Message{}
		}
		out[id] = msgs
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", errors.Wrap(err, "encode message histories")
	}
	return string(b), nil
}

// DecodeSummaries parses a chat list value. Entries without an id are dropped
// and only the first occurrence of a duplicated id is kept.
func DecodeSummaries(raw string) ([]model.Summary, error) {
	var items []model.Summary
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, errors.Wrap(err, "decode chat list")
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]model.Summary, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out, nil
}

// DecodeHistories parses a message mapping value. A chat whose history cannot
// be parsed is skipped and reported in bad; the rest of the mapping survives.
func DecodeHistories(raw string) (m map[string][]model.Message, bad []string, err error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, nil, errors.Wrap(err, "decode message histories")
	}
	m = make(map[string][]model.Message, len(entries))
	for id, rawMsgs := range entries {
		var msgs []model.Message
		if err := json.Unmarshal(rawMsgs, &msgs); err != nil {
			bad = append(bad, id)
			continue
		}
		if msgs == nil {
			msgs = []model.Message{}
		}
		m[id] = msgs
	}
	return m, bad, nil
}
