package chat

import (
	"encoding/json"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Message is one immutable turn of a chat history. The JSON shape matches the
// records already persisted by the mobile client, including the optional id
// that older rows carry.
type Message struct {
	ID        string
	Sender    Sender
	Text      string
	CreatedAt time.Time
	UserID    string

	// rawCreatedAt holds a stored timestamp that could not be parsed, so it
	// is written back unchanged.
	rawCreatedAt string
}

type messageJSON struct {
	ID        string          `json:"id,omitempty"`
	Sender    Sender          `json:"sender"`
	Text      string          `json:"text"`
	CreatedAt json.RawMessage `json:"created_at,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
}

// MarshalJSON omits created_at when the message has no timestamp.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{ID: m.ID, Sender: m.Sender, Text: m.Text, UserID: m.UserID}
	switch {
	case !m.CreatedAt.IsZero():
		b, err := json.Marshal(m.CreatedAt)
		if err != nil {
			return nil, err
		}
		out.CreatedAt = b
	case m.rawCreatedAt != "":
		out.CreatedAt = json.RawMessage(m.rawCreatedAt)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts RFC 3339 strings and Unix milliseconds for
// created_at. Any other value leaves CreatedAt zero instead of failing.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Message{ID: in.ID, Sender: in.Sender, Text: in.Text, UserID: in.UserID}
	m.CreatedAt, m.rawCreatedAt = parseCreatedAt(in.CreatedAt)
	return nil
}

func parseCreatedAt(raw json.RawMessage) (time.Time, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, ""
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, ""
		}
		return time.Time{}, string(raw)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), ""
	}
	return time.Time{}, string(raw)
}

// NewMessage stamps a message with the current time at millisecond precision,
// the resolution the mobile client writes.
func NewMessage(sender Sender, text, userID string) Message {
	return Message{
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		UserID:    userID,
	}
}
