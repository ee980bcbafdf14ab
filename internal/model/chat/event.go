package chat

import "time"

// EventKind enumerates the committed mutations a session publishes.
type EventKind string

const (
	EventCreated    EventKind = "chat_created"
	EventRenamed    EventKind = "chat_renamed"
	EventDeleted    EventKind = "chat_deleted"
	EventArchived   EventKind = "chat_archived"
	EventUnarchived EventKind = "chat_unarchived"
	EventArchiveAll EventKind = "chats_archived_all"
	EventDeleteAll  EventKind = "chats_deleted_all"
	EventMessage    EventKind = "message_appended"
	EventHistory    EventKind = "history_replaced"
	EventLanguage   EventKind = "language_changed"
	EventReset      EventKind = "store_reset"
)

// Event describes a committed change. ChatID is empty for bulk operations.
type Event struct {
	Kind   EventKind `json:"kind"`
	ChatID string    `json:"chatId,omitempty"`
	At     time.Time `json:"at"`
}
