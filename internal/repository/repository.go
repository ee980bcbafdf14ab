// Package repository describes the remote relational store the app mirrors
// messages to and keeps profiles and feedback in.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/companion/backend/internal/model/chat"
)

var (
	// ErrUnavailable is returned when no remote database is configured.
	ErrUnavailable = errors.New("repository: remote store unavailable")
	// ErrNotFound is returned for missing rows.
	ErrNotFound = errors.New("repository: not found")
)

// Profile is a row of the profiles table, keyed by the auth user id.
type Profile struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Birthdate *time.Time `json:"birthdate,omitempty"`
}

// Feedback is a row of the feedback table.
type Feedback struct {
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Rating    *int      `json:"rating,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Remote is the set of table operations the app uses.
type Remote interface {
	// Messages returns a user's rows for one chat, oldest first.
	Messages(ctx context.Context, userID, chatID string) ([]chat.Message, error)
	InsertMessages(ctx context.Context, userID, chatID string, msgs ...chat.Message) error
	Profile(ctx context.Context, userID string) (Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
	InsertFeedback(ctx context.Context, f Feedback) error
}

// Unavailable is the Remote used when no database is configured.
type Unavailable struct{}

func (Unavailable) Messages(context.Context, string, string) ([]chat.Message, error) {
	return nil, ErrUnavailable
}

func (Unavailable) InsertMessages(context.Context, string, string, ...chat.Message) error {
	return ErrUnavailable
}

func (Unavailable) Profile(context.Context, string) (Profile, error) {
	return Profile{}, ErrUnavailable
}

func (Unavailable) UpsertProfile(context.Context, Profile) error { return ErrUnavailable }

func (Unavailable) InsertFeedback(context.Context, Feedback) error { return ErrUnavailable }
