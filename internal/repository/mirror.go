package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion/backend/internal/model/chat"
)

const mirrorTimeout = 10 * time.Second

// Mirror copies locally committed messages to the remote table. Failures are
// logged and never reach the caller; the local store stays authoritative.
type Mirror struct {
	remote Remote
	log    zerolog.Logger
}

// NewMirror wraps remote. A nil remote behaves like Unavailable.
func NewMirror(remote Remote, log zerolog.Logger) *Mirror {
	if remote == nil {
		remote = Unavailable{}
	}
	return &Mirror{remote: remote, log: log.With().Str("component", "mirror").Logger()}
}

// Push inserts msgs for userID. Anonymous callers and an unconfigured remote
// are skipped. The request context may already be gone when this runs, so
// only its values are kept.
func (m *Mirror) Push(ctx context.Context, userID, chatID string, msgs ...chat.Message) bool {
	if userID == "" || len(msgs) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()

	err := m.remote.InsertMessages(ctx, userID, chatID, msgs...)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrUnavailable):
		return false
	default:
		m.log.Warn().Err(err).
			Str("user_id", userID).
			Str("chat_id", chatID).
			Int("count", len(msgs)).
			Msg("failed to mirror messages")
		return false
	}
}
