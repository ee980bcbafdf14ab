package chat

import (
	"context"

	"github.com/pkg/errors"

	model "github.com/zhouzirui/companion/backend/internal/model/chat"
	"github.com/zhouzirui/companion/backend/internal/model/locale"
)

// Turn is what a Responder sees when asked for a reply.
type Turn struct {
	ChatID   string
	Language locale.Language
	// History includes the user message being answered as its last entry.
	History []model.Message
}

// Responder produces the assistant reply for a turn.
type Responder interface {
	Reply(ctx context.Context, turn Turn) (string, error)
}

// Exchange is the pair of messages one SendMessage call committed.
type Exchange struct {
	User  model.Message `json:"user"`
	Reply model.Message `json:"reply"`
}

// SendMessage appends the user's text, asks r for a reply outside the
// session lock, then appends the reply. The user message stays committed
// when the responder fails.
func (s *Service) SendMessage(ctx context.Context, id, text, userID string, r Responder) (Exchange, error) {
	turn, user, err := s.BeginTurn(ctx, id, text, userID)
	if err != nil {
		return Exchange{}, err
	}

	replyText, err := r.Reply(ctx, turn)
	if err != nil {
		return Exchange{User: user}, errors.Wrap(err, "generate reply")
	}

	reply, err := s.AppendMessage(ctx, id, model.NewMessage(model.SenderAI, replyText, userID))
	if err != nil {
		return Exchange{User: user}, err
	}
	return Exchange{User: user, Reply: reply}, nil
}

// BeginTurn commits the user's message and returns the turn a responder
// should answer. Streaming callers use it and append the reply themselves.
func (s *Service) BeginTurn(ctx context.Context, id, text, userID string) (Turn, model.Message, error) {
	user := model.NewMessage(model.SenderUser, text, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(); err != nil {
		return Turn{}, model.Message{}, err
	}
	s.appendLocked(ctx, id, user)

	expected, _ := s.registry.Locate(id)
	return Turn{
		ChatID:   id,
		Language: s.locales.Resolve(s.language),
		History:  s.ledger.History(id, expected),
	}, user, nil
}
