package reply

import (
	"context"
	"strings"
	"time"

	"github.com/zhouzirui/companion/backend/internal/service/chat"
)

// Demo answers every turn with the canned reply of the turn's language. It
// is used when no model is configured.
type Demo struct {
	// Delay between streamed words; zero streams immediately.
	Delay time.Duration
}

// Reply implements chat.Responder.
func (d Demo) Reply(ctx context.Context, turn chat.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return turn.Language.DemoReply, nil
}

// StreamReply emits the canned reply word by word.
func (d Demo) StreamReply(ctx context.Context, turn chat.Turn, emit func(delta string) error) (string, error) {
	text, err := d.Reply(ctx, turn)
	if err != nil {
		return "", err
	}
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if d.Delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.Delay):
			}
		}
		if err := emit(w); err != nil {
			return "", err
		}
	}
	return text, nil
}
