// Package reply generates assistant replies for chat turns, either from the
// Ark chat model through an eino chain or from canned demo text.
package reply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	chatmodel "github.com/zhouzirui/companion/backend/internal/model/chat"
	"github.com/zhouzirui/companion/backend/internal/service/chat"
)

const historyLimit = 10

// Streamer is a chat.Responder that can also stream its reply.
type Streamer interface {
	chat.Responder
	// StreamReply calls emit for every chunk and returns the full text.
	StreamReply(ctx context.Context, turn chat.Turn, emit func(delta string) error) (string, error)
}

// Service answers turns with a chat model.
type Service struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	prompts *PromptManager
	stream  bool
	log     zerolog.Logger
}

// NewService compiles the prompt → model chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, stream bool, log zerolog.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:   runnable,
		prompts: NewPromptManager(),
		stream:  stream,
		log:     log.With().Str("component", "reply").Logger(),
	}, nil
}

// Reply implements chat.Responder.
func (s *Service) Reply(ctx context.Context, turn chat.Turn) (string, error) {
	resp, err := s.chain.Invoke(ctx, s.buildChainInput(turn))
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}
	s.log.Debug().Str("chat_id", turn.ChatID).Int("length", len(resp.Content)).Msg("reply generated")
	return resp.Content, nil
}

// StreamReply streams model chunks through emit. With streaming disabled it
// emits the whole reply once.
func (s *Service) StreamReply(ctx context.Context, turn chat.Turn, emit func(delta string) error) (string, error) {
	if !s.stream {
		text, err := s.Reply(ctx, turn)
		if err != nil {
			return "", err
		}
		return text, emit(text)
	}

	reader, err := s.chain.Stream(ctx, s.buildChainInput(turn))
	if err != nil {
		return "", fmt.Errorf("failed to stream reply chain output: %w", err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("reply stream interrupted: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if err := emit(chunk.Content); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

// buildChainInput splits the turn into history and the latest user query.
func (s *Service) buildChainInput(turn chat.Turn) map[string]any {
	history := turn.History
	query := ""
	if n := len(history); n > 0 && history[n-1].Sender == chatmodel.SenderUser {
		query = history[n-1].Text
		history = history[:n-1]
	}
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(turn.Language),
		"history": buildHistoryMessages(history),
		"query":   query,
	}
}

func buildHistoryMessages(messages []chatmodel.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	start := 0
	if len(messages) > historyLimit {
		start = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		switch msg.Sender {
		case chatmodel.SenderUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chatmodel.SenderAI:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
