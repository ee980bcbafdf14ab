package stream

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	chathandler "github.com/zhouzirui/companion/backend/internal/handler/chat"
	chatmodel "github.com/zhouzirui/companion/backend/internal/model/chat"
	"github.com/zhouzirui/companion/backend/internal/repository"
	"github.com/zhouzirui/companion/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/internal/service/reply"
	"github.com/zhouzirui/companion/backend/pkg/utils"
)

// Handler 通过 Server-Sent Events 推送回复
type Handler struct {
	chatSvc  *chatservice.Service
	streamer reply.Streamer
	mirror   *repository.Mirror
	log      zerolog.Logger
}

// New 创建流式处理器
func New(chatSvc *chatservice.Service, streamer reply.Streamer, remote repository.Remote, log zerolog.Logger) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		streamer: streamer,
		mirror:   repository.NewMirror(remote, log),
		log:      log.With().Str("component", "stream").Logger(),
	}
}

// StreamResponse 是一个流式响应块
type StreamResponse struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{chatID}", h.handleStream)
}

// handleStream 校验参数后进入流式流程
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	userMessage := strings.TrimSpace(r.URL.Query().Get("message"))

	if h.streamer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "reply streaming unavailable")
		return
	}
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	h.HandleStreamRequest(r.Context(), w, chatID, userMessage)
}

// HandleStreamRequest 保存用户消息，流式生成回复并保存。
// 用户消息一旦保存，即使生成失败也会保留。
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, chatID, userMessage string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	userID, _ := auth.UserIDFrom(ctx)
	turn, userMsg, err := h.chatSvc.BeginTurn(ctx, chatID, userMessage, userID)
	if err != nil {
		utils.RespondError(w, chathandler.StatusFor(err), err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	h.sendSSE(w, flusher, StreamResponse{
		Event:   "start",
		ChatID:  chatID,
		Content: userMsg.Text,
	})

	full, err := h.streamer.StreamReply(ctx, turn, func(delta string) error {
		if delta == "" {
			return nil
		}
		if err := h.sendSSE(w, flusher, StreamResponse{
			Event:   "delta",
			ChatID:  chatID,
			Content: delta,
		}); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		h.mirror.Push(ctx, userID, chatID, userMsg)
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("reply streaming failed")
		h.sendSSEError(w, flusher, chatID, "reply generation failed")
		return
	}

	replyMsg, err := h.chatSvc.AppendMessage(ctx, chatID, chatmodel.NewMessage(chatmodel.SenderAI, full, userID))
	if err != nil {
		h.mirror.Push(ctx, userID, chatID, userMsg)
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to save reply")
		h.sendSSEError(w, flusher, chatID, "failed to save reply")
		return
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:   "message",
		ChatID:  chatID,
		Content: replyMsg.Text,
	})
	h.sendSSE(w, flusher, StreamResponse{
		Event:    "end",
		ChatID:   chatID,
		Finished: true,
	})

	h.mirror.Push(ctx, userID, chatID, userMsg, replyMsg)
	h.log.Debug().Str("chat_id", chatID).Int("chars", len(full)).Msg("completed streamed reply")
}

// sendSSE 发送一个事件，事件名同时写入 event 行和数据体
func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) error {
	if err := utils.SendSSEEvent(w, flusher, response.Event, response); err != nil {
		h.log.Debug().Err(err).Str("event", response.Event).Msg("failed to send sse event")
		return err
	}
	return nil
}

// sendSSEError 通过 SSE 发送错误
func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, chatID, message string) {
	_ = h.sendSSE(w, flusher, StreamResponse{
		Event:  "error",
		ChatID: chatID,
		Error:  message,
	})
}
