package chat

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	chatmodel "github.com/zhouzirui/companion/backend/internal/model/chat"
	"github.com/zhouzirui/companion/backend/internal/repository"
	"github.com/zhouzirui/companion/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/pkg/utils"
)

const maxTitleLength = 200

// Handler 聊天列表与消息的HTTP处理器
type Handler struct {
	chatSvc   *chatservice.Service
	responder chatservice.Responder
	remote    repository.Remote
	mirror    *repository.Mirror
	log       zerolog.Logger
}

// New 创建聊天处理器。remote 为 nil 时远端同步接口返回 503。
func New(chatSvc *chatservice.Service, responder chatservice.Responder, remote repository.Remote, log zerolog.Logger) *Handler {
	if remote == nil {
		remote = repository.Unavailable{}
	}
	return &Handler{
		chatSvc:   chatSvc,
		responder: responder,
		remote:    remote,
		mirror:    repository.NewMirror(remote, log),
		log:       log.With().Str("component", "chat-handler").Logger(),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chats", func(r chi.Router) {
		r.Get("/", h.handleListChats)
		r.Post("/", h.handleCreateChat)
		r.Delete("/", h.handleDeleteAll)
		r.Post("/archive-all", h.handleArchiveAll)

		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/", h.handleGetChat)
			r.Patch("/", h.handleRenameChat)
			r.Delete("/", h.handleDeleteChat)
			r.Post("/archive", h.handleArchiveChat)
			r.Post("/unarchive", h.handleUnarchiveChat)

			r.Get("/messages", h.handleListMessages)
			r.Post("/messages", h.handleAppendMessage)
			r.Put("/messages", h.handleReplaceMessages)
			r.Delete("/messages", h.handleDeleteMessages)
			r.Post("/send", h.handleSend)
			r.Post("/sync", h.handleSync)
		})
	})
	r.Delete("/data", h.handleReset)
}

type chatListResponse struct {
	Active   []chatmodel.Summary `json:"active"`
	Archived []chatmodel.Summary `json:"archived"`
}

type chatResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Partition string `json:"partition"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type messageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func (m messageRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Sender, validation.Required, validation.In(string(chatmodel.SenderUser), string(chatmodel.SenderAI))),
		validation.Field(&m.Text, validation.Required),
	)
}

type sendRequest struct {
	Text string `json:"text"`
}

type replaceRequest struct {
	Messages []chatmodel.Message `json:"messages"`
}

// handleListChats 返回活跃与归档两个列表
func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	active, err := h.chatSvc.ActiveChats()
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	archived, err := h.chatSvc.ArchivedChats()
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, chatListResponse{Active: active, Archived: archived})
}

// handleCreateChat 新建聊天，请求体可省略
func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var payload titleRequest
	if err := utils.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Validate(payload.Title, validation.Length(0, maxTitleLength)); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "title: "+err.Error())
		return
	}

	summary, err := h.chatSvc.CreateChat(r.Context(), payload.Title)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, summary)
}

// handleDeleteAll 删除全部活跃聊天，归档聊天保留
func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.chatSvc.DeleteAll(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleReset 清空本地全部聊天与消息，语言设置保留
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.Reset(r.Context()); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleArchiveAll 归档全部活跃聊天
func (h *Handler) handleArchiveAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.chatSvc.ArchiveAll(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"archived": n})
}

// handleGetChat 查询单个聊天及其所在列表
func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	located, err := h.chatSvc.Chat(chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, chatResponse{
		ID:        located.ID,
		Title:     located.Title,
		Partition: located.Partition.String(),
	})
}

// handleRenameChat 修改标题，活跃与归档聊天都可以改
func (h *Handler) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var payload titleRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Validate(payload.Title, validation.Required, validation.Length(1, maxTitleLength)); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "title: "+err.Error())
		return
	}

	chatID := chi.URLParam(r, "chatID")
	ok, err := h.chatSvc.RenameChat(r.Context(), chatID, payload.Title)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "chat not found")
		return
	}
	h.respondChat(w, chatID)
}

// handleDeleteChat 删除聊天及其消息，聊天不存在时同样返回 204
func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if _, err := h.chatSvc.DeleteChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleArchiveChat 将活跃聊天移入归档
func (h *Handler) handleArchiveChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	ok, err := h.chatSvc.ArchiveChat(r.Context(), chatID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "chat not found in active list")
		return
	}
	h.respondChat(w, chatID)
}

// handleUnarchiveChat 将归档聊天恢复为活跃
func (h *Handler) handleUnarchiveChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	ok, err := h.chatSvc.UnarchiveChat(r.Context(), chatID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "chat not found in archive")
		return
	}
	h.respondChat(w, chatID)
}

// handleListMessages 返回聊天记录，未知聊天返回空列表
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chatSvc.History(chi.URLParam(r, "chatID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msgs)
}

// handleAppendMessage 追加一条消息并同步到远端
func (h *Handler) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var payload messageRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := payload.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	chatID := chi.URLParam(r, "chatID")
	userID, _ := auth.UserIDFrom(r.Context())
	msg, err := h.chatSvc.AppendMessage(r.Context(), chatID,
		chatmodel.NewMessage(chatmodel.Sender(payload.Sender), payload.Text, userID))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.mirror.Push(r.Context(), userID, chatID, msg)
	utils.RespondJSON(w, http.StatusCreated, msg)
}

// handleReplaceMessages 整体覆盖聊天记录
func (h *Handler) handleReplaceMessages(w http.ResponseWriter, r *http.Request) {
	var payload replaceRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Messages == nil {
		payload.Messages = []chatmodel.Message{}
	}

	if err := h.chatSvc.ReplaceHistory(r.Context(), chi.URLParam(r, "chatID"), payload.Messages); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteMessages 清空聊天记录但保留聊天，没有记录时同样返回 204
func (h *Handler) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	if _, err := h.chatSvc.DeleteHistory(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSend 发送用户消息并等待完整回复，不需要流式输出的客户端使用
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Validate(payload.Text, validation.Required); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "text: "+err.Error())
		return
	}
	if h.responder == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "reply generation unavailable")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	userID, _ := auth.UserIDFrom(r.Context())
	exchange, err := h.chatSvc.SendMessage(r.Context(), chatID, payload.Text, userID, h.responder)
	if err != nil {
		if !exchange.User.CreatedAt.IsZero() && StatusFor(err) == http.StatusInternalServerError {
			// 用户消息已经落盘，只是回复失败
			h.mirror.Push(r.Context(), userID, chatID, exchange.User)
			h.log.Error().Err(err).Str("chat_id", chatID).Msg("reply generation failed")
			utils.RespondError(w, http.StatusBadGateway, "reply generation failed")
			return
		}
		h.respondServiceError(w, err)
		return
	}

	h.mirror.Push(r.Context(), userID, chatID, exchange.User, exchange.Reply)
	utils.RespondJSON(w, http.StatusCreated, exchange)
}

// handleSync 用远端记录覆盖本地聊天记录
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	msgs, err := h.remote.Messages(r.Context(), userID, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrUnavailable) {
			utils.RespondError(w, http.StatusServiceUnavailable, "remote store unavailable")
			return
		}
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to load remote messages")
		utils.RespondError(w, http.StatusBadGateway, "failed to load remote messages")
		return
	}

	if err := h.chatSvc.ReplaceHistory(r.Context(), chatID, msgs); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) respondChat(w http.ResponseWriter, chatID string) {
	located, err := h.chatSvc.Chat(chatID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, chatResponse{
		ID:        located.ID,
		Title:     located.Title,
		Partition: located.Partition.String(),
	})
}

// respondServiceError 将会话错误映射为状态码
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("chat operation failed")
		utils.RespondError(w, status, "internal error")
		return
	}
	utils.RespondError(w, status, err.Error())
}

// StatusFor 返回会话错误对应的HTTP状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatservice.ErrNotReady), errors.Is(err, chatservice.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, chatservice.ErrChatNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatservice.ErrInvalidMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
