package auth

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	authservice "github.com/zhouzirui/companion/backend/internal/service/auth"
	"github.com/zhouzirui/companion/backend/pkg/utils"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Client 是处理器用到的远端认证接口
type Client interface {
	SignUp(ctx context.Context, email, password string) (*authservice.User, *authservice.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*authservice.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*authservice.Session, error)
	Resend(ctx context.Context, email string) error
	GetUser(ctx context.Context, accessToken string) (*authservice.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Handler 认证接口的HTTP处理器，转发到托管认证服务
type Handler struct {
	client Client
	log    zerolog.Logger
}

// New 创建认证处理器。client 为 nil 时所有接口返回 503。
func New(client Client, log zerolog.Logger) *Handler {
	return &Handler{
		client: client,
		log:    log.With().Str("component", "auth-handler").Logger(),
	}
}

// RegisterRoutes 注册认证相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.handleSignUp)
		r.Post("/signin", h.handleSignIn)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/resend", h.handleResend)
		r.Post("/signout", h.handleSignOut)
		r.Get("/user", h.handleUser)
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentialsRequest) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, validation.Match(emailPattern).Error("must be a valid email address")),
		validation.Field(&c.Password, validation.Required, validation.Length(6, 72)),
	)
}

type signUpResponse struct {
	User *authservice.User `json:"user"`
	// Session 为空表示需要先确认邮箱
	Session *authservice.Session `json:"session"`
}

// handleSignUp 注册新用户
func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var payload credentialsRequest
	if !h.decode(w, r, &payload) {
		return
	}
	user, session, err := h.client.SignUp(r.Context(), strings.TrimSpace(payload.Email), payload.Password)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, signUpResponse{User: user, Session: session})
}

// handleSignIn 邮箱密码登录
func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var payload credentialsRequest
	if !h.decode(w, r, &payload) {
		return
	}
	session, err := h.client.SignInWithPassword(r.Context(), strings.TrimSpace(payload.Email), payload.Password)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleRefresh 刷新访问令牌
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !h.ready(w) {
		return
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Validate(payload.RefreshToken, validation.Required); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "refreshToken: "+err.Error())
		return
	}
	session, err := h.client.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleResend 重新发送确认邮件
func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if !h.ready(w) {
		return
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Validate(payload.Email, validation.Required, validation.Match(emailPattern)); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "email: "+err.Error())
		return
	}
	if err := h.client.Resend(r.Context(), strings.TrimSpace(payload.Email)); err != nil {
		h.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSignOut 注销当前令牌
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token, ok := h.bearer(w, r)
	if !ok {
		return
	}
	if err := h.client.SignOut(r.Context(), token); err != nil {
		h.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUser 返回令牌对应的用户
func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	token, ok := h.bearer(w, r)
	if !ok {
		return
	}
	user, err := h.client.GetUser(r.Context(), token)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, user)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.client == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, authservice.ErrDisabled.Error())
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, payload *credentialsRequest) bool {
	if !h.ready(w) {
		return false
	}
	if err := utils.DecodeJSON(r, payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := payload.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) bearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !h.ready(w) {
		return "", false
	}
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		utils.RespondError(w, http.StatusUnauthorized, "bearer token required")
		return "", false
	}
	return strings.TrimSpace(token), true
}

// respondAuthError 保留认证服务给出的 4xx 状态，其余视为网关错误
func (h *Handler) respondAuthError(w http.ResponseWriter, err error) {
	var apiErr *authservice.APIError
	switch {
	case errors.Is(err, authservice.ErrUnauthorized):
		utils.RespondError(w, http.StatusUnauthorized, "invalid or expired credentials")
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		utils.RespondError(w, apiErr.Status, apiErr.Message)
	default:
		h.log.Error().Err(err).Msg("auth service request failed")
		utils.RespondError(w, http.StatusBadGateway, "auth service unavailable")
	}
}
