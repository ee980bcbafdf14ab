package profile

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion/backend/internal/middleware"
	"github.com/zhouzirui/companion/backend/internal/repository"
	"github.com/zhouzirui/companion/backend/internal/service/auth"
	"github.com/zhouzirui/companion/backend/pkg/utils"
)

const dateLayout = "2006-01-02"

// Handler 个人资料与反馈的HTTP处理器
type Handler struct {
	remote repository.Remote
	log    zerolog.Logger
	now    func() time.Time
}

// New 创建个人资料处理器
func New(remote repository.Remote, log zerolog.Logger) *Handler {
	if remote == nil {
		remote = repository.Unavailable{}
	}
	return &Handler{
		remote: remote,
		log:    log.With().Str("component", "profile").Logger(),
		now:    time.Now,
	}
}

// RegisterRoutes 注册路由，全部需要登录
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/profile", h.handleGetProfile)
		r.Put("/profile", h.handlePutProfile)
		r.Post("/feedback", h.handleFeedback)
	})
}

type profileRequest struct {
	Name      string `json:"name"`
	Birthdate string `json:"birthdate"`
}

func (p profileRequest) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.Birthdate, validation.Date(dateLayout)),
	)
}

type feedbackRequest struct {
	Message string `json:"message"`
	Rating  *int   `json:"rating"`
}

func (f feedbackRequest) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Message, validation.Required, validation.Length(1, 2000)),
		validation.Field(&f.Rating, validation.NilOrNotEmpty, validation.Min(1), validation.Max(5)),
	)
}

type profileResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Birthdate string `json:"birthdate,omitempty"`
}

func toResponse(p repository.Profile) profileResponse {
	resp := profileResponse{ID: p.ID, Name: p.Name}
	if p.Birthdate != nil {
		resp.Birthdate = p.Birthdate.Format(dateLayout)
	}
	return resp
}

// handleGetProfile 读取当前用户的资料
func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())
	p, err := h.remote.Profile(r.Context(), userID)
	if err != nil {
		h.respondRemoteError(w, err, "failed to load profile")
		return
	}
	utils.RespondJSON(w, http.StatusOK, toResponse(p))
}

// handlePutProfile 创建或更新当前用户的资料
func (h *Handler) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var payload profileRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := payload.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, _ := auth.UserIDFrom(r.Context())
	p := repository.Profile{ID: userID, Name: payload.Name}
	if payload.Birthdate != "" {
		birthdate, _ := time.Parse(dateLayout, payload.Birthdate)
		if birthdate.After(h.now()) {
			utils.RespondError(w, http.StatusBadRequest, "birthdate: must not be in the future.")
			return
		}
		p.Birthdate = &birthdate
	}

	if err := h.remote.UpsertProfile(r.Context(), p); err != nil {
		h.respondRemoteError(w, err, "failed to save profile")
		return
	}
	utils.RespondJSON(w, http.StatusOK, toResponse(p))
}

// handleFeedback 保存用户反馈
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var payload feedbackRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := payload.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, _ := auth.UserIDFrom(r.Context())
	fb := repository.Feedback{
		UserID:    userID,
		Message:   payload.Message,
		Rating:    payload.Rating,
		CreatedAt: h.now().UTC(),
	}
	if err := h.remote.InsertFeedback(r.Context(), fb); err != nil {
		h.respondRemoteError(w, err, "failed to save feedback")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, fb)
}

func (h *Handler) respondRemoteError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, repository.ErrUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, "remote store unavailable")
	case errors.Is(err, repository.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "not found")
	default:
		h.log.Error().Err(err).Msg(message)
		utils.RespondError(w, http.StatusBadGateway, message)
	}
}
