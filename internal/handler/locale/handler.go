package locale

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	chathandler "github.com/zhouzirui/companion/backend/internal/handler/chat"
	"github.com/zhouzirui/companion/backend/internal/model/locale"
	chatservice "github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/pkg/utils"
)

// Handler 语言选择的HTTP处理器
type Handler struct {
	languages locale.Store
	chatSvc   *chatservice.Service
}

// New 创建语言处理器
func New(languages locale.Store, chatSvc *chatservice.Service) *Handler {
	return &Handler{
		languages: languages,
		chatSvc:   chatSvc,
	}
}

// RegisterRoutes 注册语言相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/languages", h.handleListLanguages)
	r.Get("/language", h.handleGetLanguage)
	r.Put("/language", h.handleSetLanguage)
}

type languageResponse struct {
	Code        string          `json:"code"`
	Language    locale.Language `json:"language"`
	FirstLaunch bool            `json:"firstLaunch"`
}

// handleListLanguages 列出支持的语言
func (h *Handler) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.languages.List())
}

// handleGetLanguage 返回当前语言以及是否首次启动
func (h *Handler) handleGetLanguage(w http.ResponseWriter, r *http.Request) {
	if !h.chatSvc.Ready() {
		utils.RespondError(w, http.StatusServiceUnavailable, chatservice.ErrNotReady.Error())
		return
	}
	code := h.chatSvc.Language()
	utils.RespondJSON(w, http.StatusOK, languageResponse{
		Code:        code,
		Language:    h.languages.Resolve(code),
		FirstLaunch: h.chatSvc.FirstLaunch(),
	})
}

// handleSetLanguage 切换语言，只接受支持列表中的代码
func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Validate(payload.Code, validation.Required); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "code: "+err.Error())
		return
	}
	lang, ok := h.languages.FindByCode(payload.Code)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "unsupported language")
		return
	}

	if err := h.chatSvc.SetLanguage(r.Context(), lang.Code); err != nil {
		utils.RespondError(w, chathandler.StatusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, languageResponse{
		Code:        lang.Code,
		Language:    lang,
		FirstLaunch: h.chatSvc.FirstLaunch(),
	})
}
