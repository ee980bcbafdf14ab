package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	authhandler "github.com/zhouzirui/companion/backend/internal/handler/auth"
	"github.com/zhouzirui/companion/backend/internal/handler/chat"
	"github.com/zhouzirui/companion/backend/internal/handler/events"
	localehandler "github.com/zhouzirui/companion/backend/internal/handler/locale"
	"github.com/zhouzirui/companion/backend/internal/handler/profile"
	"github.com/zhouzirui/companion/backend/internal/handler/stream"
	"github.com/zhouzirui/companion/backend/internal/middleware"
	"github.com/zhouzirui/companion/backend/internal/model/locale"
	"github.com/zhouzirui/companion/backend/internal/repository"
	chatservice "github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/internal/service/reply"
	"github.com/zhouzirui/companion/backend/pkg/utils"
)

// Dependencies 汇总路由需要的服务。可选项为 nil 时对应接口返回 503。
type Dependencies struct {
	Chats     *chatservice.Service
	Languages locale.Store
	Responder reply.Streamer
	Remote    repository.Remote

	AuthClient  authhandler.Client
	Verifier    middleware.TokenVerifier
	DevUserID   string
	CORSOrigins []string

	Log zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(deps.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !deps.Chats.Ready() {
			utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	var responder chatservice.Responder
	if deps.Responder != nil {
		responder = deps.Responder
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Authenticate(deps.Verifier, deps.DevUserID, deps.Log))

		chat.New(deps.Chats, responder, deps.Remote, deps.Log).RegisterRoutes(api)
		localehandler.New(deps.Languages, deps.Chats).RegisterRoutes(api)
		stream.New(deps.Chats, deps.Responder, deps.Remote, deps.Log).RegisterRoutes(api)
		events.NewWebSocketHandler(deps.Chats, deps.Log).RegisterRoutes(api)
		profile.New(deps.Remote, deps.Log).RegisterRoutes(api)
		authhandler.New(deps.AuthClient, deps.Log).RegisterRoutes(api)
	})

	return r
}
