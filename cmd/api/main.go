package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion/backend/internal/config"
	"github.com/zhouzirui/companion/backend/internal/handler"
	authhandler "github.com/zhouzirui/companion/backend/internal/handler/auth"
	"github.com/zhouzirui/companion/backend/internal/middleware"
	"github.com/zhouzirui/companion/backend/internal/model/locale"
	"github.com/zhouzirui/companion/backend/internal/platform/logger"
	"github.com/zhouzirui/companion/backend/internal/repository"
	"github.com/zhouzirui/companion/backend/internal/repository/postgres"
	"github.com/zhouzirui/companion/backend/internal/service/auth"
	"github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/internal/service/reply"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("companion-api", logger.Options{})
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New("companion-api", logger.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	// 本地存储与聊天会话
	store, err := cfg.Store.Open()
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open local store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close local store")
		}
	}()

	languages := locale.NewMemoryStore(locale.Seed())
	chatService := chat.NewService(store, languages, cfg.SessionConfig(), log)
	if err := chatService.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialise chat session")
	}

	responder := newResponder(ctx, cfg, log)
	remote, closeRemote := newRemote(ctx, cfg, log)
	defer closeRemote()

	deps := handler.Dependencies{
		Chats:       chatService,
		Languages:   languages,
		Responder:   responder,
		Remote:      remote,
		DevUserID:   cfg.Auth.DevUserID,
		CORSOrigins: cfg.Server.CORSOrigins,
		Log:         log,
	}

	if cfg.Supabase.AuthEnabled() {
		client := auth.NewClient(cfg.Supabase.URL, cfg.Supabase.AnonKey, log)
		unsubscribe := client.OnAuthStateChange(func(ev auth.Event, s *auth.Session) {
			e := log.Debug().Str("event", string(ev))
			if s != nil {
				e = e.Str("user_id", s.User.ID)
			}
			e.Msg("auth state changed")
		})
		defer unsubscribe()
		deps.AuthClient = authhandler.Client(client)
	} else {
		log.Info().Msg("Supabase 凭证未配置，跳过认证接口")
	}

	if jwks := cfg.Supabase.JWKSEndpoint(); jwks != "" {
		verifier, err := auth.NewVerifier(ctx, jwks, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialise token verifier, bearer tokens will be rejected")
		} else {
			deps.Verifier = middleware.TokenVerifier(verifier)
		}
	}
	if deps.Verifier == nil && cfg.Auth.DevUserID != "" {
		log.Warn().Str("user_id", cfg.Auth.DevUserID).Msg("development user enabled, all requests run as this user")
	}

	router := handler.NewRouter(deps)

	if err := startServer(ctx, cfg.Server, router, log); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	disposeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := chatService.Dispose(disposeCtx); err != nil {
		log.Error().Stack().Err(err).Msg("failed to flush chat state")
	}
}

// newResponder 根据配置选择大模型或演示回复
func newResponder(ctx context.Context, cfg *config.Config, log zerolog.Logger) reply.Streamer {
	if !cfg.AI.Enabled() {
		log.Info().Msg("Ark 凭证未配置，使用演示回复")
		return reply.Demo{Delay: 40 * time.Millisecond}
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err == nil {
		var svc *reply.Service
		svc, err = reply.NewService(ctx, chatModel, cfg.AI.StreamResponse, log)
		if err == nil {
			log.Info().Str("model", cfg.AI.Model).Msg("AI service initialized successfully")
			return svc
		}
	}
	log.Warn().Err(err).Msg("failed to initialize AI service, 请检查 Ark 模型相关环境变量，falling back to demo replies")
	return reply.Demo{Delay: 40 * time.Millisecond}
}

// newRemote 连接远端数据库，未配置或连接失败时返回 Unavailable
func newRemote(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository.Remote, func()) {
	if cfg.Supabase.DBURL == "" {
		log.Info().Msg("远端数据库未配置，消息只保存在本地")
		return repository.Unavailable{}, func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := postgres.CreateConnectionPool(connectCtx, cfg.Supabase.DBURL, log)
	if err != nil {
		log.Warn().Err(err).Msg("remote database unreachable, messages stay local")
		return repository.Unavailable{}, func() {}
	}
	return postgres.NewStore(pool, log), pool.Close
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log zerolog.Logger) error {
	addr, err := serverCfg.ListenAddr()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("companion backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
