package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"MessengerCore/server/internal/appMiddleware"
	"MessengerCore/server/internal/auth"
	"MessengerCore/server/internal/chats"
	"MessengerCore/server/internal/config"
	"MessengerCore/server/internal/credentials"
	"MessengerCore/server/internal/delivery"
	"MessengerCore/server/internal/handlers"
	"MessengerCore/server/internal/logger"
	"MessengerCore/server/internal/notify"
	"MessengerCore/server/internal/sessions"
	"MessengerCore/server/internal/storage"
	"MessengerCore/server/internal/token"
	"MessengerCore/server/internal/users"
)

func main() {
	_ = godotenv.Load()

	v, err := config.Load("config")
	if err != nil {
		log.Fatalf("failed to load config: %s", err)
	}
	cfg, err := config.Parse(v)
	if err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	zl, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %s", err)
	}
	defer zl.Sync()
	sugar := zl.Sugar()

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("server exited", "err", err)
	}
}

func run(cfg *config.Config, sugar *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	var (
		userStore users.Store
		chatStore chats.Store
		registry  sessions.Registry
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		userStore = users.NewMemoryStore()
		chatStore = chats.NewMemoryStore(clock)
		registry = sessions.NewMemoryRegistry()
		sugar.Warn("running on in-memory storage, nothing will survive a restart")
	default:
		if cfg.Storage.Migrate {
			if err := storage.Migrate(cfg.Storage.DSN); err != nil {
				return err
			}
		}
		pool, err := storage.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		userStore = users.NewPostgresStore(pool)
		chatStore = chats.NewPostgresStore(pool, clock)
		registry = sessions.NewPostgresRegistry(pool)
	}

	cached := sessions.NewCachedRegistry(registry, cfg.Sessions.CacheSize, cfg.Token.TTL)

	tokens := token.NewService(cfg.Token.Secret, clock)
	creds := credentials.NewStore(0, cfg.Token.MinPassLen)
	notifier := notify.NewLogNotifier(sugar)
	gateway := auth.NewGateway(userStore, creds, tokens, cached, notifier, clock, sugar, cfg.Token.TTL)

	hub := delivery.NewHub(chatStore, userStore, clock, sugar)
	chatSvc := chats.NewService(chatStore, hub, sugar)

	sweeper := sessions.NewSweeper(cached, cfg.Sessions.SweepInterval, cfg.Sessions.SweepBatch, clock, sugar)
	go sweeper.Run(ctx)

	h := handlers.New(gateway, chatSvc, hub, sugar)

	r := chi.NewRouter()
	r.Use(appMiddleware.Cors)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Credential endpoints are throttled per client IP; everything behind
	// the auth middleware already costs an attacker a valid token.
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(cfg.Server.AuthRateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(h.RateLimited),
		))

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/oauth", h.OAuth)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/password/reset-request", h.RequestPasswordReset)
		r.Post("/password/reset", h.ResetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(gateway, sugar))

		r.Get("/api/profile", h.GetProfile)
		r.Patch("/api/profile", h.UpdateProfile)

		r.Get("/api/chats", h.ListChats)
		r.Post("/api/chats", h.CreateGroupChat)
		r.Post("/api/chats/direct", h.CreateDirectChat)
		r.Get("/api/chats/{chat_id}", h.GetChat)
		r.Get("/api/chats/{chat_id}/messages", h.ListMessages)
		r.Post("/api/chats/{chat_id}/messages", h.PostMessage)
		r.Post("/api/chats/{chat_id}/read", h.MarkRead)
		r.Post("/api/chats/{chat_id}/participants", h.AddParticipants)
		r.Delete("/api/chats/{chat_id}/participants/{user_id}", h.RemoveParticipant)
		r.Patch("/api/messages/{message_id}", h.EditMessage)
		r.Delete("/api/messages/{message_id}", h.DeleteMessage)
	})

	r.Get("/ws", h.ServeWS)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("server started", "addr", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	sugar.Info("stopping the server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	sugar.Info("server has been stopped")
	return nil
}
