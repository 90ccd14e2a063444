// Package server wires the application together: store, broadcaster,
// platform adapters, services, handlers and routes. It is the composition
// root — dependencies are assembled here and nowhere else.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dropforge/socialverify/internal/auth"
	"github.com/dropforge/socialverify/internal/event"
	"github.com/dropforge/socialverify/internal/handler"
	"github.com/dropforge/socialverify/internal/middleware"
	"github.com/dropforge/socialverify/internal/platform"
	sqliteRepo "github.com/dropforge/socialverify/internal/repository/sqlite"
	"github.com/dropforge/socialverify/internal/service"
)

// Config holds everything the server needs from the environment.
type Config struct {
	Port   int
	DBPath string

	// StateSecret signs the OAuth state JWTs. Mandatory.
	StateSecret string

	Twitter  platform.TwitterConfig
	Discord  platform.DiscordConfig
	Telegram platform.TelegramConfig
}

// Server owns the router and the resources that need closing on shutdown.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New assembles the full dependency chain:
// store → broadcaster → adapters → services → handlers → routes.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures middleware, builds the services and binds handlers.
//
// Route map:
//
//	POST /api/verify                  task verification
//	POST /api/telegram                telegram code flow (initiate | verify)
//	GET  /api/progress                progress snapshot
//	GET  /api/events                  SSE event stream
//	GET  /auth/{platform}/login       start OAuth linking
//	GET  /auth/{platform}/callback    finish OAuth linking
//	GET  /healthz                     liveness
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	stateSvc, err := auth.NewStateService(s.config.StateSecret)
	if err != nil {
		return fmt.Errorf("creating state service: %w", err)
	}

	broadcaster := event.NewBroadcaster(s.db, s.logger)

	twitter := platform.NewTwitter(s.config.Twitter, s.logger)
	discord := platform.NewDiscord(s.config.Discord, s.logger)
	telegram := platform.NewTelegram(s.config.Telegram, s.logger)

	// Linkers are only registered when credentials exist; an unregistered
	// platform answers linking requests with a configuration error instead
	// of redirecting to a consent page that cannot work.
	var linkers []platform.Linker
	if s.config.Twitter.ClientID != "" {
		linkers = append(linkers, twitter)
	} else {
		s.logger.Warn("twitter credentials missing, twitter linking disabled")
	}
	if s.config.Discord.ClientID != "" {
		linkers = append(linkers, discord)
	} else {
		s.logger.Warn("discord credentials missing, discord linking disabled")
	}
	if !telegram.Configured() {
		s.logger.Warn("telegram bot token missing, membership checks will fail")
	}

	verifiers := []platform.TaskVerifier{twitter, discord, telegram}

	verifySvc := service.NewVerificationService(s.db, broadcaster, verifiers, s.logger)
	codeSvc := service.NewCodeService(s.db, telegram, broadcaster, s.logger)
	progressSvc := service.NewProgressService(s.db)
	linkSvc := service.NewLinkService(s.db, stateSvc, broadcaster, linkers, s.logger)

	verifyHandler := handler.NewVerifyHandler(verifySvc, s.logger)
	telegramHandler := handler.NewTelegramHandler(codeSvc, s.logger)
	progressHandler := handler.NewProgressHandler(progressSvc, s.logger)
	eventsHandler := handler.NewEventsHandler(broadcaster, s.logger)
	linkHandler := handler.NewLinkHandler(linkSvc, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/verify", verifyHandler.HandleVerify)
		r.Post("/telegram", telegramHandler.HandleTelegram)
		r.Get("/progress", progressHandler.HandleProgress)
		r.Get("/events", eventsHandler.HandleEvents)
	})

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/{platform}/login", linkHandler.HandleLogin)
		r.Get("/{platform}/callback", linkHandler.HandleCallback)
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, drain in-flight requests, close
// the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /api/events streams indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
