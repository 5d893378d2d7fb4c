// Package server provides the HTTP server and routing for the staking ledger.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/meridianyield/stakeledger/internal/auth"
	"github.com/meridianyield/stakeledger/internal/config"
	"github.com/meridianyield/stakeledger/internal/database"
	"github.com/meridianyield/stakeledger/internal/events"
	ledgerhandlers "github.com/meridianyield/stakeledger/internal/modules/ledger/handlers"
	strategyhandlers "github.com/meridianyield/stakeledger/internal/modules/strategy/handlers"
	"github.com/meridianyield/stakeledger/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log              zerolog.Logger
	Config           *config.Config
	LedgerDB         *database.DB
	RegistryDB       *database.DB
	EventBus         *events.Bus
	LedgerHandlers   *ledgerhandlers.Handler
	StrategyHandlers *strategyhandlers.Handler
	ReconcileJob     scheduler.Job
	BackupJob        scheduler.Job
}

// Server represents the HTTP server
type Server struct {
	router           *chi.Mux
	server           *http.Server
	log              zerolog.Logger
	cfg              *config.Config
	ledgerDB         *database.DB
	registryDB       *database.DB
	eventBus         *events.Bus
	ledgerHandlers   *ledgerhandlers.Handler
	strategyHandlers *strategyhandlers.Handler
	systemHandlers   *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	systemHandlers := NewSystemHandlers(
		cfg.Log,
		cfg.Config.DataDir,
		map[string]*database.DB{
			"ledger":   cfg.LedgerDB,
			"registry": cfg.RegistryDB,
		},
		cfg.ReconcileJob,
		cfg.BackupJob,
	)

	s := &Server{
		router:           chi.NewRouter(),
		log:              cfg.Log.With().Str("component", "server").Logger(),
		cfg:              cfg.Config,
		ledgerDB:         cfg.LedgerDB,
		registryDB:       cfg.RegistryDB,
		eventBus:         cfg.EventBus,
		ledgerHandlers:   cfg.LedgerHandlers,
		strategyHandlers: cfg.StrategyHandlers,
		systemHandlers:   systemHandlers,
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	tokens := &auth.TokenSet{
		RouterToken:  s.cfg.RouterToken,
		ManagerToken: s.cfg.ManagerToken,
	}
	s.router.Use(tokens.Middleware)

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Event streams before the regular routes
		eventsStream := NewEventsStreamHandler(s.eventBus, s.log)
		r.Get("/events/stream", eventsStream.ServeHTTP)

		eventsWS := NewEventsWebSocketHandler(s.eventBus, s.log)
		r.Get("/events/ws", eventsWS.ServeHTTP)

		s.ledgerHandlers.RegisterRoutes(r)
		s.strategyHandlers.RegisterRoutes(r)
		s.systemHandlers.RegisterRoutes(r)
	})
}

// handleHealth responds to health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
