// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB           → RunService (as repository.RunRepository)
//	  Orchestrator        → RunService (as service.Runner)
//	  RunService          → RunHandler
//	  TokenService        → RequireAuth, SessionHandler (when a JWT secret is set)
//
// This is the "composition root" pattern: all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/agentcoder/internal/agent"
	"github.com/sakif/agentcoder/internal/auth"
	"github.com/sakif/agentcoder/internal/config"
	"github.com/sakif/agentcoder/internal/handler"
	"github.com/sakif/agentcoder/internal/metrics"
	"github.com/sakif/agentcoder/internal/middleware"
	sqliteRepo "github.com/sakif/agentcoder/internal/repository/sqlite"
	"github.com/sakif/agentcoder/internal/service"
)

// shutdownTimeout bounds how long in-flight requests and runs get to finish.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection, the run service and the sandbox.
// Start closes all three on the way out, in reverse order of creation:
// runs first (they write to the database and use the sandbox), then the
// sandbox, then the database.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	runs    *service.RunService
	tokens  *auth.TokenService
	sandbox io.Closer
}

// New creates a Server from cfg: database, model client, sandbox,
// orchestrator, run service and routes.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	orch, sandbox, err := agent.NewOrchestrator(cfg, logger)
	if err != nil {
		return nil, err
	}

	s, err := build(cfg, logger, orch, sandbox)
	if err != nil {
		sandbox.Close()
		return nil, err
	}
	return s, nil
}

// build wires everything downstream of the orchestrator. Tests call it
// with a fake runner.
func build(cfg config.Config, logger *slog.Logger, runner service.Runner, sandbox io.Closer) (*Server, error) {
	if cfg.Server.DBPath != ":memory:" {
		// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
		if err := os.MkdirAll(filepath.Dir(cfg.Server.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(cfg.Server.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		sandbox: sandbox,
	}

	if cfg.Server.AuthEnabled() {
		s.tokens, err = auth.NewTokenService(cfg.Server.JWTSecret)
		if err != nil {
			db.Close()
			return nil, err
		}
	} else {
		logger.Warn("JWT secret not set; the run API is open to anyone who can reach it")
	}

	s.runs = service.NewRunService(db, runner, cfg.Server.MaxConcurrentRuns, logger)

	// Runs a previous process never finished can't resume; say so instead
	// of leaving them "running" forever.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.runs.RecoverInterrupted(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler returns the router. Used by tests and by anything embedding the app.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                       → Requirement page (HTML)
// GET    /static/*               → Static files (CSS, JS)
// GET    /healthz                → Liveness + database check
// GET    /metrics                → Prometheus metrics
// POST   /auth/session           → Trade an API token for a cookie   [auth only]
// DELETE /auth/session           → Clear the cookie                  [auth only]
// POST   /api/runs               → Submit a requirement (202)
// GET    /api/runs               → List runs
// GET    /api/runs/{id}          → One run
// GET    /api/runs/{id}/events   → Snapshot history
// GET    /api/runs/{id}/stream   → Snapshots as Server-Sent Events
// POST   /api/runs/{id}/cancel   → Cancel an active run
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (the logger prints it)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Static Files ===
	// GET /static/app.js → serves {StaticDir}/app.js
	fileServer := http.FileServer(http.Dir(s.config.Server.StaticDir))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	// === Page Routes ===
	playgroundHandler, err := handler.NewPlaygroundHandler(s.config.Server.TemplateDir, handler.PageOptions{
		AuthEnabled:    s.tokens != nil,
		MaxRequirement: service.MaxRequirementLength,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("creating playground handler: %w", err)
	}
	s.router.Get("/", playgroundHandler.HandlePlayground)

	// === Operations ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	// === Auth Routes ===
	if s.tokens != nil {
		sessionHandler := handler.NewSessionHandler(s.tokens, s.logger)
		s.router.Post("/auth/session", sessionHandler.HandleCreate)
		s.router.Delete("/auth/session", sessionHandler.HandleDelete)
	}

	// === API Routes ===
	// The handler never touches the database directly.
	// The service never touches HTTP.
	runHandler := handler.NewRunHandler(s.runs, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		if s.tokens != nil {
			r.Use(auth.RequireAuth(s.tokens))
		}
		r.Post("/runs", runHandler.HandleSubmit)
		r.Get("/runs", runHandler.HandleList)
		r.Get("/runs/{id}", runHandler.HandleGet)
		r.Get("/runs/{id}/events", runHandler.HandleEvents)
		r.Get("/runs/{id}/stream", runHandler.HandleStream)
		r.Post("/runs/{id}/cancel", runHandler.HandleCancel)
	})

	return nil
}

type healthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"activeRuns"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"unavailable","activeRuns":%d}`+"\n", s.runs.Active())
		return
	}
	fmt.Fprintf(w, `{"status":"ok","activeRuns":%d}`+"\n", s.runs.Active())
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections and let in-flight requests finish
// 2. Cancel active runs and wait for them to store their final state
// 3. Close the sandbox (removes pooled containers)
// 4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // the run stream lifts this per request
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("database", s.config.Server.DBPath),
			slog.Bool("auth", s.tokens != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Streams end when their runs do, so stop the runs alongside the
		// HTTP server rather than after it.
		runsDone := make(chan error, 1)
		go func() { runsDone <- s.runs.Shutdown(ctx) }()

		if err := srv.Shutdown(ctx); err != nil {
			serveErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if err := <-runsDone; err != nil {
			s.logger.Error("runs did not stop in time", slog.String("error", err.Error()))
		}
	}

	return errors.Join(serveErr, s.Close())
}

// Close releases the sandbox and the database. Start calls it on the way out.
func (s *Server) Close() error {
	var errs []error
	if s.sandbox != nil {
		if err := s.sandbox.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sandbox: %w", err))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if len(errs) == 0 {
		s.logger.Info("server stopped gracefully")
	}
	return errors.Join(errs...)
}
