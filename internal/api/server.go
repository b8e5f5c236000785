// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package api assembles the identity HTTP surface: the middleware chain, the
auth and account routers, the security console and the probes.

Route map:

  - /health, /ready, /metrics: unauthenticated infrastructure endpoints.
  - /api/v1/auth: sign-in, recovery, second factors and sessions.
  - /api/v1/me: the caller's own account.
  - /api/v1/admin: moderation and security console, permission gated.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/agora/internal/platform/config"
	"github.com/taibuivan/agora/internal/platform/constants"
	"github.com/taibuivan/agora/internal/platform/metrics"
	"github.com/taibuivan/agora/internal/platform/middleware"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/internal/users/auth"
	"github.com/taibuivan/agora/internal/users/authz"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
type Handlers struct {
	// Liveness is the /health handler. It returns 200 while the process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler. It returns 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Auth handles sign-in, recovery, second factors and sessions.
	Auth *auth.Handler

	// Account handles the caller's profile and account moderation.
	Account *account.Handler

	// Admin handles the security console.
	Admin *AdminHandler

	// Permissions gates the moderation routes.
	Permissions authz.Checker
}

// Security groups the request authentication collaborators.
type Security struct {
	Verifier middleware.TokenVerifier
	Guard    middleware.SessionGuard
	Metrics  *metrics.Metrics
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
//
// ctx bounds background work owned by the chain (the edge limiter sweeper).
func NewServer(ctx context.Context, cfg *config.Config, log *slog.Logger, security Security, h Handlers) *Server {
	r := chi.NewRouter()

	limiter := middleware.NewIPLimiter(cfg.EdgeRateRPS, cfg.EdgeRateBurst, constants.RateLimitClientTTL)
	go limiter.Run(ctx, constants.RateLimitCleanupInterval)

	// # Middleware Chain
	// Client runs before logging so the access line carries the resolved
	// address; CORS runs before Authenticate so 401s stay readable by browsers.
	r.Use(middleware.RequestID())
	r.Use(middleware.Client())
	r.Use(middleware.StructuredLogger(log))
	r.Use(middleware.Instrument(security.Metrics))
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(limiter.Middleware())
	r.Use(middleware.PanicRecovery(log))
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.Authenticate(security.Verifier, security.Guard))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated probes for container orchestration and scraping.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)
	r.Handle("/metrics", security.Metrics.Handler())

	// # Application API
	r.Route("/api/v1", func(api chi.Router) {
		api.Mount("/auth", h.Auth.Routes())

		api.Group(func(protected chi.Router) {
			protected.Use(middleware.RequireAuth)
			protected.Mount("/me", h.Account.Routes())
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.RequireAuth)
			admin.With(authz.RequirePermission(h.Permissions, PermissionUsersManage)).
				Mount("/users", h.Account.AdminRoutes())
			admin.Mount("/", h.Admin.Routes())
		})
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// Router exposes the fully wired handler. Intended for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until timeout elapses.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
