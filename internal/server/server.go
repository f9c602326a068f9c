// Package server provides the HTTP server and routing for Quantfolio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/config"
	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/engine"
	attributionhandlers "github.com/quantfolio/quantfolio/internal/modules/attribution/handlers"
	backtesthandlers "github.com/quantfolio/quantfolio/internal/modules/backtest/handlers"
	"github.com/quantfolio/quantfolio/internal/modules/charts"
	chartshandlers "github.com/quantfolio/quantfolio/internal/modules/charts/handlers"
	factorshandlers "github.com/quantfolio/quantfolio/internal/modules/factors/handlers"
	riskhandlers "github.com/quantfolio/quantfolio/internal/modules/risk/handlers"
	simulationhandlers "github.com/quantfolio/quantfolio/internal/modules/simulation/handlers"
	technicalhandlers "github.com/quantfolio/quantfolio/internal/modules/technical/handlers"
	"github.com/quantfolio/quantfolio/internal/reliability"
)

// maxInFlight caps concurrent requests. Risk computations are CPU-bound,
// so unbounded concurrency degrades every request at once.
const maxInFlight = 64

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Engine    *engine.Engine
	Charts    *charts.Service
	PriceDB   *database.DB
	CacheDB   *database.DB
	Snapshots *reliability.SnapshotService // optional, nil when archiving is disabled
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	engine         *engine.Engine
	charts         *charts.Service
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg.Config,
		engine: cfg.Engine,
		charts: cfg.Charts,
		systemHandlers: NewSystemHandlers(
			cfg.Log,
			cfg.Config.DataDir,
			map[string]*database.DB{
				"prices":       cfg.PriceDB,
				"calculations": cfg.CacheDB,
			},
			cfg.Snapshots,
		),
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(s.requestIDMiddleware)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Bound concurrency and per-request time
	s.router.Use(middleware.Throttle(maxInFlight))
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check outside /api so load balancers can probe cheaply
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// System monitoring
		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.systemHandlers.HandleHealth)
			r.Get("/info", s.systemHandlers.HandleInfo)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
			r.Get("/snapshots", s.systemHandlers.HandleListSnapshots)
			r.Post("/snapshots", s.systemHandlers.HandleTriggerSnapshot)
		})

		riskHandler := riskhandlers.NewHandler(s.engine, s.log)
		riskHandler.RegisterRoutes(r)

		attributionHandler := attributionhandlers.NewHandler(s.engine, s.log)
		attributionHandler.RegisterRoutes(r)

		backtestHandler := backtesthandlers.NewHandler(s.engine, s.log)
		backtestHandler.RegisterRoutes(r)

		factorsHandler := factorshandlers.NewHandler(s.engine, s.log)
		factorsHandler.RegisterRoutes(r)

		simulationHandler := simulationhandlers.NewHandler(s.engine, s.log)
		simulationHandler.RegisterRoutes(r)

		technicalHandler := technicalhandlers.NewHandler(s.engine, s.log)
		technicalHandler.RegisterRoutes(r)

		chartsHandler := chartshandlers.NewHandler(s.charts, s.log)
		chartsHandler.RegisterRoutes(r)
	})
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

type requestIDKey struct{}

// requestIDMiddleware tags every request with a UUID, honoring an inbound
// X-Request-ID so upstream proxies can correlate logs.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
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
			Str("request_id", requestIDFromContext(r.Context())).
			Msg("HTTP request")
	})
}
