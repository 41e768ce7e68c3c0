// Package server provides the HTTP server and routing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/restock/internal/database"
	"github.com/aristath/restock/internal/events"
	"github.com/aristath/restock/internal/metrics"
	"github.com/aristath/restock/internal/scheduler"
	"github.com/aristath/restock/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RouteRegistrar mounts module routes under /api
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	DB        *database.DB
	DataDir   string
	Port      int
	DevMode   bool
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Scheduler *scheduler.Scheduler
	Jobs      []scheduler.Job
	Modules   []RouteRegistrar
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	var runner JobRunner
	if cfg.Scheduler != nil {
		runner = cfg.Scheduler
	}
	s.systemHandlers = NewSystemHandlers(cfg.DB, cfg.DataDir, runner, cfg.Jobs, cfg.Log)
	if cfg.Bus != nil {
		s.eventsStream = NewEventsStreamHandler(cfg.Bus, cfg.Log)
	}

	s.setupMiddleware()
	s.setupRoutes()

	// no write timeout: planning runs and event streams outlive any fixed deadline
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Router exposes the handler tree
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.cfg.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		if s.eventsStream != nil {
			r.Get("/events/ws", s.eventsStream.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			if !s.cfg.DevMode {
				r.Use(middleware.Compress(5))
			}

			r.Route("/system", func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				r.Get("/stats", s.systemHandlers.HandleSystemStats)
				r.Get("/jobs", s.systemHandlers.HandleListJobs)
				r.Post("/jobs/{name}", func(w http.ResponseWriter, r *http.Request) {
					s.systemHandlers.HandleTriggerJob(w, r, chi.URLParam(r, "name"))
				})
			})

			for _, m := range s.cfg.Modules {
				m.RegisterRoutes(r)
			}
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "healthy",
		"version": version.Version,
	}

	if s.cfg.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.DB.QuickCheck(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Health check database ping failed")
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["error"] = "database unreachable"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
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
