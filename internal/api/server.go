// Package api exposes the HTTP interface: submit scrape jobs, poll their
// state, download export workbooks, and manage interactive sessions.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/config"
	"github.com/dataharvest/harvester/internal/model"
	"github.com/dataharvest/harvester/internal/session"
	"github.com/dataharvest/harvester/internal/store"
)

// Runner executes jobs; the pipeline orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, mode model.Mode, input model.JobInput) (*model.Job, error)
	RunBulk(ctx context.Context, mode model.Mode, inputs []model.JobInput) (*model.BulkJob, error)
}

// Server wires HTTP handlers to the pipeline, store, and session manager.
type Server struct {
	router   chi.Router
	runner   Runner
	store    store.Store
	sessions *session.Manager
	cfg      config.ServerConfig
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, st store.Store, sessions *session.Manager, cfg config.ServerConfig) *Server {
	s := &Server{
		runner:   runner,
		store:    st,
		sessions: sessions,
		cfg:      cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)

		r.Route("/scrape", func(r chi.Router) {
			r.Post("/url", s.scrapeURL)
			r.Post("/name", s.scrapeName)
		})

		r.Post("/bulk", s.runBulk)
		r.Get("/bulk/{bulk_id}", s.getBulkJob)

		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/download/{ref}", s.download)

		r.Route("/session", func(r chi.Router) {
			r.Post("/start", s.startSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/add/url", s.addSessionURL)
				r.Post("/add/name", s.addSessionName)
				r.Get("/download", s.exportSession)
				r.Get("/export", s.exportSession)
				r.Post("/end", s.endSession)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
