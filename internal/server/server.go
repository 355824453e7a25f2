package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/db"
	"github.com/g-flame/airlink-panel/internal/fragment"
	"github.com/g-flame/airlink-panel/internal/render"
	"github.com/g-flame/airlink-panel/internal/telemetry"
)

//go:embed assets
var assets embed.FS

// Config holds server configuration.
type Config struct {
	Port     int
	Endpoint string // fragment endpoint prefix
	AllowAll bool   // allow all CORS origins (dev mode)
}

// Server serves the panel pages, the fragment endpoint and the telemetry API.
type Server struct {
	cfg        Config
	db         *db.DB
	renderer   *render.Renderer
	events     *telemetry.Store
	hub        *telemetry.Hub
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates a server. database may be nil, in which case the telemetry
// API is not mounted.
func New(cfg Config, renderer *render.Renderer, database *db.DB, logger *zap.Logger) *Server {
	if cfg.Endpoint == "" {
		cfg.Endpoint = fragment.DefaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		db:       database,
		renderer: renderer,
		logger:   logger,
	}
	if database != nil {
		s.events = telemetry.NewStore(database)
		s.hub = telemetry.NewHub(logger)
	}

	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	static, _ := fs.Sub(assets, "assets")
	r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(static))))

	if s.events != nil {
		// Websocket upgrades must not sit behind a timeout.
		telemetry.RegisterRoutes(r, s.events, s.hub)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get(s.cfg.Endpoint, s.handleFragment)
		r.Get(s.cfg.Endpoint+"/*", s.handleFragment)
		r.Get("/*", s.handlePage)
	})

	return r
}

// handleFragment serves the JSON fragment of a route. Unknown routes get the
// not-found fragment with a 404 so the client reports a client error.
func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	path, _ := fragment.RoutePath(s.cfg.Endpoint, r.URL.Path)
	s.serveFragment(w, path)
}

func (s *Server) serveFragment(w http.ResponseWriter, path string) {
	f, err := s.renderer.Fragment(path)
	status := http.StatusOK
	switch {
	case errors.Is(err, render.ErrNotFound):
		f, status = s.renderer.NotFound(path), http.StatusNotFound
	case err != nil:
		s.logger.Error("render fragment", zap.String("path", path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "render failed"})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, f)
}

// handlePage serves a full page, or the fragment when the request was made
// by the navigation layer.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if render.IsFragmentRequest(r, s.cfg.Endpoint) {
		s.serveFragment(w, fragment.NormalizePath(r.URL.Path))
		return
	}

	path := fragment.NormalizePath(r.URL.Path)
	if raw, ok := s.renderer.RawPage(path); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(raw)
		return
	}

	f, err := s.renderer.Fragment(path)
	status := http.StatusOK
	switch {
	case errors.Is(err, render.ErrNotFound):
		f, status = s.renderer.NotFound(path), http.StatusNotFound
	case err != nil:
		s.logger.Error("render page", zap.String("path", path), zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.renderer.Page(w, path, f); err != nil {
		s.logger.Error("write page", zap.String("path", path), zap.Error(err))
	}
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() chi.Router { return s.router }

// Events returns the telemetry store, nil without a database.
func (s *Server) Events() *telemetry.Store { return s.events }

// Hub returns the live event hub, nil without a database.
func (s *Server) Hub() *telemetry.Hub { return s.hub }

// ServerConfig returns the server configuration.
func (s *Server) ServerConfig() Config { return s.cfg }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("panel server listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server and disconnects event
// subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
