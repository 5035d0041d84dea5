package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/benaskins/loopmic/internal/config"
	"github.com/benaskins/loopmic/internal/supervisor"
)

const maxBodyBytes = 1 << 20

// Component is the stream component the API exposes.
type Component interface {
	Configure(ctx context.Context, attrs map[string]any) error
	Readings(ctx context.Context) map[string]any
	DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error)
	Snapshot() supervisor.Snapshot
}

// Server serves the loopmic REST API over a Unix socket.
type Server struct {
	component Component
	listener  net.Listener
	server    *http.Server
	logger    *slog.Logger
	ctx       context.Context
}

// NewServer creates an API server for the given component. ctx bounds the
// process actions requests trigger; a relay started over the API outlives
// the request that started it.
func NewServer(c Component, ctx context.Context) *Server {
	s := &Server{
		component: c,
		logger:    slog.With("component", "api"),
		ctx:       ctx,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/readings", s.readings)
		r.Post("/command", s.command)
		r.Put("/config", s.configure)
		r.Get("/health", s.health)
	})

	s.server = &http.Server{Handler: r}
	return s
}

// Handler returns the router, for tests and for mounting elsewhere.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) readings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.component.Readings(r.Context()))
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := s.component.DoCommand(s.ctx, body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) configure(w http.ResponseWriter, r *http.Request) {
	var attrs map[string]any
	if !decodeBody(w, r, &attrs) {
		return
	}

	if err := s.component.Configure(s.ctx, attrs); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "configured"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snap := s.component.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"state":            snap.State,
		"streaming":        snap.BelievedRunning,
		"budget_exhausted": snap.BudgetExhausted,
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrAlreadyRunning),
		errors.Is(err, supervisor.ErrRestartBudgetExhausted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
