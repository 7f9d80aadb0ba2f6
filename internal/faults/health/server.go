package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// Admin is the diagnostic and administrative surface served over HTTP.
type Admin interface {
	Source
	DumpLog() []domain.ErrorEvent
	LogOverflow() uint64
	ResetStatistics(id string) error
}

// LogDump is the body of GET /log.
type LogDump struct {
	Overflow uint64              `json:"overflow"`
	Events   []domain.ErrorEvent `json:"events"`
}

// Server provides HTTP endpoints for health monitoring and administration.
type Server struct {
	monitor *Monitor
	admin   Admin
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, admin Admin, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		admin:   admin,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		logger: logger.With("component", "health"),
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /log", s.handleLog)
	mux.HandleFunc("GET /devices/{id}", s.handleDevice)
	mux.HandleFunc("POST /devices/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /coordinator", s.handleCoordinator)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("Health server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LogDump{
		Overflow: s.admin.LogOverflow(),
		Events:   s.admin.DumpLog(),
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.admin.GetStatistics(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.admin.ResetStatistics(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Statistics reset over HTTP", "device", id, "remote", r.RemoteAddr)
	st, err := s.admin.GetStatistics(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCoordinator(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.admin.CoordinatorState())
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownDevice):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidDevice):
		code = http.StatusBadRequest
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", "error", err)
	}
}
