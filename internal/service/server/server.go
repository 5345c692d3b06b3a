package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/service/audit"
	"github.com/vertextoedge/dupecache/internal/service/maintenance"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server represents the HTTP audit and maintenance API
type Server struct {
	config         *Config
	audit          *audit.Service
	logger         *zap.Logger
	server         *http.Server
	historyHandler *HistoryHandler
	adminHandler   *AdminHandler
}

// New creates a new HTTP server
func New(cfg *Config, auditSvc *audit.Service, maint *maintenance.Service, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		audit:  auditSvc,
		logger: logger,
	}

	s.historyHandler = NewHistoryHandler(auditSvc, logger)
	s.adminHandler = NewAdminHandler(auditSvc, maint, logger)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Read surface
	mux.HandleFunc("/api/scans", s.historyHandler.HandleScans)
	mux.HandleFunc("/api/scans/", s.historyHandler.HandleScan)
	mux.HandleFunc("/api/stats", s.historyHandler.HandleStats)
	mux.HandleFunc("/api/cache/stats", s.historyHandler.HandleCacheStats)
	mux.HandleFunc("/api/verify", s.historyHandler.HandleVerify)

	// Writes go through basic auth when a password is configured
	protect := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if cfg.AdminPassword != "" {
		protect = BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
	}
	mux.HandleFunc("/api/deletions", s.routeDeletions(protect))
	mux.HandleFunc("/api/maintenance/compact", protect(s.adminHandler.HandleCompact))
	mux.HandleFunc("/api/maintenance/clear-cache", protect(s.adminHandler.HandleClearCache))

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// routeDeletions serves the list on GET and records a deletion on POST
func (s *Server) routeDeletions(protect func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	record := protect(s.adminHandler.HandleRecordDeletion)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			record(w, r)
			return
		}
		s.historyHandler.HandleDeletions(w, r)
	}
}

// Handler returns the root handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.audit.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a service error onto a status code
func writeError(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotConfirmed):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, maintenance.ErrInProgress):
		status = http.StatusConflict
	case domain.IsRetryable(err):
		status = http.StatusServiceUnavailable
		if after, ok := domain.GetRetryAfter(err); ok && after > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(after.Seconds()+0.5)))
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": msg + ": " + err.Error()})
}
