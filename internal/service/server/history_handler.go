package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/service/audit"
)

// defaultLimit bounds list endpoints when no limit is given
const defaultLimit = 50

// HistoryHandler serves the read-only history and cache endpoints
type HistoryHandler struct {
	audit  *audit.Service
	logger *zap.Logger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(auditSvc *audit.Service, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		audit:  auditSvc,
		logger: logger,
	}
}

// parseLimit reads ?limit=; 0 means every record
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.ErrInvalidInput
	}
	return n, nil
}

// HandleScans lists recent scan records
func (h *HistoryHandler) HandleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	scans, err := h.audit.RecentScans(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, "failed to list scans", err)
		return
	}
	if scans == nil {
		scans = []*domain.ScanRecord{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// HandleScan returns one scan with its deletions
func (h *HistoryHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/scans/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Scan id required", http.StatusBadRequest)
		return
	}

	scan, deletions, err := h.audit.GetScan(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "failed to get scan", err)
		return
	}
	if deletions == nil {
		deletions = []*domain.DeletionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scan":      scan,
		"deletions": deletions,
	})
}

// HandleDeletions lists recent deletion records
func (h *HistoryHandler) HandleDeletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	deletions, err := h.audit.RecentDeletions(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, "failed to list deletions", err)
		return
	}
	if deletions == nil {
		deletions = []*domain.DeletionRecord{}
	}
	writeJSON(w, http.StatusOK, deletions)
}

// HandleStats returns aggregate history statistics. With ?period=24h it
// also summarizes the deletions of that trailing period.
func (h *HistoryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.audit.AggregateStats(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to get stats", err)
		return
	}

	raw := r.URL.Query().Get("period")
	if raw == "" {
		writeJSON(w, http.StatusOK, stats)
		return
	}

	period, err := time.ParseDuration(raw)
	if err != nil || period <= 0 {
		http.Error(w, "Invalid period", http.StatusBadRequest)
		return
	}
	recent, err := h.audit.DeletionStats(r.Context(), period)
	if err != nil {
		writeError(w, h.logger, "failed to get period stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"aggregate": stats,
		"period":    recent,
	})
}

// HandleCacheStats returns hash cache statistics
func (h *HistoryHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.audit.CacheStats(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to get cache stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleVerify runs an integrity check
func (h *HistoryHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := h.audit.Verify(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to verify", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
