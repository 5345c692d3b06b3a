package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/service/audit"
	"github.com/vertextoedge/dupecache/internal/service/maintenance"
)

// maxBodyBytes caps request bodies on write endpoints
const maxBodyBytes = 4 << 20

// AdminHandler handles the write endpoints
type AdminHandler struct {
	audit  *audit.Service
	maint  *maintenance.Service
	logger *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(auditSvc *audit.Service, maint *maintenance.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		audit:  auditSvc,
		maint:  maint,
		logger: logger,
	}
}

func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// HandleRecordDeletion records a deletion performed by the caller
func (h *AdminHandler) HandleRecordDeletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req audit.DeletionRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeError(w, h.logger, "invalid request body", err)
		return
	}

	rec, err := h.audit.RecordDeletion(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "failed to record deletion", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleCompact compacts the hash cache and the history
func (h *AdminHandler) HandleCompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := h.maint.CompactCache(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to compact cache", err)
		return
	}
	if err := h.maint.CompactHistory(r.Context()); err != nil {
		writeError(w, h.logger, "failed to compact history", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleClearCache drops every cache entry when the body confirms it
func (h *AdminHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeBody(r, w, &body); err != nil {
		writeError(w, h.logger, "invalid request body", err)
		return
	}

	if err := h.maint.ClearCache(r.Context(), body.Confirm); err != nil {
		writeError(w, h.logger, "failed to clear cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
