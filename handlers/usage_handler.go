package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/usage"
	"github.com/upb/ai-gateway/utils"
)

// StatsSource produces usage snapshots
type StatsSource interface {
	Snapshot() usage.Stats
	Reset()
}

// UsageHandler serves aggregated usage statistics
type UsageHandler struct {
	stats  StatsSource
	logger *zap.Logger
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(stats StatsSource, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{stats: stats, logger: logger}
}

// GetStats handles GET /api/v1/usage/stats
func (h *UsageHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.stats.Snapshot()); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// ResetStats handles DELETE /api/v1/usage/stats
func (h *UsageHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.stats.Reset()
	h.logger.Info("usage statistics reset")
	utils.WriteNoContent(w)
}

// ArchiveSource exposes the usage archive
type ArchiveSource interface {
	Stats() usage.ArchiverStats
	Batches(ctx context.Context) ([]string, error)
	Batch(ctx context.Context, path string) ([]usage.UsageRecord, error)
}

// ArchiveResponse describes the archive state and its record files
type ArchiveResponse struct {
	Stats   usage.ArchiverStats `json:"stats"`
	Batches []string            `json:"batches"`
}

// ArchiveHandler serves archived usage records
type ArchiveHandler struct {
	archive ArchiveSource
	logger  *zap.Logger
}

// NewArchiveHandler creates a new ArchiveHandler
func NewArchiveHandler(archive ArchiveSource, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

// GetArchive handles GET /api/v1/usage/archive
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	batches, err := h.archive.Batches(r.Context())
	if err != nil {
		h.logger.Error("failed to list usage archive", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to list usage archive")
		return
	}
	if batches == nil {
		batches = []string{}
	}

	if err := utils.WriteOK(w, ArchiveResponse{Stats: h.archive.Stats(), Batches: batches}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// GetRecords handles GET /api/v1/usage/archive/records?path=
func (h *ArchiveHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	records, err := h.archive.Batch(r.Context(), path)
	switch {
	case errors.Is(err, usage.ErrInvalidPath):
		_ = utils.WriteBadRequest(w, "invalid archive path", map[string]interface{}{"path": path})
		return
	case errors.Is(err, usage.ErrNotFound):
		_ = utils.WriteNotFound(w, "archived batch not found")
		return
	case err != nil:
		h.logger.Error("failed to read usage archive", zap.String("path", path), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "failed to read usage archive")
		return
	}
	if records == nil {
		records = []usage.UsageRecord{}
	}

	if err := utils.WriteOK(w, records); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
