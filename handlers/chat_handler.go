package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/ai-gateway/middleware"
	"github.com/upb/ai-gateway/services/gateway"
	"github.com/upb/ai-gateway/services/providers"
	"github.com/upb/ai-gateway/utils"
)

// MaxBatchSize bounds the number of requests accepted by one batch call
const MaxBatchSize = 100

// ChatService defines the dispatcher operations exposed over HTTP
type ChatService interface {
	// Chat dispatches one canonical request
	Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error)

	// BatchChat dispatches independent requests and keeps their order
	BatchChat(ctx context.Context, reqs []*providers.ChatRequest) []gateway.BatchResult
}

// BatchRequest is the body of POST /api/v1/chat/batch. Items are validated
// one by one so a malformed item fails alone.
type BatchRequest struct {
	Requests []*providers.ChatRequest `json:"requests" validate:"required,min=1,max=100"`
}

// BatchItem is the outcome of one batch entry
type BatchItem struct {
	Index    int                     `json:"index"`
	Response *providers.ChatResponse `json:"response,omitempty"`
	Error    *utils.ErrorResponse    `json:"error,omitempty"`
}

// BatchResponse lists batch outcomes in request order
type BatchResponse struct {
	Results   []BatchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// ChatHandler handles chat dispatch requests
type ChatHandler struct {
	service ChatService
	logger  *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(service ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// HandleChat handles POST /api/v1/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req providers.ChatRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	h.logger.Debug("dispatching chat",
		zap.String("request_id", requestID),
		zap.String("provider", req.Provider),
		zap.String("model", req.Model))

	resp, err := h.service.Chat(ctx, &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleBatch handles POST /api/v1/chat/batch
func (h *ChatHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req BatchRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse batch body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	// The batch runs past the server write timeout when it is longer than
	// the concurrency limit; every item still has its own vendor deadline.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("could not clear write deadline", zap.Error(err))
	}

	results := h.service.BatchChat(ctx, req.Requests)

	out := BatchResponse{Results: make([]BatchItem, len(results))}
	for i, res := range results {
		out.Results[i] = BatchItem{Index: res.Index, Response: res.Response}
		if res.Err != nil {
			out.Results[i].Error = batchError(res.Err)
			out.Failed++
			continue
		}
		out.Succeeded++
	}

	h.logger.Info("batch completed",
		zap.String("request_id", requestID),
		zap.Int("items", len(results)),
		zap.Int("failed", out.Failed))

	if err := utils.WriteOK(w, out); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// batchError renders a per-item failure the same way a single call would
func batchError(err error) *utils.ErrorResponse {
	var gerr *gateway.GatewayError
	if !errors.As(err, &gerr) {
		return &utils.ErrorResponse{
			Error:   utils.ErrorCode(http.StatusInternalServerError),
			Message: "An unexpected error occurred",
		}
	}

	status, ok := gatewayStatus[gerr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &utils.ErrorResponse{
		Error:   utils.ErrorCode(status),
		Message: gerr.Message,
		Details: gatewayDetails(gerr),
	}
}
