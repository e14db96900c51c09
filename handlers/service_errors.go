package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services"
	"github.com/upb/ai-gateway/services/gateway"
	"github.com/upb/ai-gateway/services/providers"
	"github.com/upb/ai-gateway/utils"
)

// gatewayStatus maps dispatcher error kinds to HTTP statuses
var gatewayStatus = map[gateway.ErrorKind]int{
	gateway.KindValidation:          http.StatusBadRequest,
	gateway.KindConfiguration:       http.StatusUnprocessableEntity,
	gateway.KindUnsupportedProvider: http.StatusNotImplemented,
	gateway.KindUpstream:            http.StatusBadGateway,
	gateway.KindTransport:           http.StatusGatewayTimeout,
}

// HandleServiceError maps gateway and domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var gerr *gateway.GatewayError
	if errors.As(err, &gerr) {
		writeGatewayError(w, gerr, logger)
		return
	}

	details := services.GetErrorDetails(err)

	switch {
	case services.IsNotFoundError(err):
		if err := utils.WriteNotFound(w, err.Error()); err != nil {
			logger.Error("failed to write not found response", zap.Error(err))
		}

	case services.IsValidationError(err):
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.IsUnauthorizedError(err):
		if err := utils.WriteUnauthorized(w, err.Error()); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}

	case services.IsConflictError(err):
		if err := utils.WriteConflict(w, err.Error(), details); err != nil {
			logger.Error("failed to write conflict response", zap.Error(err))
		}

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}
}

func writeGatewayError(w http.ResponseWriter, gerr *gateway.GatewayError, logger *zap.Logger) {
	status, ok := gatewayStatus[gerr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	if err := utils.WriteError(w, status, gerr.Message, gatewayDetails(gerr)); err != nil {
		logger.Error("failed to write gateway error response", zap.Error(err))
	}
}

// gatewayDetails exposes the error classification without the cause chain
func gatewayDetails(gerr *gateway.GatewayError) map[string]interface{} {
	details := map[string]interface{}{
		"kind": string(gerr.Kind),
	}
	if gerr.ProviderID != "" {
		details["provider"] = gerr.ProviderID
	}
	if gerr.ModelID != "" {
		details["model"] = gerr.ModelID
	}
	if gerr.Kind == gateway.KindUpstream && gerr.HTTPStatus != 0 {
		details["upstreamStatus"] = gerr.HTTPStatus
	}
	if gerr.Kind == gateway.KindUpstream || gerr.Kind == gateway.KindTransport {
		details["retryable"] = providers.IsRetryable(gerr)
	}
	if len(gerr.Fields) > 0 {
		details["fields"] = gerr.Fields
	}
	return details
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
