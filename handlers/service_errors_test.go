package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services"
	"github.com/upb/ai-gateway/services/gateway"
	"github.com/upb/ai-gateway/services/providers"
	"github.com/upb/ai-gateway/utils"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "not found error",
			err:            services.NewDomainError(services.ErrorTypeNotFound, "provider not found", nil),
			expectedStatus: http.StatusNotFound,
			expectedError:  "not_found",
		},
		{
			name:           "validation error",
			err:            services.NewValidationError("invalid input"),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "bad_request",
		},
		{
			name:           "unauthorized error",
			err:            services.NewDomainError(services.ErrorTypeUnauthorized, "unauthorized", nil),
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "conflict error",
			err:            services.NewDomainError(services.ErrorTypeConflict, "provider already registered", nil),
			expectedStatus: http.StatusConflict,
			expectedError:  "conflict",
		},
		{
			name:           "internal error",
			err:            services.WrapInternal("internal server error", nil),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
		{
			name:           "unknown error",
			err:            errors.New("some unknown error"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
		{
			name:           "gateway validation",
			err:            &gateway.GatewayError{Kind: gateway.KindValidation, Message: "invalid chat request"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "bad_request",
		},
		{
			name:           "gateway configuration",
			err:            &gateway.GatewayError{Kind: gateway.KindConfiguration, ProviderID: "openai", Message: "no active credentials"},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "unprocessable_entity",
		},
		{
			name:           "gateway unsupported provider",
			err:            &gateway.GatewayError{Kind: gateway.KindUnsupportedProvider, ProviderID: "acme", Message: "no adapter"},
			expectedStatus: http.StatusNotImplemented,
			expectedError:  "not_implemented",
		},
		{
			name:           "gateway upstream",
			err:            &gateway.GatewayError{Kind: gateway.KindUpstream, ProviderID: "openai", Message: "upstream returned status 429", HTTPStatus: 429},
			expectedStatus: http.StatusBadGateway,
			expectedError:  "bad_gateway",
		},
		{
			name:           "gateway transport",
			err:            &gateway.GatewayError{Kind: gateway.KindTransport, ProviderID: "openai", Message: "request timed out"},
			expectedStatus: http.StatusGatewayTimeout,
			expectedError:  "gateway_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedError, response.Error)
			assert.NotEmpty(t, response.Message)
		})
	}
}

func TestHandleServiceError_GatewayDetails(t *testing.T) {
	gerr := &gateway.GatewayError{
		ProviderID: "openai",
		ModelID:    "gpt-4o",
		Kind:       gateway.KindUpstream,
		Message:    "openai: upstream returned status 429",
		HTTPStatus: http.StatusTooManyRequests,
		Err:        errors.New(`{"error":{"message":"Rate limit reached for org-secret"}}`),
	}

	w := httptest.NewRecorder()
	HandleServiceError(w, gerr, zap.NewNop())

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "org-secret")

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "upstream", response.Details["kind"])
	assert.Equal(t, "openai", response.Details["provider"])
	assert.Equal(t, "gpt-4o", response.Details["model"])
	assert.Equal(t, float64(429), response.Details["upstreamStatus"])
}

func TestHandleServiceError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		gerr *gateway.GatewayError
		want interface{}
	}{
		{
			name: "rate limited",
			gerr: &gateway.GatewayError{Kind: gateway.KindUpstream, HTTPStatus: 429, Err: providers.NewUpstreamError("openai", 429, "")},
			want: true,
		},
		{
			name: "bad request upstream",
			gerr: &gateway.GatewayError{Kind: gateway.KindUpstream, HTTPStatus: 400, Err: providers.NewUpstreamError("openai", 400, "")},
			want: false,
		},
		{
			name: "timed out",
			gerr: &gateway.GatewayError{Kind: gateway.KindTransport, Err: providers.NewTransportError("openai", context.DeadlineExceeded)},
			want: true,
		},
		{
			name: "caller went away",
			gerr: &gateway.GatewayError{Kind: gateway.KindTransport, Err: providers.NewTransportError("openai", context.Canceled)},
			want: false,
		},
		{
			name: "configuration",
			gerr: &gateway.GatewayError{Kind: gateway.KindConfiguration, Message: "not configured"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.gerr, zap.NewNop())

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.want, response.Details["retryable"])
		})
	}
}

func TestHandleServiceError_ValidationFields(t *testing.T) {
	gerr := &gateway.GatewayError{
		Kind:    gateway.KindValidation,
		Message: "invalid chat request",
		Fields:  map[string]string{"ChatRequest.Model": "failed on required"},
	}

	w := httptest.NewRecorder()
	HandleServiceError(w, gerr, zap.NewNop())

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	fields, ok := response.Details["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "failed on required", fields["ChatRequest.Model"])
	assert.NotContains(t, response.Details, "upstreamStatus")
}

func TestHandleServiceErrorWithDetails(t *testing.T) {
	err := services.NewDomainError(services.ErrorTypeConflict, "provider already registered", nil).
		WithDetail("provider", "openai")

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusConflict, w.Code)

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "openai", response.Details["provider"])
}

func TestHandleServiceErrorNil(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, zap.NewNop())

	// Should not write anything
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	logger := zap.NewNop()

	t.Run("custom validation error", func(t *testing.T) {
		err := &utils.ValidationError{
			Message: "Validation failed",
			Fields: map[string]string{
				"ID":     "ID is required",
				"Models": "Models must be at least 1",
			},
		}

		w := httptest.NewRecorder()
		HandleValidationError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "bad_request", response.Error)
		assert.Equal(t, "Validation failed", response.Message)
		assert.Equal(t, "ID is required", response.Details["ID"])
		assert.Equal(t, "Models must be at least 1", response.Details["Models"])
	})

	t.Run("generic error", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleValidationError(w, errors.New("generic validation error"), logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "generic validation error", response.Message)
	})
}
