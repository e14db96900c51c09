package handlers

import (
	"context"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/middleware"
	"github.com/upb/ai-gateway/services/credentials"
	"github.com/upb/ai-gateway/services/providers"
	"github.com/upb/ai-gateway/utils"
)

// ProviderCatalog defines the catalog operations exposed over HTTP
type ProviderCatalog interface {
	List() []providers.ProviderDescriptor
	Get(id string) (providers.ProviderDescriptor, error)
	Register(d providers.ProviderDescriptor) error
}

// CredentialManager defines the credential store operations exposed over HTTP
type CredentialManager interface {
	Save(ctx context.Context, providerID string, fields map[string]string) (*credentials.ProviderCredential, error)
	Remove(ctx context.Context, providerID string) error
	SetActive(ctx context.Context, providerID string, active bool) (*credentials.ProviderCredential, error)
	List() []credentials.Confirmation
	Configured() []string
}

// AdapterLister reports which providers have an adapter wired in
type AdapterLister interface {
	List() []string
}

// ProviderGauge tracks how many providers have an active credential
type ProviderGauge interface {
	SetConfiguredProviders(n int)
}

// ProviderView is a descriptor plus its runtime status
type ProviderView struct {
	providers.ProviderDescriptor
	Configured bool `json:"configured"`
	Dispatch   bool `json:"dispatch"`
}

// SaveCredentialRequest is the body of PUT /api/v1/providers/{id}/credentials
type SaveCredentialRequest struct {
	Fields map[string]string `json:"fields" validate:"required,min=1"`
}

// ToggleCredentialRequest is the body of PATCH /api/v1/providers/{id}/credentials
type ToggleCredentialRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// ProviderHandler handles catalog and credential requests
type ProviderHandler struct {
	catalog     ProviderCatalog
	credentials CredentialManager
	adapters    AdapterLister
	gauge       ProviderGauge
	logger      *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(catalog ProviderCatalog, creds CredentialManager, adapters AdapterLister, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		catalog:     catalog,
		credentials: creds,
		adapters:    adapters,
		logger:      logger,
	}
}

// WithGauge refreshes gauge after every credential change
func (h *ProviderHandler) WithGauge(gauge ProviderGauge) *ProviderHandler {
	h.gauge = gauge
	return h
}

func (h *ProviderHandler) credentialsChanged() {
	if h.gauge != nil {
		h.gauge.SetConfiguredProviders(len(h.credentials.Configured()))
	}
}

func (h *ProviderHandler) view(d providers.ProviderDescriptor, configured, dispatch []string) ProviderView {
	return ProviderView{
		ProviderDescriptor: d,
		Configured:         slices.Contains(configured, d.ID),
		Dispatch:           slices.Contains(dispatch, d.ID),
	}
}

// ListProviders handles GET /api/v1/providers
func (h *ProviderHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	configured := h.credentials.Configured()
	dispatch := h.adapters.List()

	descriptors := h.catalog.List()
	views := make([]ProviderView, 0, len(descriptors))
	for _, d := range descriptors {
		views = append(views, h.view(d, configured, dispatch))
	}

	if err := utils.WriteOK(w, views); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// GetProvider handles GET /api/v1/providers/{id}
func (h *ProviderHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, h.view(d, h.credentials.Configured(), h.adapters.List())); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// RegisterProvider handles POST /api/v1/providers. Registered providers
// without an adapter can hold credentials but cannot be dispatched to.
func (h *ProviderHandler) RegisterProvider(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	var d providers.ProviderDescriptor
	if err := utils.DecodeJSON(r, &d); err != nil {
		h.logger.Warn("failed to parse provider descriptor",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&d); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.catalog.Register(d); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("provider registered",
		zap.String("request_id", requestID),
		zap.String("provider", d.ID),
		zap.Strings("models", d.Models))

	if err := utils.WriteCreated(w, h.view(d, nil, h.adapters.List())); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// ListCredentials handles GET /api/v1/credentials
func (h *ProviderHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.credentials.List()); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// SaveCredentials handles PUT /api/v1/providers/{id}/credentials
func (h *ProviderHandler) SaveCredentials(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")

	var req SaveCredentialRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	cred, err := h.credentials.Save(r.Context(), providerID, req.Fields)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.credentialsChanged()

	if err := utils.WriteOK(w, cred.Redacted()); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// DeleteCredentials handles DELETE /api/v1/providers/{id}/credentials
func (h *ProviderHandler) DeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := h.credentials.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.credentialsChanged()
	utils.WriteNoContent(w)
}

// ToggleCredentials handles PATCH /api/v1/providers/{id}/credentials
func (h *ProviderHandler) ToggleCredentials(w http.ResponseWriter, r *http.Request) {
	var req ToggleCredentialRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	cred, err := h.credentials.SetActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.credentialsChanged()

	if err := utils.WriteOK(w, cred.Redacted()); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
