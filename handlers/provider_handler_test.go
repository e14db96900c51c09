package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/credentials"
	"github.com/upb/ai-gateway/services/providers"
)

type staticAdapters []string

func (s staticAdapters) List() []string { return s }

func newProviderRouter(t *testing.T) (http.Handler, *credentials.Store) {
	t.Helper()
	catalog := providers.NewBuiltinCatalog()
	store := credentials.NewStore(catalog, credentials.NewMemorySecretStore())
	handler := NewProviderHandler(catalog, store, staticAdapters{"anthropic", "baidu", "openai"}, zap.NewNop())
	return providerRoutes(handler), store
}

func providerRoutes(handler *ProviderHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/providers", handler.ListProviders)
	r.Post("/providers", handler.RegisterProvider)
	r.Get("/providers/{id}", handler.GetProvider)
	r.Put("/providers/{id}/credentials", handler.SaveCredentials)
	r.Patch("/providers/{id}/credentials", handler.ToggleCredentials)
	r.Delete("/providers/{id}/credentials", handler.DeleteCredentials)
	r.Get("/credentials", handler.ListCredentials)
	return r
}

// recordingGauge keeps every configured provider count it was given
type recordingGauge struct {
	values []int
}

func (g *recordingGauge) SetConfiguredProviders(n int) {
	g.values = append(g.values, n)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestProviderHandler_ListProviders(t *testing.T) {
	router, store := newProviderRouter(t)
	_, err := store.Save(t.Context(), "baidu", map[string]string{"apiKey": "ak", "secretKey": "sk"})
	require.NoError(t, err)

	w := serve(router, http.MethodGet, "/providers", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data []ProviderView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Data, 7)

	byID := make(map[string]ProviderView)
	for _, v := range response.Data {
		byID[v.ID] = v
	}
	assert.True(t, byID["baidu"].Configured)
	assert.True(t, byID["baidu"].Dispatch)
	assert.False(t, byID["openai"].Configured)
	assert.False(t, byID["zhipu"].Dispatch)
	assert.NotContains(t, w.Body.String(), `"sk"`)
}

func TestProviderHandler_GetProvider(t *testing.T) {
	router, _ := newProviderRouter(t)

	t.Run("known provider", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/providers/bedrock", "")
		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data ProviderView `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "bedrock", response.Data.ID)
		assert.Equal(t, providers.AuthAPIKeySecretRegion, response.Data.AuthType)
		assert.Len(t, response.Data.CredentialFields, 3)
	})

	t.Run("unknown provider", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/providers/does-not-exist", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestProviderHandler_RegisterProvider(t *testing.T) {
	descriptor := `{
		"id": "moonshot",
		"displayName": "Moonshot",
		"baseUrl": "https://api.moonshot.cn/v1",
		"authType": "api-key",
		"credentialFields": [{"key": "apiKey", "label": "API Key", "sensitive": true, "required": true}],
		"models": ["moonshot-v1-8k"]
	}`

	t.Run("created", func(t *testing.T) {
		router, _ := newProviderRouter(t)

		w := serve(router, http.MethodPost, "/providers", descriptor)
		assert.Equal(t, http.StatusCreated, w.Code)

		var response struct {
			Data ProviderView `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "moonshot", response.Data.ID)
		assert.False(t, response.Data.Dispatch)

		w = serve(router, http.MethodGet, "/providers/moonshot", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("duplicate", func(t *testing.T) {
		router, _ := newProviderRouter(t)

		require.Equal(t, http.StatusCreated, serve(router, http.MethodPost, "/providers", descriptor).Code)
		w := serve(router, http.MethodPost, "/providers", descriptor)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid descriptor", func(t *testing.T) {
		router, _ := newProviderRouter(t)

		w := serve(router, http.MethodPost, "/providers", `{"id": "x", "displayName": "X", "authType": "oauth", "credentialFields": [], "models": []}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		details := response["details"].(map[string]interface{})
		assert.Contains(t, details, "AuthType")
	})
}

func TestProviderHandler_CredentialLifecycle(t *testing.T) {
	router, store := newProviderRouter(t)

	w := serve(router, http.MethodPut, "/providers/openai/credentials", `{"fields": {"apiKey": "sk-live-123", "organization": "org-1"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-live-123")

	var saved struct {
		Data credentials.Confirmation `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&saved))
	assert.Equal(t, []string{"apiKey", "organization"}, saved.Data.Fields)
	assert.True(t, saved.Data.Active)

	w = serve(router, http.MethodPatch, "/providers/openai/credentials", `{"active": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.Configured())

	w = serve(router, http.MethodGet, "/credentials", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"providerId":"openai"`)
	assert.NotContains(t, w.Body.String(), "sk-live-123")

	w = serve(router, http.MethodDelete, "/providers/openai/credentials", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(router, http.MethodDelete, "/providers/openai/credentials", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProviderHandler_CredentialChangesRefreshGauge(t *testing.T) {
	catalog := providers.NewBuiltinCatalog()
	store := credentials.NewStore(catalog, credentials.NewMemorySecretStore())
	gauge := &recordingGauge{}
	router := providerRoutes(NewProviderHandler(catalog, store, staticAdapters{"openai"}, zap.NewNop()).WithGauge(gauge))

	require.Equal(t, http.StatusOK, serve(router, http.MethodPut, "/providers/openai/credentials", `{"fields": {"apiKey": "k"}}`).Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodPut, "/providers/anthropic/credentials", `{"fields": {"apiKey": "k"}}`).Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodPatch, "/providers/openai/credentials", `{"active": false}`).Code)
	require.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/providers/anthropic/credentials", "").Code)

	// failed writes leave the gauge alone
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodPut, "/providers/baidu/credentials", `{"fields": {"apiKey": "ak"}}`).Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodDelete, "/providers/anthropic/credentials", "").Code)

	assert.Equal(t, []int{1, 2, 1, 0}, gauge.values)
}

func TestProviderHandler_SaveCredentialsErrors(t *testing.T) {
	router, _ := newProviderRouter(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"malformed body", "/providers/openai/credentials", `{"fields":`, http.StatusBadRequest},
		{"empty fields", "/providers/openai/credentials", `{"fields": {}}`, http.StatusBadRequest},
		{"missing required secret", "/providers/baidu/credentials", `{"fields": {"apiKey": "ak"}}`, http.StatusBadRequest},
		{"unknown provider", "/providers/nope/credentials", `{"fields": {"apiKey": "k"}}`, http.StatusBadRequest},
		{"undeclared field", "/providers/openai/credentials", `{"fields": {"apiKey": "k", "password": "p"}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestProviderHandler_ToggleCredentialsErrors(t *testing.T) {
	router, _ := newProviderRouter(t)

	w := serve(router, http.MethodPatch, "/providers/openai/credentials", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, http.MethodPatch, "/providers/openai/credentials", `{"active": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
