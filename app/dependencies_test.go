package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/ai-gateway/config"
	"github.com/upb/ai-gateway/services/providers"
)

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Gateway: config.GatewayConfig{
			RequestTimeout:   5 * time.Second,
			BatchConcurrency: 4,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "debug",
			MetricsEnabled: true,
		},
	}
}

func newTestDependencies(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })
	return deps
}

func TestNewDependencies(t *testing.T) {
	t.Run("in-memory wiring", func(t *testing.T) {
		deps := newTestDependencies(t, testConfig(t))

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.SQLDB())
		assert.NotNil(t, deps.Metrics)
		assert.NotNil(t, deps.Gateway)
		assert.NotNil(t, deps.Aggregator)
		assert.Nil(t, deps.Archiver)
		assert.NotNil(t, deps.AuthMiddleware)

		assert.Equal(t,
			[]string{"alibaba", "anthropic", "baidu", "bedrock", "gemini", "openai", "zhipu"},
			deps.Registry.List())
		assert.Len(t, deps.Catalog.List(), 7)
		assert.Empty(t, deps.Credentials.Configured())
	})

	t.Run("logs registered adapters", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		deps, err := NewDependencies(context.Background(), testConfig(t), zap.New(core))
		require.NoError(t, err)
		t.Cleanup(func() { _ = deps.Close(context.Background()) })

		registered := logs.FilterMessage("provider adapters registered").All()
		require.Len(t, registered, 1)
		assert.Equal(t, int64(deps.Registry.Count()), registered[0].ContextMap()["count"])
		assert.Equal(t, int64(len(Adapters())), registered[0].ContextMap()["count"])
	})

	t.Run("metrics disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Observability.MetricsEnabled = false

		deps := newTestDependencies(t, cfg)
		assert.Nil(t, deps.Metrics)
	})

	t.Run("environment credentials are seeded", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Providers = map[string]config.ProviderConfig{
			"openai":  {Credentials: map[string]string{"apiKey": "sk-test"}},
			"baidu":   {Credentials: map[string]string{"apiKey": "ak", "secretKey": "sk"}},
			"bedrock": {Credentials: map[string]string{"region": "us-west-2"}},
		}

		deps := newTestDependencies(t, cfg)

		// bedrock lacks its keys and is skipped rather than failing startup
		assert.Equal(t, []string{"baidu", "openai"}, deps.Credentials.Configured())

		cred, err := deps.Credentials.Get(context.Background(), "openai")
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cred.Fields["apiKey"])
	})

	t.Run("encryption key wires an encryptor", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Secrets.EncryptionKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
		cfg.Providers = map[string]config.ProviderConfig{
			"anthropic": {Credentials: map[string]string{"apiKey": "sk-ant"}},
		}

		deps := newTestDependencies(t, cfg)
		assert.Equal(t, []string{"anthropic"}, deps.Credentials.Configured())
	})

	t.Run("invalid encryption key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Secrets.EncryptionKey = "short"

		_, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize credentials")
	})

	t.Run("missing pricing file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Gateway.PricingFile = filepath.Join(t.TempDir(), "missing.yaml")

		_, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize pricing")
	})

	t.Run("admin token enables auth", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AdminToken = "admin-secret"

		deps := newTestDependencies(t, cfg)

		handler := deps.AuthMiddleware.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer admin-secret")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestNewDependencies_ArchiveToLocalDir(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.Archive = config.ArchiveConfig{
		Enabled:       true,
		Dir:           dir,
		FlushInterval: time.Hour,
		BufferSize:    16,
	}

	deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, deps.Archiver)
	assert.True(t, deps.Archiver.Stats().Started)

	require.NoError(t, deps.Close(context.Background()))
	assert.Nil(t, deps.Archiver)

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestNewDependencies_ChatThroughOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1000, "completion_tokens": 1000, "total_tokens": 2000}
		}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Providers = map[string]config.ProviderConfig{
		"openai": {
			Credentials: map[string]string{"apiKey": "sk-test"},
			BaseURL:     srv.URL,
		},
	}
	deps := newTestDependencies(t, cfg)

	resp, err := deps.Gateway.Chat(context.Background(), &providers.ChatRequest{
		Provider: "openai",
		Model:    "gpt-4",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.InDelta(t, 0.09, resp.Cost, 1e-9)

	stats := deps.Aggregator.Snapshot()
	assert.Equal(t, int64(1), stats.Totals.Successes)
	assert.Equal(t, int64(2000), stats.Totals.TotalTokens)
	assert.InDelta(t, 0.09, stats.Totals.Cost, 1e-9)
}

func TestDependencies_CloseTwice(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NoError(t, deps.Close(context.Background()))
	assert.NoError(t, deps.Close(context.Background()))
}

func TestAdapters(t *testing.T) {
	catalog := providers.NewBuiltinCatalog()
	builders := Adapters()

	for _, desc := range catalog.List() {
		build, ok := builders[desc.ID]
		require.True(t, ok, "no adapter for %s", desc.ID)

		adapter, err := build(providers.DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, desc.ID, adapter.ProviderID())
	}
}
