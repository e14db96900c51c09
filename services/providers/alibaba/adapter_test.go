package alibaba

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/ai-gateway/services/providers"
)

var testCreds = providers.NewCredentials(map[string]string{"apiKey": "sk-dash"})

func testRequest() *providers.ChatRequest {
	return &providers.ChatRequest{
		Provider: "alibaba",
		Model:    "qwen-max",
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
		Options:  providers.ChatOptions{MaxTokens: 64},
	}
}

func TestAdapter_Chat(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantContent string
		wantFinish  string
		wantUsage   providers.Usage
	}{
		{
			name: "message format",
			body: `{"request_id":"r-1","output":{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"hi"}}]},
				"usage":{"input_tokens":2,"output_tokens":1,"total_tokens":3}}`,
			wantContent: "hi",
			wantFinish:  "stop",
			wantUsage:   providers.Usage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3},
		},
		{
			name:        "text format without total",
			body:        `{"request_id":"r-2","output":{"text":"plain","finish_reason":"length"},"usage":{"input_tokens":4,"output_tokens":6}}`,
			wantContent: "plain",
			wantFinish:  "length",
			wantUsage:   providers.Usage{PromptTokens: 4, CompletionTokens: 6, TotalTokens: 10},
		},
		{
			name:        "missing output and usage",
			body:        `{"request_id":"r-3"}`,
			wantContent: "",
			wantUsage:   providers.Usage{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, generationPath, r.URL.Path)
				assert.Equal(t, "Bearer sk-dash", r.Header.Get("Authorization"))

				var body generationRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "qwen-max", body.Model)
				assert.Equal(t, "message", body.Parameters.ResultFormat)
				assert.Equal(t, 64, body.Parameters.MaxTokens)

				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			resp, err := New(providers.Config{BaseURL: server.URL}).Chat(context.Background(), testCreds, testRequest())
			require.NoError(t, err)

			assert.Equal(t, tt.wantContent, resp.Content)
			assert.Equal(t, tt.wantFinish, resp.FinishReason)
			assert.Equal(t, tt.wantUsage, resp.Usage)
			assert.Equal(t, "alibaba", resp.Provider)
		})
	}
}

func TestAdapter_Chat_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"http error", http.StatusUnauthorized, `{"code":"InvalidApiKey","message":"Invalid API-key provided."}`, http.StatusUnauthorized},
		{"error in 200 body", http.StatusOK, `{"code":"DataInspectionFailed","message":"inappropriate content"}`, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := New(providers.Config{BaseURL: server.URL}).Chat(context.Background(), testCreds, testRequest())

			var upstream *providers.UpstreamError
			require.ErrorAs(t, err, &upstream)
			assert.Equal(t, tt.wantStatus, upstream.HTTPStatus)
		})
	}
}
