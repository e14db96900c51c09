package providers

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsage(t *testing.T) {
	tests := []struct {
		name       string
		prompt     int
		completion int
		total      int
		want       Usage
	}{
		{"computed total", 5, 7, 0, Usage{5, 7, 12}},
		{"vendor total wins", 5, 7, 20, Usage{5, 7, 20}},
		{"negative counts clamp", -3, 4, 0, Usage{0, 4, 4}},
		{"missing usage", 0, 0, 0, Usage{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewUsage(tt.prompt, tt.completion, tt.total))
		})
	}
}

func TestChatRequest_SystemPromptAndConversation(t *testing.T) {
	req := &ChatRequest{
		Provider: "anthropic",
		Model:    "claude-3-haiku-20240307",
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleSystem, Content: "answer in english"},
			{Role: RoleAssistant, Content: "hello"},
		},
	}

	assert.Equal(t, "be brief\nanswer in english", req.SystemPrompt())

	conv := req.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, RoleUser, conv[0].Role)
	assert.Equal(t, RoleAssistant, conv[1].Role)
}

func TestChatRequest_JSON(t *testing.T) {
	raw := `{"provider":"openai","model":"gpt-4","messages":[{"role":"user","content":"Hello"}],"options":{"temperature":0.7}}`

	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	assert.Equal(t, "openai", req.Provider)
	require.NotNil(t, req.Options.Temperature)
	assert.InDelta(t, 0.7, *req.Options.Temperature, 1e-9)
	assert.Nil(t, req.Options.TopP)
	assert.Zero(t, req.Options.MaxTokens)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults("https://api.example.com/v1/")

	assert.Equal(t, "https://api.example.com/v1", cfg.BaseURL)
	assert.NotNil(t, cfg.HTTPClient)
	assert.NotNil(t, cfg.Logger)
	assert.NotZero(t, cfg.Timeout)

	override := Config{BaseURL: "http://localhost:1234"}.WithDefaults("https://api.example.com")
	assert.Equal(t, "http://localhost:1234", override.BaseURL)
}

func TestConfig_Price(t *testing.T) {
	usage := Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12}

	assert.Zero(t, Config{}.Price("openai", "gpt-4", usage))

	var gotProvider, gotModel string
	cfg := Config{Cost: func(providerID, modelID string, p, c int) float64 {
		gotProvider, gotModel = providerID, modelID
		return float64(p+c) / 1000
	}}
	assert.InDelta(t, 0.012, cfg.Price("openai", "gpt-4", usage), 1e-12)
	assert.Equal(t, "openai", gotProvider)
	assert.Equal(t, "gpt-4", gotModel)
}

func TestCredentials(t *testing.T) {
	fields := map[string]string{FieldAPIKey: "AK", FieldSecretKey: "SK", FieldRegion: "us-east-1"}
	creds := NewCredentials(fields)

	// the view is a copy
	fields[FieldAPIKey] = "changed"

	assert.Equal(t, "AK", creds.APIKey())
	assert.Equal(t, "SK", creds.SecretKey())
	assert.Equal(t, "us-east-1", creds.Region())
	assert.Equal(t, "", creds.Get(FieldOrganization))
	assert.ElementsMatch(t, []string{FieldAPIKey, FieldSecretKey, FieldRegion}, creds.Keys())

	for _, format := range []string{"%v", "%+v", "%s", "%#v"} {
		out := fmt.Sprintf(format, creds)
		assert.NotContains(t, out, "AK", format)
		assert.NotContains(t, out, "SK", format)
	}
}

func TestChatResponse_JSON(t *testing.T) {
	resp := ChatResponse{
		ID:           "chatcmpl-1",
		Content:      "hello",
		Model:        "gpt-4o",
		Provider:     "openai",
		Usage:        NewUsage(10, 5, 0),
		FinishReason: "stop",
		Cost:         0.000125,
		DurationMs:   42,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	for _, key := range []string{"id", "content", "model", "provider", "usage", "finishReason", "cost", "durationMs"} {
		assert.Contains(t, wire, key)
	}
	assert.Equal(t, map[string]any{"promptTokens": 10.0, "completionTokens": 5.0, "totalTokens": 15.0}, wire["usage"])

	var decoded ChatResponse
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, resp, decoded)
}
