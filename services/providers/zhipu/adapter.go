package zhipu

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/providers"
)

const (
	providerID     = "zhipu"
	defaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	tokenTTL       = 30 * time.Minute
)

// Adapter implements providers.Adapter for the GLM chat completions API
type Adapter struct {
	config providers.Config
	now    func() time.Time
}

// New creates a new Zhipu adapter
func New(cfg providers.Config) *Adapter {
	return &Adapter{
		config: cfg.WithDefaults(defaultBaseURL),
		now:    time.Now,
	}
}

// Builder adapts New to providers.AdapterBuilder
func Builder(cfg providers.Config) (providers.Adapter, error) {
	return New(cfg), nil
}

// ProviderID returns the provider id
func (a *Adapter) ProviderID() string {
	return providerID
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string  `json:"finish_reason"`
		Message      message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat performs a chat completion request
func (a *Adapter) Chat(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	resp, err := a.invoke(ctx, creds, a.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return a.parseResponse(req, resp), nil
}

// signToken derives a short-lived HS256 token from an "id.secret" api key
func (a *Adapter) signToken(apiKey string) (string, error) {
	id, secret, ok := strings.Cut(apiKey, ".")
	if !ok || id == "" || secret == "" {
		return "", fmt.Errorf("%w: api key must have the form id.secret", providers.ErrInvalidCredentials)
	}

	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"api_key":   id,
		"exp":       now.Add(tokenTTL).UnixMilli(),
		"timestamp": now.UnixMilli(),
	})
	token.Header["sign_type"] = "SIGN"

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *Adapter) buildRequest(req *providers.ChatRequest) chatRequest {
	out := chatRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		MaxTokens:   req.Options.MaxTokens,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (a *Adapter) invoke(ctx context.Context, creds providers.Credentials, body chatRequest) (*chatResponse, error) {
	token, err := a.signToken(creds.APIKey())
	if err != nil {
		return nil, err
	}

	httpReq, err := providers.NewJSONRequest(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, providers.NewTransportError(providerID, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	raw, err := providers.DoJSON(a.config.HTTPClient, providerID, httpReq)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if !providers.DecodeLenient(raw, &resp) {
		a.config.Logger.Warn("unparseable response body", zap.String("provider", providerID))
	}
	return &resp, nil
}

func (a *Adapter) parseResponse(req *providers.ChatRequest, resp *chatResponse) *providers.ChatResponse {
	out := &providers.ChatResponse{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: providerID,
		Usage: providers.NewUsage(
			resp.Usage.PromptTokens,
			resp.Usage.CompletionTokens,
			resp.Usage.TotalTokens,
		),
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = providers.NormalizeFinishReason(resp.Choices[0].FinishReason)
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	out.Cost = a.config.Price(providerID, req.Model, out.Usage)
	return out
}
