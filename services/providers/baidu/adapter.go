package baidu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/providers"
)

const (
	providerID     = "baidu"
	defaultBaseURL = "https://aip.baidubce.com"
	chatPath       = "/rpc/2.0/ai_custom/v1/wenxinworkshop/chat/"
)

// endpoints maps model ids to their chat endpoint names
var endpoints = map[string]string{
	"ernie-4.0-8k":     "completions_pro",
	"ernie-3.5-8k":     "completions",
	"ernie-speed-128k": "ernie-speed-128k",
	"ernie-lite-8k":    "ernie-lite-8k",
}

// error codes meaning the access token must be exchanged again
var tokenErrorCodes = map[int]bool{110: true, 111: true}

// Adapter implements providers.Adapter for Baidu ERNIE
type Adapter struct {
	config providers.Config
	tokens *tokenCache
}

// New creates a new Baidu adapter
func New(cfg providers.Config) *Adapter {
	return &Adapter{
		config: cfg.WithDefaults(defaultBaseURL),
		tokens: newTokenCache(),
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages        []chatMessage `json:"messages"`
	System          string        `json:"system,omitempty"`
	Temperature     *float64      `json:"temperature,omitempty"`
	TopP            *float64      `json:"top_p,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
}

type chatResponse struct {
	ID           string `json:"id"`
	Result       string `json:"result"`
	FinishReason string `json:"finish_reason"`
	IsTruncated  bool   `json:"is_truncated"`
	Usage        struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Chat exchanges the key pair for an access token, then calls the model endpoint
func (a *Adapter) Chat(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	resp, err := a.invoke(ctx, creds, req.Model, a.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return a.parseResponse(req, resp), nil
}

// buildRequest moves system messages to the system field
func (a *Adapter) buildRequest(req *providers.ChatRequest) chatRequest {
	conv := req.Conversation()
	out := chatRequest{
		Messages:        make([]chatMessage, 0, len(conv)),
		System:          req.SystemPrompt(),
		MaxOutputTokens: req.Options.MaxTokens,
	}
	for _, m := range conv {
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	// temperature must lie in (0, 1]
	if t := req.Options.Temperature; t != nil {
		v := min(max(*t, 0.01), 1.0)
		out.Temperature = &v
	}
	if p := req.Options.TopP; p != nil {
		v := *p
		out.TopP = &v
	}
	return out
}

func (a *Adapter) invoke(ctx context.Context, creds providers.Credentials, model string, body chatRequest) (*chatResponse, error) {
	token, err := a.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	endpoint, ok := endpoints[model]
	if !ok {
		endpoint = model
	}
	target := a.config.BaseURL + chatPath + url.PathEscape(endpoint) + "?access_token=" + url.QueryEscape(token)

	httpReq, err := providers.NewJSONRequest(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, providers.NewTransportError(providerID, err)
	}

	raw, err := providers.DoJSON(a.config.HTTPClient, providerID, httpReq)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if !providers.DecodeLenient(raw, &resp) {
		a.config.Logger.Warn("unparseable response body", zap.String("provider", providerID))
		return &chatResponse{}, nil
	}

	// failures arrive inside a 200 body
	if resp.ErrorCode != 0 {
		if tokenErrorCodes[resp.ErrorCode] {
			a.tokens.invalidate(cacheKey(creds.APIKey(), creds.SecretKey()))
		}
		return nil, providers.NewUpstreamError(providerID, http.StatusBadGateway,
			fmt.Sprintf("error_code %d: %s", resp.ErrorCode, resp.ErrorMsg))
	}
	return &resp, nil
}

func (a *Adapter) parseResponse(req *providers.ChatRequest, resp *chatResponse) *providers.ChatResponse {
	out := &providers.ChatResponse{
		ID:       resp.ID,
		Content:  resp.Result,
		Model:    req.Model,
		Provider: providerID,
		Usage: providers.NewUsage(
			resp.Usage.PromptTokens,
			resp.Usage.CompletionTokens,
			resp.Usage.TotalTokens,
		),
		FinishReason: providers.NormalizeFinishReason(resp.FinishReason),
	}
	if out.FinishReason == "" && resp.IsTruncated {
		out.FinishReason = "length"
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.Cost = a.config.Price(providerID, req.Model, out.Usage)
	return out
}
