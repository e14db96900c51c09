package alibaba

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/providers"
)

const (
	providerID     = "alibaba"
	defaultBaseURL = "https://dashscope.aliyuncs.com"
	generationPath = "/api/v1/services/aigc/text-generation/generation"
)

// Adapter implements providers.Adapter for the DashScope text generation API
type Adapter struct {
	config providers.Config
}

// New creates a new DashScope adapter
func New(cfg providers.Config) *Adapter {
	return &Adapter{config: cfg.WithDefaults(defaultBaseURL)}
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

type generationRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []message `json:"messages"`
	} `json:"input"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	ResultFormat string   `json:"result_format"`
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"top_p,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
}

type generationResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
		Choices      []struct {
			FinishReason string  `json:"finish_reason"`
			Message      message `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Chat performs a generation request
func (a *Adapter) Chat(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	resp, err := a.invoke(ctx, creds, a.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return a.parseResponse(req, resp), nil
}

func (a *Adapter) buildRequest(req *providers.ChatRequest) generationRequest {
	var out generationRequest
	out.Model = req.Model
	out.Input.Messages = make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		out.Input.Messages = append(out.Input.Messages, message{Role: m.Role, Content: m.Content})
	}
	out.Parameters = parameters{
		ResultFormat: "message",
		Temperature:  req.Options.Temperature,
		TopP:         req.Options.TopP,
		MaxTokens:    req.Options.MaxTokens,
	}
	return out
}

func (a *Adapter) invoke(ctx context.Context, creds providers.Credentials, body generationRequest) (*generationResponse, error) {
	httpReq, err := providers.NewJSONRequest(ctx, http.MethodPost, a.config.BaseURL+generationPath, body)
	if err != nil {
		return nil, providers.NewTransportError(providerID, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey())

	raw, err := providers.DoJSON(a.config.HTTPClient, providerID, httpReq)
	if err != nil {
		return nil, err
	}

	var resp generationResponse
	if !providers.DecodeLenient(raw, &resp) {
		a.config.Logger.Warn("unparseable response body", zap.String("provider", providerID))
		return &generationResponse{}, nil
	}
	if resp.Code != "" {
		return nil, providers.NewUpstreamError(providerID, http.StatusBadGateway,
			fmt.Sprintf("%s: %s", resp.Code, resp.Message))
	}
	return &resp, nil
}

// parseResponse accepts both the message and the plain text result formats
func (a *Adapter) parseResponse(req *providers.ChatRequest, resp *generationResponse) *providers.ChatResponse {
	out := &providers.ChatResponse{
		ID:       resp.RequestID,
		Model:    req.Model,
		Provider: providerID,
		Content:  resp.Output.Text,
		Usage: providers.NewUsage(
			resp.Usage.InputTokens,
			resp.Usage.OutputTokens,
			resp.Usage.TotalTokens,
		),
		FinishReason: providers.NormalizeFinishReason(resp.Output.FinishReason),
	}
	if len(resp.Output.Choices) > 0 {
		choice := resp.Output.Choices[0]
		out.Content = choice.Message.Content
		out.FinishReason = providers.NormalizeFinishReason(choice.FinishReason)
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.Cost = a.config.Price(providerID, req.Model, out.Usage)
	return out
}
