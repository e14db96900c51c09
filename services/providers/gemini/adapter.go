package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/upb/ai-gateway/services/providers"
)

const (
	providerID     = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
)

// Adapter implements providers.Adapter for the Gemini generateContent API
type Adapter struct {
	config providers.Config
}

// New creates a new Gemini adapter
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

// Chat performs a generateContent request
func (a *Adapter) Chat(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	if creds.APIKey() == "" {
		return nil, fmt.Errorf("%w: api key is empty", providers.ErrInvalidCredentials)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      creds.APIKey(),
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  a.config.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: a.config.BaseURL + "/"},
	})
	if err != nil {
		return nil, providers.NewTransportError(providerID, err)
	}

	contents, config := a.buildRequest(req)
	resp, err := a.generate(ctx, client, req, contents, config)
	if err != nil {
		return nil, classifyError(err)
	}
	return a.parseResponse(req, resp), nil
}

// generate calls generateContent. The SDK panics while converting a 2xx body
// that is valid JSON of the wrong shape; such bodies degrade to an empty response.
func (a *Adapter) generate(ctx context.Context, client *genai.Client, req *providers.ChatRequest, contents []*genai.Content, config *genai.GenerateContentConfig) (resp *genai.GenerateContentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.config.Logger.Warn("unreadable gemini response, returning empty completion",
				zap.String("model", req.Model),
				zap.Any("panic", r))
			resp, err = &genai.GenerateContentResponse{}, nil
		}
	}()
	return client.Models.GenerateContent(ctx, req.Model, contents, config)
}

// buildRequest maps the conversation onto user and model turns
func (a *Adapter) buildRequest(req *providers.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Conversation() {
		role := genai.Role(genai.RoleUser)
		if m.Role == providers.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.Options.MaxTokens),
	}
	if req.Options.Temperature != nil {
		config.Temperature = float32Ptr(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		config.TopP = float32Ptr(*req.Options.TopP)
	}
	if system := req.SystemPrompt(); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return contents, config
}

func (a *Adapter) parseResponse(req *providers.ChatRequest, resp *genai.GenerateContentResponse) *providers.ChatResponse {
	out := &providers.ChatResponse{
		ID:       resp.ResponseID,
		Model:    resp.ModelVersion,
		Provider: providerID,
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			var text strings.Builder
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" && !part.Thought {
					text.WriteString(part.Text)
				}
			}
			out.Content = text.String()
		}
		out.FinishReason = providers.NormalizeFinishReason(string(candidate.FinishReason))
	}

	if meta := resp.UsageMetadata; meta != nil {
		out.Usage = providers.NewUsage(
			int(meta.PromptTokenCount),
			int(meta.CandidatesTokenCount),
			int(meta.TotalTokenCount),
		)
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

func classifyError(err error) error {
	if providers.IsNetworkError(err) {
		return providers.NewTransportError(providerID, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return upstream(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return upstream(*apiErrPtr)
	}

	return providers.NewTransportError(providerID, err)
}

func upstream(apiErr genai.APIError) error {
	status := apiErr.Code
	if status == 0 {
		status = http.StatusBadGateway
	}
	return providers.NewUpstreamError(providerID, status, apiErr.Message)
}

func float32Ptr(v float64) *float32 {
	f := float32(v)
	return &f
}
