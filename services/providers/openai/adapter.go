package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/providers"
)

const (
	providerID     = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
)

// Adapter implements providers.StreamingAdapter for the OpenAI chat completions API
type Adapter struct {
	config providers.Config
}

// New creates a new OpenAI adapter
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

// Chat performs a chat completion request
func (a *Adapter) Chat(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	resp, err := a.invoke(ctx, creds, a.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return a.parseResponse(req, resp), nil
}

func (a *Adapter) client(creds providers.Credentials) *goopenai.Client {
	cfg := goopenai.DefaultConfig(creds.APIKey())
	cfg.BaseURL = a.config.BaseURL
	cfg.HTTPClient = a.config.HTTPClient
	if org := creds.Get(providers.FieldOrganization); org != "" {
		cfg.OrgID = org
	}
	return goopenai.NewClientWithConfig(cfg)
}

// buildRequest converts the canonical request to OpenAI format
func (a *Adapter) buildRequest(req *providers.ChatRequest) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	out := goopenai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.Options.MaxTokens,
	}
	if req.Options.Temperature != nil {
		out.Temperature = float32(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		out.TopP = float32(*req.Options.TopP)
	}
	return out
}

func (a *Adapter) invoke(ctx context.Context, creds providers.Credentials, req goopenai.ChatCompletionRequest) (*goopenai.ChatCompletionResponse, error) {
	resp, err := a.client(creds).CreateChatCompletion(ctx, req)
	if err != nil {
		if isDecodeError(err) {
			a.config.Logger.Warn("unparseable response body", zap.String("provider", providerID))
			return &goopenai.ChatCompletionResponse{}, nil
		}
		return nil, classifyError(err)
	}
	return &resp, nil
}

// parseResponse converts the OpenAI response to the canonical form
func (a *Adapter) parseResponse(req *providers.ChatRequest, resp *goopenai.ChatCompletionResponse) *providers.ChatResponse {
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
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = providers.NormalizeFinishReason(string(resp.Choices[0].FinishReason))
	}
	out.Cost = a.config.Price(providerID, req.Model, out.Usage)
	return out
}

// ChatStream performs a streaming chat completion request
func (a *Adapter) ChatStream(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (providers.ChunkStream, error) {
	oreq := a.buildRequest(req)
	oreq.Stream = true
	oreq.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	stream, err := a.client(creds).CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, classifyError(err)
	}
	return &chunkStream{adapter: a, req: req, stream: stream}, nil
}

type chunkStream struct {
	adapter *Adapter
	req     *providers.ChatRequest
	stream  *goopenai.ChatCompletionStream

	current string
	content strings.Builder
	id      string
	model   string
	finish  string
	usage   *goopenai.Usage
	done    bool
	err     error
}

func (s *chunkStream) Next() bool {
	for !s.done {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return false
		}
		if err != nil {
			s.done = true
			s.err = classifyError(err)
			return false
		}

		if resp.ID != "" {
			s.id = resp.ID
		}
		if resp.Model != "" {
			s.model = resp.Model
		}
		if resp.Usage != nil {
			s.usage = resp.Usage
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.finish = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		s.current = choice.Delta.Content
		s.content.WriteString(s.current)
		return true
	}
	return false
}

func (s *chunkStream) Chunk() string { return s.current }

func (s *chunkStream) Err() error { return s.err }

func (s *chunkStream) Summary() *providers.ChatResponse {
	if !s.done || s.err != nil {
		return nil
	}
	resp := &goopenai.ChatCompletionResponse{
		ID:    s.id,
		Model: s.model,
		Choices: []goopenai.ChatCompletionChoice{{
			Message:      goopenai.ChatCompletionMessage{Role: providers.RoleAssistant, Content: s.content.String()},
			FinishReason: goopenai.FinishReason(s.finish),
		}},
	}
	if s.usage != nil {
		resp.Usage = *s.usage
	}
	return s.adapter.parseResponse(s.req, resp)
}

func (s *chunkStream) Close() error {
	s.stream.Close()
	return nil
}

// classifyError maps SDK errors onto the upstream/transport split
func classifyError(err error) error {
	if providers.IsNetworkError(err) {
		return providers.NewTransportError(providerID, err)
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewUpstreamError(providerID, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		status := reqErr.HTTPStatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return providers.NewUpstreamError(providerID, status, msg)
	}
	return providers.NewTransportError(providerID, err)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
