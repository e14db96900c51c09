package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/providers"
)

const (
	providerID       = "anthropic"
	defaultBaseURL   = "https://api.anthropic.com"
	defaultMaxTokens = 1024
)

// Adapter implements providers.StreamingAdapter for the Anthropic Messages API
type Adapter struct {
	config providers.Config
}

// New creates a new Anthropic adapter
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

// Chat sends a message request
func (a *Adapter) Chat(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	msg, err := a.invoke(ctx, creds, a.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return a.parseResponse(req, msg), nil
}

func (a *Adapter) client(creds providers.Credentials) anthropic.Client {
	return anthropic.NewClient(
		option.WithAPIKey(creds.APIKey()),
		option.WithBaseURL(a.config.BaseURL),
		option.WithHTTPClient(a.config.HTTPClient),
		option.WithMaxRetries(0),
	)
}

// buildRequest moves system messages to the top-level system field
func (a *Adapter) buildRequest(req *providers.ChatRequest) anthropic.MessageNewParams {
	conv := req.Conversation()
	messages := make([]anthropic.MessageParam, 0, len(conv))
	for _, m := range conv {
		if m.Role == providers.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system := req.SystemPrompt(); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Options.Temperature)
	}
	if req.Options.TopP != nil {
		params.TopP = anthropic.Float(*req.Options.TopP)
	}
	return params
}

func (a *Adapter) invoke(ctx context.Context, creds providers.Credentials, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	client := a.client(creds)
	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		if isDecodeError(err) {
			a.config.Logger.Warn("unparseable response body", zap.String("provider", providerID))
			return &anthropic.Message{}, nil
		}
		return nil, classifyError(err)
	}
	return msg, nil
}

// parseResponse concatenates the text blocks of the reply
func (a *Adapter) parseResponse(req *providers.ChatRequest, msg *anthropic.Message) *providers.ChatResponse {
	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	out := &providers.ChatResponse{
		ID:           msg.ID,
		Content:      content.String(),
		Model:        string(msg.Model),
		Provider:     providerID,
		FinishReason: providers.NormalizeFinishReason(string(msg.StopReason)),
		Usage: providers.NewUsage(
			int(msg.Usage.InputTokens),
			int(msg.Usage.OutputTokens),
			0,
		),
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

// ChatStream streams message deltas
func (a *Adapter) ChatStream(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (providers.ChunkStream, error) {
	client := a.client(creds)
	stream := client.Messages.NewStreaming(ctx, a.buildRequest(req))
	return &chunkStream{adapter: a, req: req, stream: stream}, nil
}

type eventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type chunkStream struct {
	adapter *Adapter
	req     *providers.ChatRequest
	stream  eventStream

	message anthropic.Message
	current string
	done    bool
	err     error
}

func (s *chunkStream) Next() bool {
	for !s.done {
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				s.err = classifyError(err)
			}
			return false
		}

		event := s.stream.Current()
		if err := s.message.Accumulate(event); err != nil {
			s.done = true
			s.err = providers.NewUpstreamError(providerID, http.StatusBadGateway, err.Error())
			return false
		}

		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				s.current = text.Text
				return true
			}
		}
	}
	return false
}

func (s *chunkStream) Chunk() string { return s.current }

func (s *chunkStream) Err() error { return s.err }

func (s *chunkStream) Summary() *providers.ChatResponse {
	if !s.done || s.err != nil {
		return nil
	}
	return s.adapter.parseResponse(s.req, &s.message)
}

func (s *chunkStream) Close() error {
	return s.stream.Close()
}

// classifyError maps SDK errors onto the upstream/transport split
func classifyError(err error) error {
	if providers.IsNetworkError(err) {
		return providers.NewTransportError(providerID, err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.NewUpstreamError(providerID, apiErr.StatusCode, apiErr.Error())
	}
	return providers.NewTransportError(providerID, err)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
