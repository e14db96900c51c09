package providers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Adapter translates the canonical chat contract to one vendor's wire format
type Adapter interface {
	// ProviderID returns the catalog id this adapter serves (e.g., "openai", "baidu")
	ProviderID() string

	// Chat builds the vendor request, invokes the vendor endpoint and parses the reply
	Chat(ctx context.Context, creds Credentials, req *ChatRequest) (*ChatResponse, error)
}

// StreamingAdapter extends Adapter with incremental delivery of the completion text
type StreamingAdapter interface {
	Adapter

	// ChatStream starts a streaming completion. Chunks arrive in vendor token order.
	ChatStream(ctx context.Context, creds Credentials, req *ChatRequest) (ChunkStream, error)
}

// ChunkStream is a finite, non-restartable sequence of text chunks
// followed by a terminal summary.
type ChunkStream interface {
	// Next advances to the next chunk. It returns false at the end of the
	// stream or on failure; check Err afterwards.
	Next() bool

	// Chunk returns the text of the current chunk
	Chunk() string

	// Summary returns the final response once Next has returned false and Err is nil
	Summary() *ChatResponse

	// Err returns the error that terminated the stream, if any
	Err() error

	// Close releases the underlying connection
	Close() error
}

// CostFunc converts token usage into a cost in the reference currency
type CostFunc func(providerID, modelID string, promptTokens, completionTokens int) float64

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role" validate:"required,oneof=system user assistant"`

	// Content is the message text
	Content string `json:"content" validate:"required"`
}

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions holds optional generation parameters
type ChatOptions struct {
	// Temperature controls randomness (0.0 to 2.0)
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`

	// MaxTokens limits the response length; 0 means vendor default
	MaxTokens int `json:"maxTokens,omitempty" validate:"gte=0"`

	// TopP controls nucleus sampling
	TopP *float64 `json:"topP,omitempty" validate:"omitempty,gte=0,lte=1"`

	// Stream requests incremental delivery
	Stream bool `json:"stream,omitempty"`
}

// ChatRequest is the vendor-neutral chat request accepted by the gateway
type ChatRequest struct {
	// Provider is the catalog id of the vendor to dispatch to
	Provider string `json:"provider" validate:"required"`

	// Model identifier (e.g., "gpt-4", "ernie-4.0-8k")
	Model string `json:"model" validate:"required"`

	// Messages in the conversation, in order
	Messages []Message `json:"messages" validate:"required,min=1,dive"`

	// Options are optional generation parameters
	Options ChatOptions `json:"options"`
}

// SystemPrompt joins all system messages, for vendors that take the system
// prompt outside the message list.
func (r *ChatRequest) SystemPrompt() string {
	var parts []string
	for _, msg := range r.Messages {
		if msg.Role == RoleSystem {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// Conversation returns the user and assistant turns without system messages
func (r *ChatRequest) Conversation() []Message {
	msgs := make([]Message, 0, len(r.Messages))
	for _, msg := range r.Messages {
		if msg.Role != RoleSystem {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// ChatResponse is the vendor-neutral response returned by the gateway
type ChatResponse struct {
	// ID is the vendor-assigned or synthesized request id
	ID string `json:"id"`

	// Content is the completion text
	Content string `json:"content"`

	// Model actually used, which may differ from the requested one
	Model string `json:"model"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// Usage statistics
	Usage Usage `json:"usage"`

	// FinishReason is normalized to stop, length or error where possible
	FinishReason string `json:"finishReason"`

	// Cost in the reference currency
	Cost float64 `json:"cost"`

	// DurationMs is the wall-clock duration of the whole gateway call
	DurationMs int64 `json:"durationMs"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// NewUsage builds a Usage from vendor figures. Negative values become 0 and
// a vendor-reported total wins over the computed sum.
func NewUsage(promptTokens, completionTokens, reportedTotal int) Usage {
	u := Usage{
		PromptTokens:     max(promptTokens, 0),
		CompletionTokens: max(completionTokens, 0),
	}
	if reportedTotal > 0 {
		u.TotalTokens = reportedTotal
	} else {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// Config holds common configuration for adapters
type Config struct {
	// BaseURL overrides the vendor endpoint (tests, proxies, private deployments)
	BaseURL string

	// HTTPClient is the transport used for vendor calls
	HTTPClient *http.Client

	// Timeout bounds a single vendor call when the context carries no deadline
	Timeout time.Duration

	// Cost prices the parsed usage
	Cost CostFunc

	// Logger for adapter diagnostics. Never receives credential values.
	Logger *zap.Logger
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Logger:  zap.NewNop(),
	}
}

// WithDefaults fills unset fields with defaults
func (c Config) WithDefaults(baseURL string) Config {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Price applies the configured cost function, returning 0 when none is set
func (c Config) Price(providerID, modelID string, usage Usage) float64 {
	if c.Cost == nil {
		return 0
	}
	return c.Cost(providerID, modelID, usage.PromptTokens, usage.CompletionTokens)
}
