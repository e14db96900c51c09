package bedrock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/providers"
)

const (
	providerID  = "bedrock"
	serviceName = "bedrock"
)

// Adapter implements providers.Adapter for the Bedrock Converse API.
// Requests are signed with SigV4 using the access key pair from the credentials.
type Adapter struct {
	config   providers.Config
	endpoint string
	signer   *v4.Signer
	now      func() time.Time
}

// New creates a new Bedrock adapter. An empty BaseURL derives the regional
// runtime endpoint from the credentials on every call.
func New(cfg providers.Config) *Adapter {
	cfg = cfg.WithDefaults("")
	return &Adapter{
		config:   cfg,
		endpoint: cfg.BaseURL,
		signer:   v4.NewSigner(),
		now:      time.Now,
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

type contentBlock struct {
	Text string `json:"text"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type inferenceConfig struct {
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
}

type converseRequest struct {
	Messages        []message        `json:"messages"`
	System          []contentBlock   `json:"system,omitempty"`
	InferenceConfig *inferenceConfig `json:"inferenceConfig,omitempty"`
}

type converseResponse struct {
	Output struct {
		Message message `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
		TotalTokens  int `json:"totalTokens"`
	} `json:"usage"`
}

// Chat performs a Converse request
func (a *Adapter) Chat(ctx context.Context, creds providers.Credentials, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	region := creds.Region()
	if creds.APIKey() == "" || creds.SecretKey() == "" || region == "" {
		return nil, fmt.Errorf("%w: access key, secret key and region are required", providers.ErrInvalidCredentials)
	}

	resp, err := a.invoke(ctx, creds, region, req.Model, a.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return a.parseResponse(req, resp), nil
}

func (a *Adapter) buildRequest(req *providers.ChatRequest) converseRequest {
	out := converseRequest{}
	for _, m := range req.Conversation() {
		out.Messages = append(out.Messages, message{
			Role:    m.Role,
			Content: []contentBlock{{Text: m.Content}},
		})
	}
	if system := req.SystemPrompt(); system != "" {
		out.System = []contentBlock{{Text: system}}
	}
	opts := req.Options
	if opts.MaxTokens > 0 || opts.Temperature != nil || opts.TopP != nil {
		out.InferenceConfig = &inferenceConfig{
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
		}
	}
	return out
}

func (a *Adapter) baseURL(region string) string {
	if a.endpoint != "" {
		return a.endpoint
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
}

func (a *Adapter) invoke(ctx context.Context, creds providers.Credentials, region, model string, body converseRequest) (*converseResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providers.NewTransportError(providerID, err)
	}

	target := a.baseURL(region) + "/model/" + url.PathEscape(model) + "/converse"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, providers.NewTransportError(providerID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	sum := sha256.Sum256(payload)
	awsCreds := aws.Credentials{
		AccessKeyID:     creds.APIKey(),
		SecretAccessKey: creds.SecretKey(),
	}
	if err := a.signer.SignHTTP(ctx, awsCreds, httpReq, hex.EncodeToString(sum[:]), serviceName, region, a.now()); err != nil {
		return nil, providers.NewTransportError(providerID, err)
	}

	raw, err := providers.DoJSON(a.config.HTTPClient, providerID, httpReq)
	if err != nil {
		return nil, err
	}

	var resp converseResponse
	if !providers.DecodeLenient(raw, &resp) {
		a.config.Logger.Warn("unparseable response body", zap.String("provider", providerID))
		return &converseResponse{}, nil
	}
	return &resp, nil
}

func (a *Adapter) parseResponse(req *providers.ChatRequest, resp *converseResponse) *providers.ChatResponse {
	var content string
	for _, block := range resp.Output.Message.Content {
		content += block.Text
	}

	out := &providers.ChatResponse{
		ID:           uuid.NewString(),
		Model:        req.Model,
		Provider:     providerID,
		Content:      content,
		FinishReason: providers.NormalizeFinishReason(resp.StopReason),
		Usage: providers.NewUsage(
			resp.Usage.InputTokens,
			resp.Usage.OutputTokens,
			resp.Usage.TotalTokens,
		),
	}
	out.Cost = a.config.Price(providerID, req.Model, out.Usage)
	return out
}
