package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/credentials"
	"github.com/upb/ai-gateway/services/providers"
	"github.com/upb/ai-gateway/services/usage"
)

// CredentialSource resolves the active credential of a provider
type CredentialSource interface {
	Get(ctx context.Context, providerID string) (*credentials.ProviderCredential, error)
}

// Pricer reports whether a provider model has a usable price
type Pricer interface {
	Known(providerID, modelID string) bool
}

// Config holds dispatcher limits
type Config struct {
	// Timeout bounds one vendor call
	Timeout time.Duration

	// ProviderTimeouts overrides Timeout per provider id
	ProviderTimeouts map[string]time.Duration

	// BatchConcurrency bounds how many batch items run at once
	BatchConcurrency int
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          60 * time.Second,
		BatchConcurrency: 8,
	}
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSink sets where usage records are delivered
func WithSink(sink usage.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithPricer lets usage records tell priced from unpriced models
func WithPricer(p Pricer) Option {
	return func(s *Service) {
		s.pricer = p
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service dispatches canonical chat requests to vendor adapters
type Service struct {
	catalog  *providers.Catalog
	creds    CredentialSource
	registry *providers.Registry
	config   Config
	sink     usage.Sink
	pricer   Pricer
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a dispatcher
func NewService(catalog *providers.Catalog, creds CredentialSource, registry *providers.Registry, config Config, opts ...Option) *Service {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = defaults.BatchConcurrency
	}

	s := &Service{
		catalog:  catalog,
		creds:    creds,
		registry: registry,
		config:   config,
		sink:     usage.Fanout{},
		logger:   zap.NewNop(),
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// call is a request that passed every pre-check
type call struct {
	req     *providers.ChatRequest
	adapter providers.Adapter
	creds   providers.Credentials
	timeout time.Duration
	started time.Time
}

// Chat dispatches one request. The vendor call runs detached from ctx
// cancellation and is bounded by the provider timeout; a caller that gives
// up gets an error while the call still completes and is accounted.
func (s *Service) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	c, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	type result struct {
		resp *providers.ChatResponse
		err  error
	}
	done := make(chan result, 1)

	go func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		var resp *providers.ChatResponse
		err := s.guard(c, func() (err error) {
			resp, err = c.adapter.Chat(callCtx, c.creds, c.req)
			return err
		})
		if err != nil {
			done <- result{err: s.fail(c, err)}
			return
		}
		done <- result{resp: s.succeed(c, resp)}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		s.logger.Info("caller abandoned chat, vendor call continues",
			zap.String("provider", req.Provider),
			zap.String("model", req.Model))
		return nil, abandoned(req, ctx.Err())
	}
}

// prepare runs the checks that never touch the network
func (s *Service) prepare(ctx context.Context, req *providers.ChatRequest) (*call, error) {
	started := s.now()

	if req == nil {
		return nil, &GatewayError{Kind: KindValidation, Message: "request is required"}
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(req, err)
	}

	desc, err := s.catalog.Get(req.Provider)
	if err != nil {
		return nil, newError(req, KindConfiguration, fmt.Sprintf("provider %q is not in the catalog", req.Provider), err)
	}
	if !desc.SupportsModel(req.Model) {
		s.logger.Debug("model not listed in catalog, forwarding anyway",
			zap.String("provider", req.Provider),
			zap.String("model", req.Model))
	}

	cred, err := s.creds.Get(ctx, req.Provider)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConfigured) {
			return nil, newError(req, KindConfiguration, fmt.Sprintf("no active credentials for provider %q", req.Provider), err)
		}
		return nil, err
	}

	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, newError(req, KindUnsupportedProvider, fmt.Sprintf("no adapter for provider %q", req.Provider), err)
	}

	return &call{
		req:     cloneRequest(req),
		adapter: adapter,
		creds:   cred.View(),
		timeout: s.timeoutFor(req.Provider),
		started: started,
	}, nil
}

// errAdapterPanic marks an adapter call that panicked instead of returning
var errAdapterPanic = errors.New("adapter panicked")

// guard runs one adapter step and turns a panic into an error, so a broken
// vendor reply fails the request instead of the process.
func (s *Service) guard(c *call, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("adapter panicked",
				zap.String("provider", c.req.Provider),
				zap.String("model", c.req.Model),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", errAdapterPanic, r)
		}
	}()
	return fn()
}

func (s *Service) timeoutFor(providerID string) time.Duration {
	if d, ok := s.config.ProviderTimeouts[providerID]; ok && d > 0 {
		return d
	}
	return s.config.Timeout
}

// succeed stamps the response and records usage
func (s *Service) succeed(c *call, resp *providers.ChatResponse) *providers.ChatResponse {
	resp.Provider = c.req.Provider
	if resp.Model == "" {
		resp.Model = c.req.Model
	}
	resp.DurationMs = s.now().Sub(c.started).Milliseconds()

	priced := true
	if s.pricer != nil {
		priced = s.pricer.Known(c.req.Provider, c.req.Model)
	}

	s.sink.Record(usage.UsageRecord{
		RequestID:        resp.ID,
		Provider:         c.req.Provider,
		Model:            c.req.Model,
		Success:          true,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Cost:             resp.Cost,
		Priced:           priced,
		DurationMs:       resp.DurationMs,
		Timestamp:        s.now().UTC(),
	})
	return resp
}

// fail classifies an adapter error and records a zero-token usage event
func (s *Service) fail(c *call, err error) *GatewayError {
	gerr := classify(c.req, err)
	durationMs := s.now().Sub(c.started).Milliseconds()

	s.logger.Warn("chat failed",
		zap.String("provider", c.req.Provider),
		zap.String("model", c.req.Model),
		zap.String("kind", string(gerr.Kind)),
		zap.Int("status", gerr.HTTPStatus),
		zap.Int64("duration_ms", durationMs))

	s.sink.Record(usage.UsageRecord{
		Provider:   c.req.Provider,
		Model:      c.req.Model,
		Success:    false,
		ErrorKind:  string(gerr.Kind),
		DurationMs: durationMs,
		Timestamp:  s.now().UTC(),
	})
	return gerr
}

func validationError(req *providers.ChatRequest, err error) *GatewayError {
	out := newError(req, KindValidation, "invalid chat request", err)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			out.Fields[fe.Namespace()] = fmt.Sprintf("failed on %s", fe.Tag())
		}
	}
	return out
}

func cloneRequest(req *providers.ChatRequest) *providers.ChatRequest {
	out := *req
	out.Messages = slices.Clone(req.Messages)
	return &out
}
