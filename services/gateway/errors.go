package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/upb/ai-gateway/services/credentials"
	"github.com/upb/ai-gateway/services/providers"
)

// ErrorKind classifies gateway failures
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindConfiguration       ErrorKind = "configuration"
	KindUnsupportedProvider ErrorKind = "unsupported_provider"
	KindUpstream            ErrorKind = "upstream"
	KindTransport           ErrorKind = "transport"
)

// GatewayError is the single error type returned by the dispatcher.
// Message never carries vendor payloads or credential values.
type GatewayError struct {
	ProviderID string            `json:"provider,omitempty"`
	ModelID    string            `json:"model,omitempty"`
	Kind       ErrorKind         `json:"kind"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"httpStatus,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Err        error             `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.ProviderID != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.ProviderID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is matches another GatewayError of the same kind
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks by kind
var (
	ErrValidation          = &GatewayError{Kind: KindValidation}
	ErrConfiguration       = &GatewayError{Kind: KindConfiguration}
	ErrUnsupportedProvider = &GatewayError{Kind: KindUnsupportedProvider}
	ErrUpstream            = &GatewayError{Kind: KindUpstream}
	ErrTransport           = &GatewayError{Kind: KindTransport}
)

// KindOf returns the kind of a gateway error, or "" for other errors
func KindOf(err error) ErrorKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

func newError(req *providers.ChatRequest, kind ErrorKind, message string, cause error) *GatewayError {
	return &GatewayError{
		ProviderID: req.Provider,
		ModelID:    req.Model,
		Kind:       kind,
		Message:    message,
		Err:        cause,
	}
}

// classify maps an adapter failure onto the gateway taxonomy
func classify(req *providers.ChatRequest, err error) *GatewayError {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr
	}

	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		out := newError(req, KindUpstream, upstream.Error(), err)
		out.HTTPStatus = upstream.HTTPStatus
		return out
	}

	if errors.Is(err, providers.ErrInvalidCredentials) || errors.Is(err, credentials.ErrNotConfigured) {
		return newError(req, KindConfiguration, err.Error(), err)
	}

	var transport *providers.TransportError
	if errors.As(err, &transport) {
		return newError(req, KindTransport, transport.Error(), err)
	}
	if providers.IsNetworkError(err) {
		transport = providers.NewTransportError(req.Provider, err)
		return newError(req, KindTransport, transport.Error(), transport)
	}

	out := newError(req, KindUpstream, "provider call failed", err)
	out.HTTPStatus = http.StatusBadGateway
	return out
}
