package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrInvalidCredentials is returned when an adapter rejects credentials before
// any network call, such as a malformed key.
var ErrInvalidCredentials = errors.New("invalid provider credentials")

// UpstreamError is returned when a vendor answers with a non-success status
type UpstreamError struct {
	// ProviderID that generated the error
	ProviderID string

	// HTTPStatus is the vendor status code. Vendors that report failures
	// inside a 200 body use http.StatusBadGateway.
	HTTPStatus int

	// RawMessage is the vendor error text, kept for diagnostics only
	RawMessage string
}

// Error implements the error interface. The vendor message is left out on purpose.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream returned status %d", e.ProviderID, e.HTTPStatus)
}

// TransportError is returned when the vendor could not be reached or timed out
type TransportError struct {
	// ProviderID of the vendor being called
	ProviderID string

	// Cause is the underlying network or context error
	Cause error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s: request timed out", e.ProviderID)
	}
	return fmt.Sprintf("%s: transport failure", e.ProviderID)
}

// Unwrap implements error unwrapping
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the failure was a deadline
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Cause, &netErr) && netErr.Timeout()
}

// NewUpstreamError creates an upstream error, truncating the vendor message
func NewUpstreamError(providerID string, status int, raw string) *UpstreamError {
	return &UpstreamError{
		ProviderID: providerID,
		HTTPStatus: status,
		RawMessage: Truncate(raw, 512),
	}
}

// NewTransportError creates a transport error
func NewTransportError(providerID string, cause error) *TransportError {
	return &TransportError{ProviderID: providerID, Cause: cause}
}

// IsNetworkError reports whether err came from the network or a context
// deadline rather than from a vendor answer.
func IsNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryable checks if an error is worth retrying by the caller
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return !errors.Is(err, context.Canceled)
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.HTTPStatus == http.StatusTooManyRequests || upstreamErr.HTTPStatus >= 500
	}
	return false
}

// Truncate shortens s to at most n bytes
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
