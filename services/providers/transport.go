package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBytes caps how much of a vendor body is read
const maxResponseBytes = 8 << 20

// NewJSONRequest builds a request with a JSON body
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// DoJSON executes req and returns the body of a 2xx response. Network
// failures become TransportError and non-2xx answers become UpstreamError.
func DoJSON(client *http.Client, providerID string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewTransportError(providerID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewTransportError(providerID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewUpstreamError(providerID, resp.StatusCode, string(body))
	}
	return body, nil
}

// DecodeLenient unmarshals a 2xx body. Bodies that are not JSON leave v untouched
// so the caller degrades to an empty response instead of failing.
func DecodeLenient(body []byte, v any) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return false
	}
	return json.Unmarshal(body, v) == nil
}

// NormalizeFinishReason maps vendor stop reasons onto stop, length or error
func NormalizeFinishReason(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "stop", "end_turn", "stop_sequence", "normal", "finish_reason_stop", "complete":
		return "stop"
	case "length", "max_tokens", "max_output_tokens", "finish_reason_max_tokens":
		return "length"
	case "error", "content_filter", "safety", "recitation", "guardrail_intervened", "content_filtered", "sensitive":
		return "error"
	default:
		return strings.ToLower(raw)
	}
}
