package credentials

import (
	"errors"
	"sort"
	"time"

	"github.com/upb/ai-gateway/services/providers"
)

var (
	// ErrNotConfigured is returned when a provider has no active credential
	ErrNotConfigured = errors.New("provider credentials not configured")

	// ErrSecretNotFound is returned by a SecretStore when no record exists
	ErrSecretNotFound = errors.New("secret not found")
)

// ProviderCredential holds the secrets for one provider.
// Fields never leave the process through JSON.
type ProviderCredential struct {
	ProviderID string            `json:"providerId"`
	Fields     map[string]string `json:"-"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Confirmation is the redacted view returned to callers after a write
type Confirmation struct {
	ProviderID string    `json:"providerId"`
	Fields     []string  `json:"fields"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Redacted returns the field names without their values
func (c *ProviderCredential) Redacted() Confirmation {
	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return Confirmation{
		ProviderID: c.ProviderID,
		Fields:     keys,
		Active:     c.Active,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

// View returns the read-only adapter view
func (c *ProviderCredential) View() providers.Credentials {
	return providers.NewCredentials(c.Fields)
}

func (c *ProviderCredential) clone() *ProviderCredential {
	out := *c
	out.Fields = make(map[string]string, len(c.Fields))
	for k, v := range c.Fields {
		out.Fields[k] = v
	}
	return &out
}

// SecretRecord is the persisted form of a credential. Payload is the
// JSON-encoded field map, sealed when encryption is enabled.
type SecretRecord struct {
	ProviderID string
	Payload    []byte
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
