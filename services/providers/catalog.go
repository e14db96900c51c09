package providers

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/upb/ai-gateway/services"
)

// AuthType describes which secrets a provider needs
type AuthType string

const (
	AuthAPIKey             AuthType = "api-key"
	AuthAPIKeySecret       AuthType = "api-key+secret"
	AuthAPIKeySecretRegion AuthType = "api-key+secret+region"
)

// RequiredKeys returns the credential keys an auth type implies
func (a AuthType) RequiredKeys() []string {
	switch a {
	case AuthAPIKey:
		return []string{FieldAPIKey}
	case AuthAPIKeySecret:
		return []string{FieldAPIKey, FieldSecretKey}
	case AuthAPIKeySecretRegion:
		return []string{FieldAPIKey, FieldSecretKey, FieldRegion}
	default:
		return nil
	}
}

// CredentialField declares one input a provider credential is made of
type CredentialField struct {
	Key       string `json:"key" validate:"required"`
	Label     string `json:"label" validate:"required"`
	Sensitive bool   `json:"sensitive"`
	Required  bool   `json:"required"`
}

// ProviderDescriptor is the static description of a vendor. It holds no secrets.
type ProviderDescriptor struct {
	ID               string            `json:"id" validate:"required"`
	DisplayName      string            `json:"displayName" validate:"required"`
	BaseURL          string            `json:"baseUrl" validate:"omitempty,url"`
	AuthType         AuthType          `json:"authType" validate:"required,oneof=api-key api-key+secret api-key+secret+region"`
	CredentialFields []CredentialField `json:"credentialFields" validate:"required,min=1,dive"`
	Models           []string          `json:"models" validate:"required,min=1,dive,required"`
}

// Field looks up a declared credential field by key
func (d ProviderDescriptor) Field(key string) (CredentialField, bool) {
	for _, f := range d.CredentialFields {
		if f.Key == key {
			return f, true
		}
	}
	return CredentialField{}, false
}

// SupportsModel reports whether the model id is listed
func (d ProviderDescriptor) SupportsModel(model string) bool {
	return slices.Contains(d.Models, model)
}

func (d ProviderDescriptor) clone() ProviderDescriptor {
	d.CredentialFields = slices.Clone(d.CredentialFields)
	d.Models = slices.Clone(d.Models)
	return d
}

var (
	// ErrProviderNotFound is returned when a provider id is not catalogued
	ErrProviderNotFound = services.NewDomainError(services.ErrorTypeNotFound, "provider not found", nil)

	// ErrDuplicateProvider is returned when registering an id twice
	ErrDuplicateProvider = services.NewDomainError(services.ErrorTypeConflict, "provider already registered", nil)
)

// Catalog holds the provider descriptors known to the gateway
type Catalog struct {
	mu          sync.RWMutex
	descriptors map[string]ProviderDescriptor
}

// NewCatalog creates a catalog seeded with the given descriptors
func NewCatalog(descriptors ...ProviderDescriptor) (*Catalog, error) {
	c := &Catalog{descriptors: make(map[string]ProviderDescriptor)}
	for _, d := range descriptors {
		if err := c.Register(d); err != nil {
			return nil, fmt.Errorf("seed catalog with %q: %w", d.ID, err)
		}
	}
	return c, nil
}

// NewBuiltinCatalog creates a catalog holding the built-in vendors
func NewBuiltinCatalog() *Catalog {
	c, err := NewCatalog(BuiltinDescriptors()...)
	if err != nil {
		// the built-in table is static; a failure here is a programming error
		panic(err)
	}
	return c
}

// List returns all descriptors sorted by id
func (c *Catalog) List() []ProviderDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ProviderDescriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the descriptor for id
func (c *Catalog) Get(id string) (ProviderDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.descriptors[id]
	if !ok {
		return ProviderDescriptor{}, providerError(ErrProviderNotFound, id)
	}
	return d.clone(), nil
}

// Has reports whether id is catalogued
func (c *Catalog) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.descriptors[id]
	return ok
}

// Register adds a new descriptor. Existing descriptors are never replaced.
func (c *Catalog) Register(d ProviderDescriptor) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.descriptors[d.ID]; exists {
		return providerError(ErrDuplicateProvider, d.ID)
	}
	c.descriptors[d.ID] = d.clone()
	return nil
}

// providerError returns a fresh copy of sentinel tagged with the provider id
func providerError(sentinel *services.DomainError, id string) error {
	return services.NewDomainError(sentinel.Type, sentinel.Message, nil).WithDetail("provider", id)
}

func validateDescriptor(d ProviderDescriptor) error {
	invalid := func(msg string) error {
		return services.NewDomainError(services.ErrorTypeValidation, msg, nil).WithDetail("provider", d.ID)
	}

	if strings.TrimSpace(d.ID) == "" {
		return invalid("provider id is required")
	}
	if len(d.Models) == 0 {
		return invalid("provider must list at least one model")
	}
	for _, m := range d.Models {
		if strings.TrimSpace(m) == "" {
			return invalid("model id cannot be empty")
		}
	}

	required := d.AuthType.RequiredKeys()
	if required == nil {
		return invalid(fmt.Sprintf("unknown auth type %q", d.AuthType))
	}

	seen := make(map[string]bool, len(d.CredentialFields))
	hasRequired := false
	for _, f := range d.CredentialFields {
		if f.Key == "" {
			return invalid("credential field key cannot be empty")
		}
		if seen[f.Key] {
			return invalid(fmt.Sprintf("credential field %q declared twice", f.Key))
		}
		seen[f.Key] = true
		if f.Required {
			hasRequired = true
		}
	}
	if !hasRequired {
		return invalid("provider must declare at least one required credential field")
	}

	for _, key := range required {
		f, ok := d.Field(key)
		if !ok || !f.Required {
			return invalid(fmt.Sprintf("auth type %s requires field %q", d.AuthType, key))
		}
	}
	return nil
}

// BuiltinDescriptors returns the vendors shipped with the gateway
func BuiltinDescriptors() []ProviderDescriptor {
	apiKey := CredentialField{Key: FieldAPIKey, Label: "API Key", Sensitive: true, Required: true}
	secretKey := CredentialField{Key: FieldSecretKey, Label: "Secret Key", Sensitive: true, Required: true}

	return []ProviderDescriptor{
		{
			ID:          "openai",
			DisplayName: "OpenAI",
			BaseURL:     "https://api.openai.com/v1",
			AuthType:    AuthAPIKey,
			CredentialFields: []CredentialField{
				apiKey,
				{Key: FieldOrganization, Label: "Organization ID"},
			},
			Models: []string{"gpt-4", "gpt-4-turbo", "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"},
		},
		{
			ID:               "anthropic",
			DisplayName:      "Anthropic",
			BaseURL:          "https://api.anthropic.com",
			AuthType:         AuthAPIKey,
			CredentialFields: []CredentialField{apiKey},
			Models:           []string{"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022", "claude-3-opus-20240229", "claude-3-haiku-20240307"},
		},
		{
			ID:               "baidu",
			DisplayName:      "Baidu ERNIE",
			BaseURL:          "https://aip.baidubce.com",
			AuthType:         AuthAPIKeySecret,
			CredentialFields: []CredentialField{apiKey, secretKey},
			Models:           []string{"ernie-4.0-8k", "ernie-3.5-8k", "ernie-speed-128k", "ernie-lite-8k"},
		},
		{
			ID:               "alibaba",
			DisplayName:      "Alibaba Qwen",
			BaseURL:          "https://dashscope.aliyuncs.com",
			AuthType:         AuthAPIKey,
			CredentialFields: []CredentialField{apiKey},
			Models:           []string{"qwen-max", "qwen-plus", "qwen-turbo"},
		},
		{
			ID:               "zhipu",
			DisplayName:      "Zhipu GLM",
			BaseURL:          "https://open.bigmodel.cn/api/paas/v4",
			AuthType:         AuthAPIKey,
			CredentialFields: []CredentialField{apiKey},
			Models:           []string{"glm-4", "glm-4-plus", "glm-4-air", "glm-4-flash"},
		},
		{
			ID:               "gemini",
			DisplayName:      "Google Gemini",
			BaseURL:          "https://generativelanguage.googleapis.com",
			AuthType:         AuthAPIKey,
			CredentialFields: []CredentialField{apiKey},
			Models:           []string{"gemini-1.5-pro", "gemini-1.5-flash", "gemini-2.0-flash"},
		},
		{
			ID:          "bedrock",
			DisplayName: "AWS Bedrock",
			BaseURL:     "https://bedrock-runtime.us-east-1.amazonaws.com",
			AuthType:    AuthAPIKeySecretRegion,
			CredentialFields: []CredentialField{
				{Key: FieldAPIKey, Label: "Access Key ID", Sensitive: true, Required: true},
				{Key: FieldSecretKey, Label: "Secret Access Key", Sensitive: true, Required: true},
				{Key: FieldRegion, Label: "Region", Required: true},
			},
			Models: []string{"anthropic.claude-3-5-sonnet-20241022-v2:0", "anthropic.claude-3-haiku-20240307-v1:0", "amazon.titan-text-express-v1", "meta.llama3-70b-instruct-v1:0"},
		},
	}
}
