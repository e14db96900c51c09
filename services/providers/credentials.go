package providers

// Credential field keys shared by the built-in descriptors
const (
	FieldAPIKey       = "apiKey"
	FieldSecretKey    = "secretKey"
	FieldRegion       = "region"
	FieldOrganization = "organization"
)

// Credentials is the read-only view of a provider credential handed to an
// adapter for a single call.
type Credentials struct {
	fields map[string]string
}

// NewCredentials copies fields into a new view
func NewCredentials(fields map[string]string) Credentials {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Credentials{fields: copied}
}

// Get returns the value for key, or "" when absent
func (c Credentials) Get(key string) string {
	return c.fields[key]
}

// APIKey returns the apiKey field
func (c Credentials) APIKey() string {
	return c.fields[FieldAPIKey]
}

// SecretKey returns the secretKey field
func (c Credentials) SecretKey() string {
	return c.fields[FieldSecretKey]
}

// Region returns the region field
func (c Credentials) Region() string {
	return c.fields[FieldRegion]
}

// Keys returns the field keys present in the view
func (c Credentials) Keys() []string {
	keys := make([]string, 0, len(c.fields))
	for k := range c.fields {
		keys = append(keys, k)
	}
	return keys
}

// String keeps secret values out of fmt and log output
func (c Credentials) String() string {
	return "Credentials{REDACTED}"
}

// GoString keeps secret values out of %#v output
func (c Credentials) GoString() string {
	return c.String()
}
