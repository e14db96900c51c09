package baidu

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/upb/ai-gateway/services/providers"
)

// refreshMargin renews a token this long before it expires
const refreshMargin = 5 * time.Minute

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// tokenCache holds access tokens per key pair until shortly before expiry
type tokenCache struct {
	mu      sync.Mutex
	entries map[string]cachedToken
	now     func() time.Time
}

func newTokenCache() *tokenCache {
	return &tokenCache{
		entries: make(map[string]cachedToken),
		now:     time.Now,
	}
}

func cacheKey(apiKey, secretKey string) string {
	sum := sha256.Sum256([]byte(apiKey + "\x00" + secretKey))
	return hex.EncodeToString(sum[:])
}

func (c *tokenCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.entries[key]
	if !ok || !c.now().Before(tok.expiresAt.Add(-refreshMargin)) {
		return "", false
	}
	return tok.value, true
}

func (c *tokenCache) put(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedToken{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *tokenCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// accessToken returns a cached token or exchanges the key pair for a new one
func (a *Adapter) accessToken(ctx context.Context, creds providers.Credentials) (string, error) {
	key := cacheKey(creds.APIKey(), creds.SecretKey())
	if tok, ok := a.tokens.get(key); ok {
		return tok, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", creds.APIKey())
	q.Set("client_secret", creds.SecretKey())

	req, err := providers.NewJSONRequest(ctx, http.MethodPost, a.config.BaseURL+"/oauth/2.0/token?"+q.Encode(), nil)
	if err != nil {
		return "", providers.NewTransportError(providerID, err)
	}

	body, err := providers.DoJSON(a.config.HTTPClient, providerID, req)
	if err != nil {
		return "", err
	}

	var tr tokenResponse
	if !providers.DecodeLenient(body, &tr) || tr.AccessToken == "" {
		msg := tr.ErrorDescription
		if msg == "" {
			msg = tr.Error
		}
		return "", providers.NewUpstreamError(providerID, http.StatusUnauthorized, msg)
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	a.tokens.put(key, tr.AccessToken, ttl)
	return tr.AccessToken, nil
}
