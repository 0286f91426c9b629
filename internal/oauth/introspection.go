package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Kong/mcp-bridge/internal/access"
	"github.com/Kong/mcp-bridge/internal/config"
)

// maxIntrospectionCacheTTL bounds how long a positive introspection result
// is trusted, independent of the token's own exp (spec §9 resolution of
// the introspection Open Question).
const maxIntrospectionCacheTTL = 60 * time.Second

type introspectionEntry struct {
	claims    access.ClaimSet
	active    bool
	cachedAt  time.Time
	ttl       time.Duration
}

// IntrospectionCache caches RFC 7662 introspection results, both active and
// inactive, keyed by the SHA-256 digest of the raw token — the token itself
// is never retained, matching the validator's "never log the token" rule.
type IntrospectionCache struct {
	client *http.Client

	mu      sync.Mutex
	entries map[string]*introspectionEntry
}

// NewIntrospectionCache creates an IntrospectionCache with a 5s bounded
// HTTP client, matching the JWKS fetch timeout.
func NewIntrospectionCache() *IntrospectionCache {
	return &IntrospectionCache{
		client:  &http.Client{Timeout: 5 * time.Second},
		entries: make(map[string]*introspectionEntry),
	}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Sub      string `json:"sub"`
	Aud      any    `json:"aud"`
	Exp      int64  `json:"exp"`
}

// validateIntrospection implements spec §9's introspection resolution:
// POST token to the configured endpoint with HTTP Basic client auth,
// treat active:false or a non-200 response as AuthFailed, and cache the
// active or inactive result briefly (a non-200 or transport failure is not
// cached).
func (v *Validator) validateIntrospection(ctx context.Context, token string, cfg config.OAuthConfig) (access.ClaimSet, error) {
	key := digest(token)

	if entry := v.introspection.get(key); entry != nil {
		if !entry.active {
			return nil, failed(ReasonInactiveToken, "token is not active")
		}
		return entry.claims, nil
	}

	resp, err := v.introspect(ctx, token, cfg)
	if err != nil {
		return nil, failed(ReasonIntrospectionFail, err.Error())
	}

	ttl := maxIntrospectionCacheTTL
	if resp.Exp > 0 {
		if remaining := time.Until(time.Unix(resp.Exp, 0)); remaining < ttl {
			ttl = remaining
		}
	}

	if !resp.Active {
		v.introspection.put(key, &introspectionEntry{active: false, cachedAt: time.Now(), ttl: ttl})
		return nil, failed(ReasonInactiveToken, "token is not active")
	}

	claims := access.ClaimSet{
		"sub":      resp.Sub,
		"scope":    resp.Scope,
		"username": resp.Username,
		"client_id": resp.ClientID,
	}
	if resp.Aud != nil {
		claims["aud"] = resp.Aud
	}

	if err := checkScopes(claims, cfg.RequiredScopes); err != nil {
		return nil, err
	}
	if err := checkAudience(claims, cfg.Audience); err != nil {
		return nil, err
	}

	v.introspection.put(key, &introspectionEntry{active: true, claims: claims, cachedAt: time.Now(), ttl: ttl})
	return claims, nil
}

func (v *Validator) introspect(ctx context.Context, token string, cfg config.OAuthConfig) (*introspectionResponse, error) {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cfg.IntrospectionClientID != "" {
		req.SetBasicAuth(cfg.IntrospectionClientID, cfg.IntrospectionClientSecret)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	var out introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "introspection endpoint returned unexpected status"
}

func (c *IntrospectionCache) get(key string) *introspectionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Since(entry.cachedAt) >= entry.ttl {
		delete(c.entries, key)
		return nil
	}
	return entry
}

func (c *IntrospectionCache) put(key string, entry *introspectionEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}
