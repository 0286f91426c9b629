package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultJWKSTTL is the default JWKS cache lifetime (spec §3).
const DefaultJWKSTTL = 300 * time.Second

// ErrUnknownKID indicates the JWKS, even after a forced refresh, does not
// contain the kid a token's header asked for. It is distinct from a
// fetch/resolve failure: the JWKS was reachable and well-formed, it simply
// never advertised that key.
var ErrUnknownKID = errors.New("unknown kid")

// jwk is a single JSON Web Key (RFC 7517) for an RSA public key.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// jwksCacheEntry holds the decoded keys for one JWKS URL plus their
// fetch time, so TTL expiry is evaluated per URL rather than off a single
// global timestamp (spec §9, "JWKS-cache refresh").
type jwksCacheEntry struct {
	keys     map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// JWKSCache fetches and caches JSON Web Key Sets by URL. Refresh is
// single-flighted per URL: concurrent misses for the same URL coalesce into
// one HTTP fetch.
type JWKSCache struct {
	ttl    time.Duration
	client *http.Client

	mu      sync.Mutex
	entries map[string]*jwksCacheEntry
	inFlight map[string]chan struct{}

	onResult func(hit bool) // optional metrics hook
}

// NewJWKSCache creates a JWKSCache with the given TTL (DefaultJWKSTTL if
// zero) and a bounded-timeout HTTP client (5s, per spec §4.5 step 3).
func NewJWKSCache(ttl time.Duration) *JWKSCache {
	if ttl <= 0 {
		ttl = DefaultJWKSTTL
	}
	return &JWKSCache{
		ttl:      ttl,
		client:   &http.Client{Timeout: 5 * time.Second},
		entries:  make(map[string]*jwksCacheEntry),
		inFlight: make(map[string]chan struct{}),
	}
}

// OnResult registers a callback invoked once per Key lookup with whether it
// was served from cache (hit) or required a fetch (miss). A lookup whose
// fetch fails is not reported.
func (c *JWKSCache) OnResult(fn func(hit bool)) { c.onResult = fn }

// Key returns the RSA public key for kid from the JWKS at url, fetching (or
// refreshing) as needed. On a cache hit with a kid miss, it forces one
// refetch before giving up (spec §4.5 step 3).
func (c *JWKSCache) Key(ctx context.Context, url, kid string) (*rsa.PublicKey, error) {
	entry, fresh := c.get(url)
	if fresh {
		if key, ok := entry.keys[kid]; ok {
			c.report(true)
			return key, nil
		}
		// kid miss on a fresh cache entry: force one refetch before failing.
	}

	entry, err := c.refresh(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("oauth: fetch jwks from %s: %w", url, err)
	}
	c.report(false)
	key, ok := entry.keys[kid]
	if !ok {
		return nil, fmt.Errorf("oauth: %w %q at %s", ErrUnknownKID, kid, url)
	}
	return key, nil
}

func (c *JWKSCache) report(hit bool) {
	if c.onResult != nil {
		c.onResult(hit)
	}
}

func (c *JWKSCache) get(url string) (*jwksCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	return entry, time.Since(entry.fetchedAt) < c.ttl
}

// refresh performs a single-flighted fetch-and-decode of the JWKS at url.
func (c *JWKSCache) refresh(ctx context.Context, url string) (*jwksCacheEntry, error) {
	c.mu.Lock()
	if ch, ok := c.inFlight[url]; ok {
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
		entry := c.entries[url]
		c.mu.Unlock()
		if entry == nil {
			return nil, fmt.Errorf("oauth: concurrent jwks refresh for %s failed", url)
		}
		return entry, nil
	}
	ch := make(chan struct{})
	c.inFlight[url] = ch
	c.mu.Unlock()

	entry, err := c.fetch(ctx, url)

	c.mu.Lock()
	if err == nil {
		c.entries[url] = entry
	}
	delete(c.inFlight, url)
	close(ch)
	c.mu.Unlock()

	return entry, err
}

func (c *JWKSCache) fetch(ctx context.Context, url string) (*jwksCacheEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := jwkToRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	return &jwksCacheEntry{keys: keys, fetchedAt: time.Now()}, nil
}

// jwkToRSAPublicKey decodes the base64url n/e fields of an RSA JWK into a
// *rsa.PublicKey (the inverse of the teacher's rsaPublicKeyToJWK).
func jwkToRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// ResolveJWKSURL implements spec §4.5 step 2: if the authorization-server
// URL already references jwks, use it directly; otherwise fetch its OIDC
// discovery document and read jwks_uri.
func ResolveJWKSURL(ctx context.Context, client *http.Client, authServerURL string) (string, error) {
	if strings.Contains(authServerURL, "jwks") {
		return authServerURL, nil
	}

	discoveryURL := strings.TrimRight(authServerURL, "/") + "/.well-known/openid_configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery document returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("discovery document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}
