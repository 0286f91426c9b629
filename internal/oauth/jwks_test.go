package oauth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kong/mcp-bridge/internal/oauth"
)

func TestJWKSCache_FetchesAndCachesKey(t *testing.T) {
	key := newTestKey(t, "k1")
	var fetchCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetchCount, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"keys":[` + jwkJSON(key) + `]}`))
	}))
	defer srv.Close()

	cache := oauth.NewJWKSCache(time.Minute)

	if _, err := cache.Key(context.Background(), srv.URL, "k1"); err != nil {
		t.Fatalf("first Key() call failed: %v", err)
	}
	if _, err := cache.Key(context.Background(), srv.URL, "k1"); err != nil {
		t.Fatalf("second Key() call failed: %v", err)
	}
	if got := atomic.LoadInt32(&fetchCount); got != 1 {
		t.Fatalf("expected exactly 1 fetch (cache hit on second call), got %d", got)
	}
}

func TestJWKSCache_UnknownKidForcesRefetch(t *testing.T) {
	key := newTestKey(t, "k1")
	var fetchCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetchCount, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"keys":[` + jwkJSON(key) + `]}`))
	}))
	defer srv.Close()

	cache := oauth.NewJWKSCache(time.Minute)
	if _, err := cache.Key(context.Background(), srv.URL, "k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Key(context.Background(), srv.URL, "k-missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if got := atomic.LoadInt32(&fetchCount); got != 2 {
		t.Fatalf("expected a forced refetch on kid miss, got %d fetches", got)
	}
}

func TestJWKSCache_OnResultReportsHitsAndMisses(t *testing.T) {
	key := newTestKey(t, "k1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"keys":[` + jwkJSON(key) + `]}`))
	}))
	defer srv.Close()

	var hits, misses int32
	cache := oauth.NewJWKSCache(time.Minute)
	cache.OnResult(func(hit bool) {
		if hit {
			atomic.AddInt32(&hits, 1)
		} else {
			atomic.AddInt32(&misses, 1)
		}
	})

	cache.Key(context.Background(), srv.URL, "k1")
	cache.Key(context.Background(), srv.URL, "k1")

	if atomic.LoadInt32(&misses) != 1 || atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got misses=%d hits=%d", misses, hits)
	}
}

func TestResolveJWKSURL_DirectJWKSURLPassthrough(t *testing.T) {
	url, err := oauth.ResolveJWKSURL(context.Background(), http.DefaultClient, "https://issuer.example/jwks.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://issuer.example/jwks.json" {
		t.Fatalf("expected passthrough, got %q", url)
	}
}

func TestResolveJWKSURL_DiscoveryDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jwks_uri":"https://issuer.example/keys"}`))
	}))
	defer srv.Close()

	url, err := oauth.ResolveJWKSURL(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://issuer.example/keys" {
		t.Fatalf("expected discovered jwks_uri, got %q", url)
	}
}

func jwkJSON(k *testKey) string {
	jwk := k.jwk()
	return `{"kty":"` + jwk["kty"].(string) + `","kid":"` + jwk["kid"].(string) + `","alg":"` + jwk["alg"].(string) + `","n":"` + jwk["n"].(string) + `","e":"` + jwk["e"].(string) + `"}`
}
