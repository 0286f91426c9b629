// Package ratelimit provides a token-bucket gin middleware protecting the
// bridge's /mcp endpoint, adapted from the teacher's
// internal/registry/handler/ratelimit.go sweep-and-bucket shape but keyed on
// the caller's bearer credential rather than bare client IP, since the
// bridge's callers are OAuth-bearing MCP clients, not the teacher's
// federation peers: a shared gateway or proxy fronting many distinct callers
// would otherwise see them all throttled as one IP, and a single abusive
// credential hopping addresses would otherwise dodge the limiter entirely.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Kong/mcp-bridge/internal/metrics"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Middleware returns a Gin middleware enforcing per-caller token-bucket rate
// limiting. rps is the steady-state requests per second; burst is the
// maximum burst size. Stale entries are cleaned every 5 minutes. rps <= 0
// disables the middleware entirely.
func Middleware(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for key, b := range buckets {
				if time.Since(b.lastSeen) > 10*time.Minute {
					delete(buckets, key)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		key, keyType := bucketKey(c)

		mu.Lock()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[key] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		if !b.limiter.Allow() {
			metrics.ObserveRateLimitReject(keyType)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// bucketKey identifies the caller this request should be throttled as. The
// rate limiter runs ahead of bearer-token validation in the middleware
// chain, so it cannot key off verified claims — but it can still key off the
// raw presented credential, which is enough to isolate distinct callers
// sharing one address and to collapse one caller hopping addresses back into
// a single bucket. A token is never logged or stored in the clear; only its
// digest is used as the map key.
func bucketKey(c *gin.Context) (key, keyType string) {
	if token := bearerToken(c); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "subject:" + hex.EncodeToString(sum[:]), "subject"
	}
	return "ip:" + c.ClientIP(), "ip"
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	return ""
}
