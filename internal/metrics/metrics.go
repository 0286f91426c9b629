// Package metrics exposes the bridge's Prometheus instrumentation, adapted
// from the teacher's internal/registry/handler/metrics.go: the same
// promauto/promhttp idiom, rescoped from NAP agent counters to MCP
// request/tool-call/JWKS counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_bridge_requests_total",
		Help: "JSON-RPC requests handled, by method and error code (0 = success).",
	}, []string{"method", "code"})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_bridge_tool_calls_total",
		Help: "tools/call invocations, by tool name and outcome.",
	}, []string{"tool", "outcome"})

	toolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_bridge_tool_call_duration_seconds",
		Help:    "Upstream dispatch latency for tools/call, by tool name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	jwksLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_bridge_jwks_lookups_total",
		Help: "JWKS key lookups, partitioned by cache hit/miss.",
	}, []string{"result"})

	rateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_bridge_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter, by bucket key type (subject or ip).",
	}, []string{"key_type"})
)

// ObserveRequest records one JSON-RPC request outcome.
func ObserveRequest(method string, code int) {
	requestsTotal.WithLabelValues(method, codeLabel(code)).Inc()
}

// ObserveToolCall records one tools/call outcome and its upstream latency.
func ObserveToolCall(tool string, d time.Duration, isErr bool) {
	outcome := "ok"
	if isErr {
		outcome = "error"
	}
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveJWKS records a JWKS cache hit or miss.
func ObserveJWKS(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	jwksLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitReject records one request rejected by the rate limiter.
// keyType is "subject" when the bucket was keyed off a bearer token, "ip"
// when it fell back to the caller's address.
func ObserveRateLimitReject(keyType string) {
	rateLimitRejectionsTotal.WithLabelValues(keyType).Inc()
}

func codeLabel(code int) string {
	return strconv.Itoa(code)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
