package mcp

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kong/mcp-bridge/internal/jsonrpc"
	"github.com/Kong/mcp-bridge/internal/metrics"
	"github.com/Kong/mcp-bridge/internal/oauth"
	"github.com/Kong/mcp-bridge/internal/ratelimit"
)

// NewRouter assembles the gin.Engine serving /mcp, /healthz, /metrics, and
// the OAuth protected-resource discovery document, mirroring the teacher's
// cmd/registry/main.go explicit middleware chain (no implicit gin.Default()
// logger/recovery stack).
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(correlationID())
	router.Use(requestLogger(h.Logger))
	router.Use(ratelimit.Middleware(h.Server.RateLimitRPS, h.Server.RateLimitRPS*2))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/.well-known/oauth-protected-resource", serveProtectedResourceMetadata(h))

	router.GET("/mcp", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Capabilities())
	})
	router.POST("/mcp", servePost(h))

	return router
}

func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("request_id", fmt.Sprintf("%v", c.MustGet("request_id"))),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// servePost implements the POST /mcp transport: bearer-token auth gating
// (spec §4.8), body parsing, method dispatch, and status-code mapping.
func servePost(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.CodeParseError, "Parse error", nil))
			return
		}

		req, parseErr := jsonrpc.Parse(body)
		if parseErr != nil {
			c.JSON(http.StatusOK, jsonrpc.NewErrorResponse(req.ID, parseErr.Code, parseErr.Message, parseErr.Data))
			return
		}

		claims, authErr := h.Validator.Validate(c.Request.Context(), bearerToken(c), h.Server.OAuth)
		if authErr != nil {
			writeAuthFailure(c, req, authErr)
			return
		}

		outcome := h.HandleRequest(c.Request.Context(), req, claims)
		metrics.ObserveRequest(req.Method, statusFor(outcome))

		if outcome.Response == nil {
			c.Status(http.StatusOK)
			return
		}
		c.JSON(outcome.HTTPStatus, outcome.Response)
	}
}

func statusFor(o Outcome) int {
	if o.Response == nil || o.Response.Error == nil {
		return 0
	}
	return o.Response.Error.Code
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// writeAuthFailure implements spec §8 scenario S4's literal response shape.
func writeAuthFailure(c *gin.Context, req jsonrpc.Request, authErr error) {
	resource := fmt.Sprintf("%s://%s/.well-known/oauth-protected-resource", scheme(c), c.Request.Host)
	c.Header("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata=%q`, resource))

	detail := authErr.Error()
	if af, ok := authErr.(*oauth.AuthFailed); ok && af.Detail != "" {
		detail = af.Detail
	}

	resp := jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeAuthFailed, "Authentication failed", map[string]string{"detail": detail})
	c.JSON(http.StatusUnauthorized, resp)
}

func scheme(c *gin.Context) string {
	if c.Request.TLS != nil {
		return "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

func serveProtectedResourceMetadata(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		resource := fmt.Sprintf("%s://%s/mcp", scheme(c), c.Request.Host)
		body := gin.H{
			"resource": resource,
		}
		if len(h.Server.OAuth.AuthorizationServers) > 0 {
			body["authorization_servers"] = h.Server.OAuth.AuthorizationServers
		}
		if h.Server.OAuth.Audience != "" {
			body["bearer_methods_supported"] = []string{"header"}
		}
		c.JSON(http.StatusOK, body)
	}
}
