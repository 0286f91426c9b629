// mcp-bridge exposes HTTP APIs described by OpenAPI documents as Model
// Context Protocol tools over a single JSON-RPC endpoint, so any
// MCP-compatible AI host can discover and call them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Kong/mcp-bridge/internal/audit"
	"github.com/Kong/mcp-bridge/internal/config"
	"github.com/Kong/mcp-bridge/internal/dispatcher"
	"github.com/Kong/mcp-bridge/internal/mcp"
	"github.com/Kong/mcp-bridge/internal/metrics"
	"github.com/Kong/mcp-bridge/internal/oauth"
	"github.com/Kong/mcp-bridge/internal/registry"
)

var (
	configPath string
	listenAddr string
	devMode    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcp-bridge",
	Short: "MCP bridge exposing OpenAPI-described HTTP APIs as MCP tools",
	Long: `mcp-bridge parses an OpenAPI document per configured route, synthesises
MCP tool definitions from its operations, and serves them over a single
JSON-RPC-over-HTTP endpoint (default /mcp). Tool execution proxies to the
route's upstream HTTP service.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "configs", "Directory to search for bridge.yaml")
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	rootCmd.Flags().BoolVar(&devMode, "dev", false, "Use a human-readable development logger instead of JSON")
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(devMode)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	v := viper.New()
	v.SetConfigName("bridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	server, routes, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registry.Build(server, routes, logger)
	logger.Info("registry built", zap.Int("tool_count", reg.Len()), zap.Int("route_count", len(routes)))

	validator := oauth.NewValidator(oauth.DefaultJWKSTTL)
	validator.JWKSCache().OnResult(metrics.ObserveJWKS)

	dispatch := dispatcher.New(dispatcher.DefaultTimeout)

	auditSvc, pool, err := buildAuditService(server, logger)
	if err != nil {
		return fmt.Errorf("build audit service: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}

	handler := &mcp.Handler{
		Registry:   reg,
		Server:     server,
		Validator:  validator,
		Dispatcher: dispatch,
		Audit:      auditSvc,
		Logger:     logger,
	}
	router := mcp.NewRouter(handler)

	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("mcp-bridge HTTP listening", zap.String("addr", listenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down mcp-bridge...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("mcp-bridge stopped")
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildAuditService connects to Postgres only when server.database_url is
// set; otherwise it returns a Service backed by a nil pool, which makes
// every Log call a no-op (spec §4.10).
func buildAuditService(server config.ServerConfig, logger *zap.Logger) (*audit.Service, *pgxpool.Pool, error) {
	if server.DatabaseURL == "" {
		logger.Info("audit log disabled (set server.database_url to enable)")
		return audit.New(nil, logger), nil, nil
	}

	pool, err := pgxpool.New(context.Background(), server.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	svc := audit.New(pool, logger)
	if err := svc.EnsureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	logger.Info("audit log enabled", zap.String("backend", "postgres"))
	return svc, pool, nil
}
