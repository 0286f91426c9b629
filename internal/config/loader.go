package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// rawRequirement and rawAccessControl mirror the YAML shape of Requirement /
// AccessControl so viper can unmarshal route_tool config blocks directly.
type rawRequirement struct {
	ClaimName   string   `mapstructure:"claim_name"`
	ClaimValues []string `mapstructure:"claim_values"`
	MatchType   string   `mapstructure:"match_type"`
	OperationID string   `mapstructure:"operation_id"`
}

type rawAccessControl struct {
	DefaultRequirements      []rawRequirement `mapstructure:"default_requirements"`
	PerOperationRequirements []rawRequirement `mapstructure:"per_operation_requirements"`
}

type rawRoute struct {
	RouteID          string           `mapstructure:"route_id"`
	RouteName        string           `mapstructure:"route_name"`
	UpstreamBasePath string           `mapstructure:"upstream_base_path"`
	APISpecification string           `mapstructure:"api_specification"`
	ToolPrefix       string           `mapstructure:"tool_prefix"`
	Enabled          *bool            `mapstructure:"enabled"`
	AccessControl    rawAccessControl `mapstructure:"access_control"`
}

// Load reads the bridge configuration via viper, applying the §6 defaults
// for every optional field, and returns the typed ServerConfig plus the
// enabled RouteToolConfig list. It does not itself build the tool registry —
// callers wire that up (internal/registry.Build) so the same Load result can
// be reused across a reload.
func Load(v *viper.Viper) (ServerConfig, []RouteToolConfig, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.server_name", "kong-mcp")
	v.SetDefault("server.server_version", "1.0.0")
	v.SetDefault("server.max_tools", 1000)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.database_url", "")
	v.SetDefault("oauth.enabled", false)
	v.SetDefault("oauth.authorization_servers", []string{})
	v.SetDefault("oauth.audience", "")
	v.SetDefault("oauth.required_scopes", []string{})
	v.SetDefault("oauth.tool_scope_filtering", false)
	v.SetDefault("oauth.token_validation", "jwt")
	v.SetDefault("oauth.introspection_endpoint", "")
	v.SetDefault("oauth.introspection_client_id", "")
	v.SetDefault("oauth.introspection_client_secret", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return ServerConfig{}, nil, fmt.Errorf("read config: %w", err)
		}
	}

	server := ServerConfig{
		ServerName:    v.GetString("server.server_name"),
		ServerVersion: v.GetString("server.server_version"),
		MaxTools:      v.GetInt("server.max_tools"),
		RateLimitRPS:  v.GetInt("server.rate_limit_rps"),
		DatabaseURL:   v.GetString("server.database_url"),
		OAuth: OAuthConfig{
			Enabled:                   v.GetBool("oauth.enabled"),
			AuthorizationServers:      v.GetStringSlice("oauth.authorization_servers"),
			Audience:                  v.GetString("oauth.audience"),
			RequiredScopes:            v.GetStringSlice("oauth.required_scopes"),
			ToolScopeFiltering:        v.GetBool("oauth.tool_scope_filtering"),
			TokenValidation:           TokenValidation(v.GetString("oauth.token_validation")),
			IntrospectionEndpoint:     v.GetString("oauth.introspection_endpoint"),
			IntrospectionClientID:     v.GetString("oauth.introspection_client_id"),
			IntrospectionClientSecret: v.GetString("oauth.introspection_client_secret"),
		},
	}
	if err := server.Validate(); err != nil {
		return ServerConfig{}, nil, err
	}

	var rawRoutes []rawRoute
	if err := v.UnmarshalKey("routes", &rawRoutes); err != nil {
		return ServerConfig{}, nil, fmt.Errorf("parse routes: %w", err)
	}

	routes := make([]RouteToolConfig, 0, len(rawRoutes))
	for _, rr := range rawRoutes {
		enabled := true
		if rr.Enabled != nil {
			enabled = *rr.Enabled
		}
		if !enabled {
			continue
		}
		route := RouteToolConfig{
			RouteID:          rr.RouteID,
			RouteName:        rr.RouteName,
			UpstreamBasePath: rr.UpstreamBasePath,
			APISpecification: rr.APISpecification,
			ToolPrefix:       rr.ToolPrefix,
			Enabled:          enabled,
			AccessControl: AccessControl{
				DefaultRequirements:      convertRequirements(rr.AccessControl.DefaultRequirements),
				PerOperationRequirements: convertRequirements(rr.AccessControl.PerOperationRequirements),
			},
		}
		if err := route.Validate(); err != nil {
			return ServerConfig{}, nil, err
		}
		routes = append(routes, route)
	}

	return server, routes, nil
}

func convertRequirements(raw []rawRequirement) []Requirement {
	out := make([]Requirement, 0, len(raw))
	for _, r := range raw {
		mt := MatchType(r.MatchType)
		if mt == "" {
			mt = MatchAny
		}
		out = append(out, Requirement{
			ClaimName:   r.ClaimName,
			ClaimValues: r.ClaimValues,
			MatchType:   mt,
			OperationID: r.OperationID,
		})
	}
	return out
}
