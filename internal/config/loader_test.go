package config_test

import (
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/Kong/mcp-bridge/internal/config"
)

func TestLoad_AppliesDefaultsWhenConfigFileAbsent(t *testing.T) {
	v := viper.New()
	v.SetConfigName("nonexistent")
	v.SetConfigType("yaml")
	v.AddConfigPath(t.TempDir())

	server, routes, err := config.Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if server.ServerName != "kong-mcp" || server.MaxTools != 1000 || server.RateLimitRPS != 20 {
		t.Fatalf("unexpected defaults: %+v", server)
	}
	if len(routes) != 0 {
		t.Fatalf("expected no routes, got %d", len(routes))
	}
}

func TestLoad_RejectsInvalidMaxTools(t *testing.T) {
	v := viper.New()
	v.Set("server.max_tools", 0)
	v.SetConfigType("yaml")

	if _, _, err := config.Load(v); err == nil {
		t.Fatal("expected error for non-positive max_tools")
	}
}

func TestLoad_OAuthEnabledRequiresAuthorizationServers(t *testing.T) {
	v := viper.New()
	v.Set("oauth.enabled", true)
	v.Set("oauth.token_validation", "jwt")
	v.SetConfigType("yaml")

	if _, _, err := config.Load(v); err == nil {
		t.Fatal("expected error when oauth enabled without authorization_servers")
	}
}

func TestLoad_IntrospectionRequiresEndpoint(t *testing.T) {
	v := viper.New()
	v.Set("oauth.enabled", true)
	v.Set("oauth.token_validation", "introspection")
	v.SetConfigType("yaml")

	if _, _, err := config.Load(v); err == nil {
		t.Fatal("expected error when introspection validation lacks an endpoint")
	}
}

func TestLoad_RouteRequiresMinimumSpecLength(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("routes", []map[string]any{
		{"route_id": "r1", "route_name": "admin", "api_specification": "short"},
	})

	if _, _, err := config.Load(v); err == nil {
		t.Fatal("expected error for api_specification shorter than 50 characters")
	}
}

func TestLoad_DisabledRouteExcludedFromResult(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	spec := `{"openapi":"3.0.0","paths":{}}` + strings.Repeat(" ", 40)
	v.Set("routes", []map[string]any{
		{"route_id": "r1", "route_name": "admin", "api_specification": spec, "enabled": false},
	})

	_, routes, err := config.Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(routes) != 0 {
		t.Fatalf("expected disabled route to be excluded, got %d", len(routes))
	}
}

func TestLoad_RouteAccessControlParsed(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	spec := `{"openapi":"3.0.0","paths":{}}` + strings.Repeat(" ", 40)
	v.Set("routes", []map[string]any{
		{
			"route_id":          "r1",
			"route_name":        "admin",
			"api_specification": spec,
			"access_control": map[string]any{
				"default_requirements": []map[string]any{
					{"claim_name": "role", "claim_values": []string{"admin"}, "match_type": "all"},
				},
			},
		},
	})

	_, routes, err := config.Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(routes))
	}
	reqs := routes[0].AccessControl.DefaultRequirements
	if len(reqs) != 1 || reqs[0].ClaimName != "role" || reqs[0].MatchType != config.MatchAll {
		t.Fatalf("unexpected requirements: %+v", reqs)
	}
}

func TestLoad_MatchTypeDefaultsToAny(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	spec := `{"openapi":"3.0.0","paths":{}}` + strings.Repeat(" ", 40)
	v.Set("routes", []map[string]any{
		{
			"route_id":          "r1",
			"route_name":        "admin",
			"api_specification": spec,
			"access_control": map[string]any{
				"default_requirements": []map[string]any{
					{"claim_name": "role", "claim_values": []string{"admin"}},
				},
			},
		},
	})

	_, routes, err := config.Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if routes[0].AccessControl.DefaultRequirements[0].MatchType != config.MatchAny {
		t.Fatalf("expected default match_type 'any', got %q", routes[0].AccessControl.DefaultRequirements[0].MatchType)
	}
}
