package toolsynth_test

import (
	"regexp"
	"testing"

	"github.com/Kong/mcp-bridge/internal/config"
	"github.com/Kong/mcp-bridge/internal/openapi"
	"github.com/Kong/mcp-bridge/internal/toolsynth"
)

var legalName = regexp.MustCompile(`^[a-z0-9_-]+$`)

func TestToolName_Deterministic(t *testing.T) {
	a := toolsynth.ToolName("admin_api", "GET", "/status")
	b := toolsynth.ToolName("admin_api", "GET", "/status")
	if a != b {
		t.Fatalf("ToolName not deterministic: %q vs %q", a, b)
	}
	if a != "admin_api_get_status" {
		t.Fatalf("got %q, want admin_api_get_status", a)
	}
}

func TestToolName_PathBinding(t *testing.T) {
	got := toolsynth.ToolName("kong_admin", "GET", "/plugins/{id}")
	if got != "kong_admin_get_plugins_id" {
		t.Fatalf("got %q, want kong_admin_get_plugins_id", got)
	}
}

func TestToolName_Legality(t *testing.T) {
	cases := []struct{ prefix, method, path string }{
		{"Admin API!!", "GET", "/Weird//Path/{id}//"},
		{"x", "POST", "/"},
		{"prefix", "DELETE", ""},
		{"p", "PATCH", "/a/b/c/d/e/f/g/h/i/j/k/l/m/n/o/p/q/r/s/t/u/v/w/x/y/z/aa/bb/cc/dd/ee/ff/gg/hh/ii/jj/kk/ll/mm/nn/oo/pp/qq/rr/ss/tt/uu/vv/ww/xx/yy/zz"},
	}
	for _, c := range cases {
		name := toolsynth.ToolName(c.prefix, c.method, c.path)
		if !legalName.MatchString(name) {
			t.Errorf("ToolName(%q,%q,%q) = %q, not legal", c.prefix, c.method, c.path, name)
		}
		if len(name) > 128 {
			t.Errorf("ToolName(%q,%q,%q) = %q, exceeds 128 chars (%d)", c.prefix, c.method, c.path, name, len(name))
		}
	}
}

func TestSynthesise_RequiredDefaultsToEmptyArray(t *testing.T) {
	route := config.RouteToolConfig{RouteID: "r1", RouteName: "admin", ToolPrefix: "admin_api"}
	op := openapi.Operation{Path: "/status", Method: "GET", Summary: "Get Kong status"}

	rec := toolsynth.Synthesise(route, op)

	required, ok := rec.InputSchema["required"].([]string)
	if !ok {
		t.Fatalf("required is not a []string: %T", rec.InputSchema["required"])
	}
	if len(required) != 0 {
		t.Fatalf("expected empty required, got %v", required)
	}
	if rec.InputSchema["type"] != "object" {
		t.Fatalf("expected type=object, got %v", rec.InputSchema["type"])
	}
}

func TestSynthesise_BodyRequiredAppendsBody(t *testing.T) {
	route := config.RouteToolConfig{RouteID: "r1", RouteName: "admin"}
	op := openapi.Operation{
		Path:   "/widgets",
		Method: "POST",
		RequestBody: &openapi.RequestBody{
			Required:    true,
			ContentType: "application/json",
			Schema:      map[string]any{"type": "object"},
		},
	}

	rec := toolsynth.Synthesise(route, op)
	required := rec.InputSchema["required"].([]string)

	found := false
	for _, r := range required {
		if r == "body" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected required to contain \"body\", got %v", required)
	}
}

func TestSynthesise_PerOperationOverride(t *testing.T) {
	route := config.RouteToolConfig{
		RouteID:   "r1",
		RouteName: "admin",
		AccessControl: config.AccessControl{
			DefaultRequirements: []config.Requirement{{ClaimName: "role", ClaimValues: []string{"default"}, MatchType: config.MatchAny}},
			PerOperationRequirements: []config.Requirement{
				{OperationID: "deleteWidget", ClaimName: "role", ClaimValues: []string{"admin"}, MatchType: config.MatchAll},
			},
		},
	}
	op := openapi.Operation{Path: "/widgets/{id}", Method: "DELETE", OperationID: "deleteWidget"}

	rec := toolsynth.Synthesise(route, op)
	if len(rec.AccessRequirements) != 1 || rec.AccessRequirements[0].ClaimValues[0] != "admin" {
		t.Fatalf("expected per-operation override, got %+v", rec.AccessRequirements)
	}
}
