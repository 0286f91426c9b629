// Package registry is the authoritative map of tool name to ToolRecord,
// built from configuration at load time and rebuilt wholesale on config
// change. There is no per-request mutation of the registry — the legacy
// "register a tool from the route plugin on first sight" pattern is
// collapsed into a single atomic build, per spec §9.
package registry

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kong/mcp-bridge/internal/access"
	"github.com/Kong/mcp-bridge/internal/config"
	"github.com/Kong/mcp-bridge/internal/openapi"
	"github.com/Kong/mcp-bridge/internal/toolsynth"
)

// LookupError distinguishes "no such tool" from "tool exists but this
// caller can't see it" only internally — both surface identically to the
// JSON-RPC layer (spec §7, ToolMissingOrForbidden) to avoid leaking tool
// names across identities.
type LookupError struct {
	NotFound  bool
	Forbidden bool
}

func (e *LookupError) Error() string {
	if e.NotFound {
		return "tool not found"
	}
	return "tool forbidden"
}

// Registry is an immutable snapshot of tool name -> ToolRecord.
type Registry struct {
	tools   map[string]toolsynth.ToolRecord
	maxSize int
}

// Build synthesises a Registry from every enabled RouteToolConfig. OpenAPI
// parsing or schema-synthesis errors are fatal only for the offending
// route: they are logged and that route simply contributes no tools,
// per spec §7 ("do not abort server startup").
func Build(server config.ServerConfig, routes []config.RouteToolConfig, logger *zap.Logger) *Registry {
	tools := make(map[string]toolsynth.ToolRecord)

	for _, route := range routes {
		if !route.Enabled {
			continue
		}
		doc, err := openapi.Parse([]byte(route.APISpecification))
		if err != nil {
			logger.Error("registry: failed to parse route OpenAPI document; route contributes no tools",
				zap.String("route_id", route.RouteID), zap.Error(err))
			continue
		}

		for _, rec := range toolsynth.SynthesiseRoute(route, doc) {
			if len(tools) >= server.MaxTools {
				logger.Warn("registry: max_tools reached, dropping remaining tools",
					zap.Int("max_tools", server.MaxTools), zap.String("tool", rec.Name))
				break
			}
			if _, exists := tools[rec.Name]; exists {
				// First writer wins (§4.3 dedup rule).
				logger.Warn("registry: duplicate tool name dropped",
					zap.String("tool", rec.Name), zap.String("route_id", route.RouteID))
				continue
			}
			tools[rec.Name] = rec
		}
	}

	return &Registry{tools: tools, maxSize: server.MaxTools}
}

// List returns every ToolRecord visible to claims. A nil claims map means
// "no authentication performed" (OAuth disabled) and returns every tool
// unfiltered.
func (r *Registry) List(claims access.ClaimSet) []toolsynth.ToolRecord {
	out := make([]toolsynth.ToolRecord, 0, len(r.tools))
	for _, rec := range r.tools {
		if claims == nil || access.Allow(claims, rec.AccessRequirements) {
			out = append(out, rec)
		}
	}
	return out
}

// Lookup resolves a tool by name, applying the same access filter as List.
// A nil claims map skips the access check (OAuth disabled).
func (r *Registry) Lookup(name string, claims access.ClaimSet) (toolsynth.ToolRecord, error) {
	rec, ok := r.tools[name]
	if !ok {
		return toolsynth.ToolRecord{}, &LookupError{NotFound: true}
	}
	if claims != nil && !access.Allow(claims, rec.AccessRequirements) {
		return toolsynth.ToolRecord{}, &LookupError{Forbidden: true}
	}
	return rec, nil
}

// Len returns the number of tools currently registered.
func (r *Registry) Len() int { return len(r.tools) }

// ToolListProjection is the §4.8 tools/list projection: name, description,
// inputSchema only — execution metadata is stripped.
type ToolListProjection struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Project converts a ToolRecord list into its wire projection.
func Project(records []toolsynth.ToolRecord) []ToolListProjection {
	out := make([]ToolListProjection, 0, len(records))
	for _, r := range records {
		out = append(out, ToolListProjection{
			Name:        r.Name,
			Description: r.Description,
			InputSchema: r.InputSchema,
		})
	}
	return out
}

// MarshalDiagnostics is a best-effort debug dump of the registered tool
// names. No HTTP endpoint serves it (/healthz does not include it), and it
// is never part of the MCP wire protocol.
func (r *Registry) MarshalDiagnostics() ([]byte, error) {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	b, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("registry: marshal diagnostics: %w", err)
	}
	return b, nil
}
