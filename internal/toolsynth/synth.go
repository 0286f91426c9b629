// Package toolsynth synthesises MCP tool definitions from parsed OpenAPI
// operations. Name generation is a pure function of (prefix, method, path)
// so that regenerating the registry across restarts yields identical names
// (spec §8 invariant 1).
package toolsynth

import (
	"regexp"
	"strings"

	"github.com/Kong/mcp-bridge/internal/config"
	"github.com/Kong/mcp-bridge/internal/openapi"
	"github.com/Kong/mcp-bridge/internal/schema"
)

// ToolRecord is the registry's authoritative entry for one synthesised
// tool (spec §3).
type ToolRecord struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	HTTPMethod   string
	EndpointPath string
	RouteID      string
	RouteName    string
	RouteBase    string
	OperationID  string

	AccessRequirements []config.Requirement
}

var nonWordRun = regexp.MustCompile(`[^A-Za-z0-9_]+`)
var nonNameRun = regexp.MustCompile(`[^a-z0-9_-]+`)
var underscoreRun = regexp.MustCompile(`_+`)
var dashRun = regexp.MustCompile(`-+`)

// simplifyPath implements §4.3 step 2.
func simplifyPath(path string) string {
	p := strings.TrimPrefix(path, "/")
	p = strings.ReplaceAll(p, "/", "_")
	p = strings.ReplaceAll(p, "{", "")
	p = strings.ReplaceAll(p, "}", "")
	p = nonWordRun.ReplaceAllString(p, "_")
	p = underscoreRun.ReplaceAllString(p, "_")
	p = strings.Trim(p, "_")
	if p == "" {
		p = "root"
	}
	return p
}

// ToolName implements §4.3's deterministic name-generation algorithm.
func ToolName(prefix, method, path string) string {
	simplified := simplifyPath(path)
	name := prefix + "_" + strings.ToLower(method) + "_" + simplified
	name = strings.ToLower(name)
	name = nonNameRun.ReplaceAllString(name, "_")
	name = underscoreRun.ReplaceAllString(name, "_")
	name = dashRun.ReplaceAllString(name, "-")
	name = strings.Trim(name, "_-")
	if len(name) > 128 {
		name = strings.Trim(name[:128], "_-")
	}
	return name
}

var verbTable = map[string]string{
	"GET":     "Retrieve",
	"POST":    "Create",
	"PUT":     "Update",
	"PATCH":   "Partially update",
	"DELETE":  "Delete",
	"HEAD":    "Get headers for",
	"OPTIONS": "Get options for",
}

// describe implements §4.3's description fallback chain.
func describe(op openapi.Operation) string {
	if op.Summary != "" {
		return op.Summary
	}
	if op.Description != "" {
		return op.Description
	}
	verb, ok := verbTable[op.Method]
	if !ok {
		verb = "Execute " + op.Method + " on"
	}
	pathByX := strings.ReplaceAll(strings.ReplaceAll(op.Path, "{", "by "), "}", "")
	return verb + " " + pathByX
}

// Synthesise produces a ToolRecord for a single operation.
func Synthesise(route config.RouteToolConfig, op openapi.Operation) ToolRecord {
	prefix := route.ToolPrefix
	if prefix == "" {
		prefix = route.RouteName
	}

	properties := map[string]any{}
	var required []string

	for _, p := range op.Parameters {
		converted := schema.Convert(p.Schema)
		converted = schema.WithParameterLocation(converted, p.In)
		properties[p.Name] = converted
		if p.Required {
			required = append(required, p.Name)
		}
	}

	if op.RequestBody != nil && op.RequestBody.Schema != nil {
		bodySchema := schema.Convert(op.RequestBody.Schema)
		bodySchema = schema.WithContentType(bodySchema, op.RequestBody.ContentType)
		if op.RequestBody.Description != "" {
			bodySchema["description"] = op.RequestBody.Description
		}
		properties["body"] = bodySchema
		if op.RequestBody.Required {
			required = append(required, "body")
		}
	}

	if required == nil {
		required = []string{}
	}

	inputSchema := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}

	return ToolRecord{
		Name:               ToolName(prefix, op.Method, op.Path),
		Description:        describe(op),
		InputSchema:        inputSchema,
		HTTPMethod:         op.Method,
		EndpointPath:       op.Path,
		RouteID:            route.RouteID,
		RouteName:          route.RouteName,
		RouteBase:          route.UpstreamBasePath,
		OperationID:        op.OperationID,
		AccessRequirements: route.AccessControl.RequirementsFor(op.OperationID),
	}
}

// SynthesiseRoute synthesises a ToolRecord for every operation in doc.
func SynthesiseRoute(route config.RouteToolConfig, doc *openapi.Document) []ToolRecord {
	records := make([]ToolRecord, 0, len(doc.Operations))
	for _, op := range doc.Operations {
		records = append(records, Synthesise(route, op))
	}
	return records
}
