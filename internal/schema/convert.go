// Package schema converts OpenAPI/Swagger schema fragments into JSON-Schema
// fragments suitable for an MCP tool's inputSchema. Conversion never fails:
// unrecognised constructs are copied through verbatim or dropped, since the
// tool synthesiser must be able to degrade to a permissive schema rather
// than abort (spec §3 ToolRecord invariants).
package schema

// scalarKeys are copied straight through when present, regardless of type.
var scalarKeys = []string{
	"type", "format", "description", "default", "example", "enum",
	"minLength", "maxLength", "pattern",
	"minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum", "multipleOf",
	"minItems", "maxItems", "uniqueItems",
	"additionalProperties",
}

// Convert maps an OpenAPI/Swagger schema object into a JSON-Schema
// fragment, recursing into "items" (arrays) and "properties" (objects).
func Convert(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := map[string]any{}

	for _, key := range scalarKeys {
		if v, ok := src[key]; ok {
			out[key] = v
		}
	}

	if items, ok := src["items"].(map[string]any); ok {
		out["items"] = Convert(items)
	}

	if props, ok := src["properties"].(map[string]any); ok {
		converted := make(map[string]any, len(props))
		for name, raw := range props {
			if propSchema, ok := raw.(map[string]any); ok {
				converted[name] = Convert(propSchema)
			}
		}
		out["properties"] = converted
	}

	if required, ok := src["required"].([]any); ok {
		out["required"] = required
	} else if required, ok := src["required"].([]string); ok {
		out["required"] = required
	}

	return out
}

// WithParameterLocation attaches the spec's "x-parameter-in" marker so the
// execution dispatcher can later recover where a parameter binds (path,
// query, header) without re-consulting the original OpenAPI document.
func WithParameterLocation(converted map[string]any, in string) map[string]any {
	if converted == nil {
		converted = map[string]any{}
	}
	if in != "" {
		converted["x-parameter-in"] = in
	}
	return converted
}

// WithContentType attaches the "x-content-type" marker when a non-default
// media type was selected for a request body (§4.2).
func WithContentType(converted map[string]any, contentType string) map[string]any {
	if converted == nil {
		converted = map[string]any{}
	}
	if contentType != "" && contentType != "application/json" {
		converted["x-content-type"] = contentType
	}
	return converted
}
