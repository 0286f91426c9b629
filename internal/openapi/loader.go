// Package openapi parses an inline OpenAPI 3.x or Swagger 2.0 document and
// enumerates its operations. It is deliberately permissive: unknown or
// malformed constructs degrade into a bare operation rather than aborting
// the whole document, matching the synthesiser's "never fail synthesis"
// invariant one layer up.
package openapi

import (
	"encoding/json"
	"fmt"
	"sort"
)

// httpMethods is the closed set of methods the loader enumerates, in a
// stable order so that two loads of the same document yield Operations in
// the same relative order (§4.1: "order is irrelevant but stable").
var httpMethods = []string{"get", "post", "put", "patch", "delete", "head", "options"}

// Parameter is a single OpenAPI/Swagger parameter.
type Parameter struct {
	Name     string
	In       string // path, query, header
	Required bool
	Schema   map[string]any
}

// RequestBody carries the parsed request body schema, if any.
type RequestBody struct {
	Required    bool
	Description string
	ContentType string
	Schema      map[string]any
}

// Operation is one HTTP-method × path combination extracted from the
// document.
type Operation struct {
	Path        string
	Method      string // upper-case: GET, POST, ...
	OperationID string
	Summary     string
	Description string
	Parameters  []Parameter
	RequestBody *RequestBody
	Tags        []string
}

// Document is the parsed OpenAPI/Swagger document.
type Document struct {
	Operations []Operation
}

// rawDoc is a permissive representation of the parts of an OpenAPI 3.x /
// Swagger 2.0 document the loader inspects.
type rawDoc struct {
	OpenAPI string                    `json:"openapi"`
	Swagger string                    `json:"swagger"`
	Paths   map[string]map[string]any `json:"paths"`
}

// Parse parses a JSON-encoded OpenAPI 3.x or Swagger 2.0 document. It
// rejects empty input and documents lacking a version marker or a paths
// object; everything else degrades to a best-effort Operation rather than
// failing. A paths entry that is not a JSON object fails decoding of the
// whole document.
func Parse(raw []byte) (*Document, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("openapi: empty document")
	}

	var doc rawDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("openapi: invalid JSON: %w", err)
	}
	if doc.OpenAPI == "" && doc.Swagger == "" {
		return nil, fmt.Errorf("openapi: document has neither 'openapi' nor 'swagger' version marker")
	}
	if doc.Paths == nil {
		return nil, fmt.Errorf("openapi: document has no 'paths' object")
	}
	isSwagger2 := doc.Swagger != ""

	paths := make([]string, 0, len(doc.Paths))
	for path := range doc.Paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var ops []Operation
	for _, path := range paths {
		item := doc.Paths[path]
		for _, method := range httpMethods {
			raw, ok := item[method]
			if !ok {
				continue
			}
			opMap, ok := raw.(map[string]any)
			if !ok {
				opMap = map[string]any{}
			}
			ops = append(ops, parseOperation(path, method, opMap, isSwagger2))
		}
	}

	return &Document{Operations: ops}, nil
}

func parseOperation(path, method string, opMap map[string]any, isSwagger2 bool) Operation {
	op := Operation{
		Path:   path,
		Method: upperMethod(method),
	}
	op.OperationID, _ = opMap["operationId"].(string)
	op.Summary, _ = opMap["summary"].(string)
	op.Description, _ = opMap["description"].(string)
	op.Tags = stringSlice(opMap["tags"])

	if rawParams, ok := opMap["parameters"].([]any); ok {
		for _, rp := range rawParams {
			pm, ok := rp.(map[string]any)
			if !ok {
				continue
			}
			op.Parameters = append(op.Parameters, parseParameter(pm, isSwagger2))
		}
	}

	if isSwagger2 {
		op.RequestBody = parseSwaggerBody(opMap)
	} else {
		op.RequestBody = parseRequestBody(opMap)
	}

	return op
}

func parseParameter(pm map[string]any, isSwagger2 bool) Parameter {
	name, _ := pm["name"].(string)
	in, _ := pm["in"].(string)
	required, _ := pm["required"].(bool)

	var schema map[string]any
	if s, ok := pm["schema"].(map[string]any); ok {
		schema = s
	} else if isSwagger2 {
		// Swagger 2.0 inline-typed parameters carry type/format/etc
		// directly on the parameter object instead of under "schema".
		schema = map[string]any{}
		for _, key := range []string{"type", "format", "enum", "default", "minimum", "maximum",
			"minLength", "maxLength", "pattern", "items", "exclusiveMinimum", "exclusiveMaximum",
			"multipleOf", "minItems", "maxItems", "uniqueItems"} {
			if v, ok := pm[key]; ok {
				schema[key] = v
			}
		}
	}
	if schema == nil {
		schema = map[string]any{}
	}
	if desc, ok := pm["description"].(string); ok && desc != "" {
		if _, exists := schema["description"]; !exists {
			schema["description"] = desc
		}
	}

	return Parameter{Name: name, In: in, Required: required, Schema: schema}
}

// preferredContentTypes lists content types in preference order (§4.2).
var preferredContentTypes = []string{"application/json", "application/vnd.api+json", "text/json"}

func parseRequestBody(opMap map[string]any) *RequestBody {
	rb, ok := opMap["requestBody"].(map[string]any)
	if !ok {
		return nil
	}
	required, _ := rb["required"].(bool)
	description, _ := rb["description"].(string)

	content, ok := rb["content"].(map[string]any)
	if !ok || len(content) == 0 {
		return &RequestBody{Required: required, Description: description}
	}

	chosenType := ""
	for _, ct := range preferredContentTypes {
		if _, ok := content[ct]; ok {
			chosenType = ct
			break
		}
	}
	if chosenType == "" {
		for ct := range content {
			chosenType = ct
			break
		}
	}

	var schema map[string]any
	if mediaType, ok := content[chosenType].(map[string]any); ok {
		if s, ok := mediaType["schema"].(map[string]any); ok {
			schema = s
		}
	}

	return &RequestBody{
		Required:    required,
		Description: description,
		ContentType: chosenType,
		Schema:      schema,
	}
}

// parseSwaggerBody handles Swagger 2.0's separate "body" parameter instead
// of a requestBody object.
func parseSwaggerBody(opMap map[string]any) *RequestBody {
	rawParams, ok := opMap["parameters"].([]any)
	if !ok {
		return nil
	}
	for _, rp := range rawParams {
		pm, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		if in, _ := pm["in"].(string); in != "body" {
			continue
		}
		required, _ := pm["required"].(bool)
		description, _ := pm["description"].(string)
		schema, _ := pm["schema"].(map[string]any)
		return &RequestBody{Required: required, Description: description, Schema: schema}
	}
	return nil
}

func upperMethod(m string) string {
	switch m {
	case "get":
		return "GET"
	case "post":
		return "POST"
	case "put":
		return "PUT"
	case "patch":
		return "PATCH"
	case "delete":
		return "DELETE"
	case "head":
		return "HEAD"
	case "options":
		return "OPTIONS"
	default:
		return m
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
