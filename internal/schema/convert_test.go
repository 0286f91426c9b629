package schema_test

import (
	"testing"

	"github.com/Kong/mcp-bridge/internal/schema"
)

func TestConvert_NilSourceYieldsEmptyObject(t *testing.T) {
	out := schema.Convert(nil)
	if len(out) != 0 {
		t.Fatalf("expected empty map, got %v", out)
	}
}

func TestConvert_ScalarKeysCopiedThrough(t *testing.T) {
	src := map[string]any{
		"type":        "string",
		"format":      "uuid",
		"description": "an id",
		"enum":        []any{"a", "b"},
		"unknownKey":  "dropped",
	}
	out := schema.Convert(src)

	if out["type"] != "string" || out["format"] != "uuid" || out["description"] != "an id" {
		t.Fatalf("scalar keys not copied: %v", out)
	}
	if _, present := out["unknownKey"]; present {
		t.Fatalf("unrecognised key should be dropped, got %v", out)
	}
}

func TestConvert_RecursesIntoItemsAndProperties(t *testing.T) {
	src := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		},
	}
	out := schema.Convert(src)
	items, ok := out["items"].(map[string]any)
	if !ok {
		t.Fatalf("items not converted: %v", out)
	}
	props, ok := items["properties"].(map[string]any)
	if !ok {
		t.Fatalf("nested properties not converted: %v", items)
	}
	name, ok := props["name"].(map[string]any)
	if !ok || name["type"] != "string" {
		t.Fatalf("nested property schema mismatch: %v", props)
	}
}

func TestWithParameterLocation_SetsMarker(t *testing.T) {
	out := schema.WithParameterLocation(map[string]any{"type": "string"}, "path")
	if out["x-parameter-in"] != "path" {
		t.Fatalf("expected x-parameter-in=path, got %v", out)
	}
}

func TestWithParameterLocation_EmptyLocationLeavesUnset(t *testing.T) {
	out := schema.WithParameterLocation(map[string]any{"type": "string"}, "")
	if _, present := out["x-parameter-in"]; present {
		t.Fatalf("expected no marker, got %v", out)
	}
}

func TestWithContentType_SkipsDefaultJSON(t *testing.T) {
	out := schema.WithContentType(map[string]any{}, "application/json")
	if _, present := out["x-content-type"]; present {
		t.Fatalf("default content type should not be marked, got %v", out)
	}
}

func TestWithContentType_MarksNonDefault(t *testing.T) {
	out := schema.WithContentType(map[string]any{}, "multipart/form-data")
	if out["x-content-type"] != "multipart/form-data" {
		t.Fatalf("expected x-content-type=multipart/form-data, got %v", out)
	}
}
