package dispatcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Kong/mcp-bridge/internal/dispatcher"
	"github.com/Kong/mcp-bridge/internal/toolsynth"
)

func TestExecute_PathAndQueryBinding(t *testing.T) {
	var gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	tool := toolsynth.ToolRecord{
		Name:         "kong_admin_get_plugins_id",
		HTTPMethod:   http.MethodGet,
		EndpointPath: "/plugins/{id}",
		RouteBase:    upstream.URL,
		InputSchema: map[string]any{
			"properties": map[string]any{
				"id":     map[string]any{"type": "string", "x-parameter-in": "path"},
				"filter": map[string]any{"type": "string", "x-parameter-in": "query"},
			},
		},
	}

	d := dispatcher.New(0)
	result, err := d.Execute(context.Background(), tool, map[string]any{"id": "abc123", "filter": "enabled"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if gotPath != "/plugins/abc123" {
		t.Fatalf("expected path binding, got %q", gotPath)
	}
	if gotQuery != "filter=enabled" {
		t.Fatalf("expected query binding, got %q", gotQuery)
	}
}

func TestExecute_ExplicitBodyFieldMarshalled(t *testing.T) {
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"new"}`))
	}))
	defer upstream.Close()

	tool := toolsynth.ToolRecord{
		HTTPMethod:   http.MethodPost,
		EndpointPath: "/widgets",
		RouteBase:    upstream.URL,
		InputSchema: map[string]any{
			"properties": map[string]any{
				"body": map[string]any{"type": "object"},
			},
		},
	}

	d := dispatcher.New(0)
	result, err := d.Execute(context.Background(), tool, map[string]any{"body": map[string]any{"name": "widget"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if len(gotBody) == 0 {
		t.Fatal("expected a request body to be sent upstream")
	}
}

func TestExecute_UpstreamErrorStatusMapsToIsError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`not found`))
	}))
	defer upstream.Close()

	tool := toolsynth.ToolRecord{
		HTTPMethod:   http.MethodGet,
		EndpointPath: "/missing",
		RouteBase:    upstream.URL,
		InputSchema:  map[string]any{"properties": map[string]any{}},
	}

	d := dispatcher.New(0)
	result, err := d.Execute(context.Background(), tool, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected HTTP 404 to map to IsError result")
	}
}

func TestExecute_UnreachableUpstreamReturnsUpstreamError(t *testing.T) {
	tool := toolsynth.ToolRecord{
		HTTPMethod:   http.MethodGet,
		EndpointPath: "/x",
		RouteBase:    "http://127.0.0.1:1",
		InputSchema:  map[string]any{"properties": map[string]any{}},
	}

	d := dispatcher.New(0)
	_, err := d.Execute(context.Background(), tool, map[string]any{})
	if err == nil {
		t.Fatal("expected error for unreachable upstream")
	}
	upstreamErr, ok := err.(*dispatcher.UpstreamError)
	if !ok {
		t.Fatalf("expected *UpstreamError, got %T", err)
	}
	if upstreamErr.Phase != "upstream request" {
		t.Fatalf("unexpected phase: %q", upstreamErr.Phase)
	}
}
