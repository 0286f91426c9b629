// Package dispatcher binds MCP tools/call arguments to the synthesised
// HTTP request for a tool's upstream route, invokes it, and maps the HTTP
// result to an MCP content envelope (spec §4.9).
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Kong/mcp-bridge/internal/toolsynth"
)

// DefaultTimeout is the bounded timeout for an upstream call (spec §4.9
// step 4 / §5).
const DefaultTimeout = 10 * time.Second

// ContentItem is one entry of an MCP tools/call "content" array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the MCP tools/call result shape (spec §6).
type Result struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// UpstreamError carries the phase in which a call failed ("encode body",
// "build request", "upstream request" or "body read"), so the JSON-RPC
// layer can report it in data.detail.
type UpstreamError struct {
	Phase string
	Err   error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("%s: %v", e.Phase, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Dispatcher executes tool calls against upstream HTTP routes.
type Dispatcher struct {
	client *http.Client
}

// New creates a Dispatcher with the given per-call timeout (DefaultTimeout
// if zero).
func New(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

// parameterLocation reads the x-parameter-in marker schema.Convert attaches.
func parameterLocation(propSchema any) string {
	m, ok := propSchema.(map[string]any)
	if !ok {
		return ""
	}
	loc, _ := m["x-parameter-in"].(string)
	return loc
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return strings.Trim(string(b), `"`)
	}
}

// Execute implements spec §4.9's binding + invocation + mapping algorithm.
func (d *Dispatcher) Execute(ctx context.Context, tool toolsynth.ToolRecord, arguments map[string]any) (*Result, error) {
	properties, _ := tool.InputSchema["properties"].(map[string]any)

	path := tool.EndpointPath
	query := url.Values{}
	headers := http.Header{}
	consumed := map[string]struct{}{"body": {}}

	for name, propSchema := range properties {
		if name == "body" {
			continue
		}
		val, present := arguments[name]
		if !present {
			continue
		}
		consumed[name] = struct{}{}

		switch parameterLocation(propSchema) {
		case "path":
			encoded := url.PathEscape(stringify(val))
			path = strings.ReplaceAll(path, "{"+name+"}", encoded)
		case "query":
			query.Set(name, stringify(val))
		case "header":
			headers.Set(name, stringify(val))
		}
	}

	fullPath := tool.RouteBase + path
	if encoded := query.Encode(); encoded != "" {
		fullPath += "?" + encoded
	}

	var bodyReader io.Reader
	needsBody := tool.HTTPMethod == http.MethodPost || tool.HTTPMethod == http.MethodPut || tool.HTTPMethod == http.MethodPatch
	if needsBody {
		if explicit, ok := arguments["body"]; ok {
			b, err := json.Marshal(explicit)
			if err != nil {
				return nil, &UpstreamError{Phase: "encode body", Err: err}
			}
			bodyReader = bytes.NewReader(b)
		} else if _, hasBodySchema := properties["body"]; hasBodySchema {
			remainder := make(map[string]any)
			for k, v := range arguments {
				if _, skip := consumed[k]; skip {
					continue
				}
				remainder[k] = v
			}
			if len(remainder) > 0 {
				b, err := json.Marshal(remainder)
				if err != nil {
					return nil, &UpstreamError{Phase: "encode body", Err: err}
				}
				bodyReader = bytes.NewReader(b)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, tool.HTTPMethod, fullPath, bodyReader)
	if err != nil {
		return nil, &UpstreamError{Phase: "build request", Err: err}
	}
	for k := range headers {
		req.Header.Set(k, headers.Get(k))
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Phase: "upstream request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Phase: "body read", Err: err}
	}

	return mapResponse(resp.StatusCode, resp.Header.Get("Content-Type"), respBody), nil
}

// mapResponse implements spec §4.9 step 5.
func mapResponse(status int, contentType string, body []byte) *Result {
	if status >= 400 {
		return &Result{
			Content: []ContentItem{{Type: "text", Text: fmt.Sprintf("HTTP %d Error: %s", status, body)}},
			IsError: true,
		}
	}

	if strings.Contains(contentType, "application/json") || json.Valid(body) {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			canonical, err := json.Marshal(v)
			if err == nil {
				return &Result{Content: []ContentItem{{Type: "text", Text: string(canonical)}}}
			}
		}
	}

	return &Result{Content: []ContentItem{{Type: "text", Text: string(body)}}}
}
