// Package mcp implements the MCP method handlers dispatched by method name
// from the JSON-RPC engine: initialize, tools/list, tools/call,
// notifications/initialized, plus the GET capability-advertisement endpoint
// (spec §4.8).
package mcp

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Kong/mcp-bridge/internal/access"
	"github.com/Kong/mcp-bridge/internal/audit"
	"github.com/Kong/mcp-bridge/internal/config"
	"github.com/Kong/mcp-bridge/internal/dispatcher"
	"github.com/Kong/mcp-bridge/internal/jsonrpc"
	"github.com/Kong/mcp-bridge/internal/metrics"
	"github.com/Kong/mcp-bridge/internal/oauth"
	"github.com/Kong/mcp-bridge/internal/registry"
	"github.com/Kong/mcp-bridge/internal/toolsynth"
)

const protocolVersion = "2024-11-05"

// ServerInfo is the {name, version} object MCP clients expect on
// initialize/capability discovery.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Handler wires the tool registry, access filter, OAuth validator, execution
// dispatcher and audit log into the MCP method surface. One Handler serves
// the whole /mcp endpoint; a reload publishes a brand new *Handler rather
// than mutating an existing one, matching the config/registry atomic-swap
// discipline (spec §5).
type Handler struct {
	Registry   *registry.Registry
	Server     config.ServerConfig
	Validator  *oauth.Validator
	Dispatcher *dispatcher.Dispatcher
	Audit      *audit.Service
	Logger     *zap.Logger
}

// Capabilities implements the GET /mcp capability-advertisement response.
func (h *Handler) Capabilities() map[string]any {
	return map[string]any{
		"capabilities": map[string]any{"tools": map[string]any{}},
		"serverInfo":   ServerInfo{Name: h.Server.ServerName, Version: h.Server.ServerVersion},
	}
}

// Outcome is the result of handling one JSON-RPC request: the response to
// write (nil for notifications) and the HTTP status the transport should
// use, per spec §7's per-error-kind status table.
type Outcome struct {
	Response   *jsonrpc.Response
	HTTPStatus int
}

// HandleRequest dispatches req by method and returns the Outcome. claims is
// nil when OAuth is disabled; the caller is responsible for performing
// bearer-token validation before calling HandleRequest (an AuthFailed never
// reaches method dispatch — see spec §4.8 "Auth gating").
func (h *Handler) HandleRequest(ctx context.Context, req jsonrpc.Request, claims access.ClaimSet) Outcome {
	notification := req.IsNotification() || req.Method == "notifications/initialized"

	var result any
	var rpcErr *jsonrpc.Error
	status := 200

	switch req.Method {
	case "initialize":
		result = h.handleInitialize()
	case "notifications/initialized":
		// accepted, no response body regardless of id (spec §4.8)
	case "tools/list":
		result = h.handleToolsList(claims)
	case "tools/call":
		result, rpcErr, status = h.handleToolsCall(ctx, req.Params, claims)
	default:
		rpcErr = &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found"}
	}

	if notification {
		return Outcome{Response: nil, HTTPStatus: 200}
	}
	if rpcErr != nil {
		return Outcome{Response: &jsonrpc.Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}, HTTPStatus: status}
	}
	return Outcome{Response: &jsonrpc.Response{JSONRPC: "2.0", ID: req.ID, Result: result}, HTTPStatus: status}
}

func (h *Handler) handleInitialize() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": ServerInfo{Name: h.Server.ServerName, Version: h.Server.ServerVersion},
	}
}

func (h *Handler) handleToolsList(claims access.ClaimSet) map[string]any {
	records := h.Registry.List(claims)
	return map[string]any{"tools": registry.Project(records)}
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// handleToolsCall implements spec §4.8's tools/call contract, including the
// literal error shapes from §8 scenarios S5 and S6.
func (h *Handler) handleToolsCall(ctx context.Context, rawParams json.RawMessage, claims access.ClaimSet) (any, *jsonrpc.Error, int) {
	var params toolsCallParams
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, &jsonrpc.Error{
				Code:    jsonrpc.CodeInvalidParams,
				Message: "Invalid params",
				Data:    map[string]string{"detail": "params must decode to {name, arguments}"},
			}, 200
		}
	}
	if params.Name == "" {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.CodeInvalidParams,
			Message: "Invalid params",
			Data:    map[string]string{"detail": "Missing tool name"},
		}, 200
	}

	tool, lookupErr := h.Registry.Lookup(params.Name, claims)
	if lookupErr != nil {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.CodeAuthFailed,
			Message: "Tool not found or access denied",
			Data:    map[string]string{"detail": lookupErr.Error()},
		}, 404
	}

	arguments := params.Arguments
	if arguments == nil {
		arguments = map[string]any{}
	}

	start := time.Now()
	result, dispatchErr := h.Dispatcher.Execute(ctx, tool, arguments)
	latency := time.Since(start)

	if dispatchErr != nil {
		metrics.ObserveToolCall(tool.Name, latency, true)
		h.record(tool, claims, 0, false, dispatchErr.Error())
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.CodeUpstreamFailed,
			Message: "Tool execution failed",
			Data:    map[string]string{"detail": dispatchErr.Error()},
		}, 500
	}

	metrics.ObserveToolCall(tool.Name, latency, result.IsError)
	h.record(tool, claims, statusFromResult(result.IsError), !result.IsError, "")

	return result, nil, 200
}

func statusFromResult(isErr bool) int {
	if isErr {
		return 502
	}
	return 200
}

// record writes a best-effort audit entry for one tools/call invocation.
func (h *Handler) record(tool toolsynth.ToolRecord, claims access.ClaimSet, statusCode int, success bool, errMsg string) {
	if h.Audit == nil {
		return
	}
	h.Audit.Log(audit.Record{
		Timestamp:  time.Now().UTC(),
		ToolName:   tool.Name,
		RouteID:    tool.RouteID,
		Subject:    subjectOf(claims),
		Success:    success,
		StatusCode: statusCode,
		ErrorMsg:   errMsg,
	})
}

func subjectOf(claims access.ClaimSet) string {
	if claims == nil {
		return ""
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
