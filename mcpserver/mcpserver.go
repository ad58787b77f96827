// Package mcpserver exposes every routed tool as a Model Context Protocol
// tool named "<backend>.<tool>", over stdio or streamable HTTP.
//
// Calls go through the same router as the batch gateway, so results,
// aliases and failure isolation are identical on both surfaces. An
// error-shaped result is returned with IsError set.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jonwraymond/toolfoundation/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/backend"
)

// Router is the subset of *router.Router the MCP surface needs.
type Router interface {
	Tools() []model.Tool
	Call(ctx context.Context, server, tool string, args map[string]any) any
}

// Options configures New.
type Options struct {
	Name    string
	Version string
	Logger  zerolog.Logger
}

// ToolName is the MCP name of a routed tool.
func ToolName(backendName, tool string) string {
	return backendName + "." + tool
}

// New builds an MCP server with one tool per routed tool.
func New(r Router, opts Options) *mcp.Server {
	if opts.Name == "" {
		opts.Name = "toolgate"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)

	for _, t := range r.Tools() {
		backendName, toolName := t.Namespace, t.Name
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		srv.AddTool(&mcp.Tool{
			Name:        ToolName(backendName, toolName),
			Title:       t.Title,
			Description: t.Description,
			InputSchema: schema,
			Annotations: t.Annotations,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, err := decodeArguments(req.Params.Arguments)
			if err != nil {
				return errorResult(map[string]any{"error": err.Error()}), nil
			}
			v := r.Call(ctx, backendName, toolName, args)
			opts.Logger.Debug().Str("server", backendName).Str("tool", toolName).Msg("mcp tool call")
			return toResult(v)
		})
	}
	return srv
}

// StreamHandler serves srv over the streamable HTTP transport.
func StreamHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// ServeStdio serves srv on stdin/stdout until ctx is done or the peer hangs up.
func ServeStdio(ctx context.Context, srv *mcp.Server) error {
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

func toResult(v any) (*mcp.CallToolResult, error) {
	if backend.IsErrorPayload(v) {
		return errorResult(v.(map[string]any)), nil
	}
	text, err := json.Marshal(v)
	if err != nil {
		return errorResult(map[string]any{"error": fmt.Sprintf("encode result: %v", err)}), nil
	}
	res := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(text)}}}
	if m, ok := v.(map[string]any); ok {
		res.StructuredContent = m
	}
	return res, nil
}

func errorResult(payload map[string]any) *mcp.CallToolResult {
	text, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		IsError: true,
	}
}
