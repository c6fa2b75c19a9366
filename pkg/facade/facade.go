// SPDX-License-Identifier: Apache-2.0

// Package facade implements the Meta-tool façade (spec.md §4.6): a thin,
// typed layer exposing exactly four operations to clients over
// mark3labs/mcp-go's own server — search, schema, exec, and manage —
// each a direct adapter over the registry, execution engine, and skill
// store beneath it.
package facade

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/labiium/skills/pkg/execengine"
	"github.com/labiium/skills/pkg/registry"
	"github.com/labiium/skills/pkg/skills"
)

// Server wraps an mcp-go MCPServer, registering the broker's own four
// meta-tools rather than forwarding a peer's tool catalog directly
// (spec.md §1: the broker is itself an MCP server to its clients).
type Server struct {
	mcpServer *server.MCPServer
	reg       *registry.Registry
	engine    *execengine.Engine
	skills    *skills.Store
	logger    *slog.Logger
}

// NewServer builds the façade and registers search/schema/exec/manage.
func NewServer(name, version string, reg *registry.Registry, engine *execengine.Engine, skillsStore *skills.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		reg:       reg,
		engine:    engine,
		skills:    skillsStore,
		logger:    logger,
	}
	s.register("search", "Search the registry of tools and skills by text, regex, or fuzzy match.", s.handleSearch)
	s.register("schema", "Fetch a callable's input/output schema or derived signature.", s.handleSchema)
	s.register("exec", "Execute a callable by id, optionally as a dry run.", s.handleExec)
	s.register("manage", "Create, get, update, or delete a locally authored skill.", s.handleManage)
	return s
}

func (s *Server) register(name, description string, handler func(context.Context, map[string]any) (any, error)) {
	tool := mcp.NewTool(name, mcp.WithDescription(description))
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		value, err := handler(ctx, args)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(value)
	})
}

// ServeStdio serves the façade's four meta-tools over standard streams
// — the broker's client-facing transport, independent of however it
// talks to upstream peers.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return errorResult(err), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(payload)}},
	}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: err.Error()}},
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// intPtrArg returns nil when key is absent, distinguishing an omitted
// argument from an explicit zero value (used for timeout_ms, where the
// two mean different things — spec.md §8).
func intPtrArg(args map[string]any, key string) *int {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	default:
		return nil
	}
}

func mapArg(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
