// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"time"

	gomcp "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	initTimeout = 10 * time.Second
)

// PeerClient wraps a mark3labs/mcp-go client with the request timeout
// this broker enforces on every upstream call; retry and backoff are
// the Multiplexer's concern, not the client's, since only the
// Multiplexer knows a session's current generation and Degraded state.
type PeerClient struct {
	raw     gomcp.MCPClient
	timeout time.Duration
}

// NewStdioPeerClient launches command as a subprocess speaking MCP over
// stdio and completes the initialize handshake.
func NewStdioPeerClient(ctx context.Context, command string, args []string, env map[string]string, timeout time.Duration) (*PeerClient, error) {
	envPairs := make([]string, 0, len(env))
	for k, v := range env {
		envPairs = append(envPairs, k+"="+v)
	}
	c, err := gomcp.NewStdioMCPClient(command, envPairs, args...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	if err := initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &PeerClient{raw: c, timeout: timeout}, nil
}

// NewHTTPPeerClient connects to url over MCP's streamable-HTTP
// transport and completes the initialize handshake.
func NewHTTPPeerClient(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (*PeerClient, error) {
	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}
	c, err := gomcp.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	if err := initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &PeerClient{raw: c, timeout: timeout}, nil
}

func initialize(ctx context.Context, c gomcp.MCPClient) error {
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "mcp-tool-broker",
		Version: "0.1.0",
	}
	_, err := c.Initialize(initCtx, req)
	return err
}

// ListTools enumerates the peer's current tool catalog.
func (c *PeerClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.raw.ListTools(reqCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// CallTool invokes name on the peer with args.
func (c *PeerClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.raw.CallTool(reqCtx, req)
}

// Ping issues a protocol-level no-op used by the idle-window health
// check (spec.md §4.2).
func (c *PeerClient) Ping(ctx context.Context) error {
	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.raw.Ping(reqCtx)
}

// Close releases the underlying transport (subprocess or HTTP client).
func (c *PeerClient) Close() error {
	return c.raw.Close()
}

func (c *PeerClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
