// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/labiium/skills/pkg/config"
	"github.com/labiium/skills/pkg/errors"
	"github.com/labiium/skills/pkg/registry"
	"github.com/labiium/skills/pkg/resilience"
)

// idleHealthWindow is the interval at which the Multiplexer issues a
// health ping to a connected session (spec.md §4.2). The ping fires on
// this fixed tick whether or not the session carried traffic since the
// previous one.
const idleHealthWindow = 60 * time.Second

// Multiplexer owns one Session and one connected PeerClient per
// configured upstream, keeping the shared Registry in sync with each
// peer's tool catalog as sessions connect, degrade, and reconnect.
type Multiplexer struct {
	reg    *registry.Registry
	logger *slog.Logger

	mu      sync.RWMutex
	peers   map[string]*peer
	closeCh chan struct{}
}

type peer struct {
	cfg     config.UpstreamConfig
	session *Session
	client  *PeerClient
	breaker *resilience.CircuitBreaker
	lastUse time.Time
}

// New builds a Multiplexer bound to reg for descriptor upserts/removals.
func New(reg *registry.Registry, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		reg:     reg,
		logger:  logger,
		peers:   make(map[string]*peer),
		closeCh: make(chan struct{}),
	}
}

// Start connects every configured upstream and begins its
// reconnect-on-failure and idle-health-ping background loops.
func (m *Multiplexer) Start(ctx context.Context, upstreams []config.UpstreamConfig) {
	for _, cfg := range upstreams {
		p := &peer{
			cfg:     cfg,
			session: NewSession(cfg.Alias, cfg.Transport, 64),
			breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: cfg.Alias}),
		}
		m.mu.Lock()
		m.peers[cfg.Alias] = p
		m.mu.Unlock()
		go m.runSession(ctx, p)
	}
}

// Close tears down every peer session.
func (m *Multiplexer) Close() {
	close(m.closeCh)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.peers {
		if p.client != nil {
			_ = p.client.Close()
		}
		p.session.Transition(StateClosed)
	}
}

// Session returns the live Session for alias, or nil if unknown.
func (m *Multiplexer) Session(alias string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[alias]
	if !ok {
		return nil
	}
	return p.session
}

// CallTool routes one tool invocation to the named peer, enforcing its
// Ready state and per-session inflight cap (spec.md §4.4 peer route).
func (m *Multiplexer) CallTool(ctx context.Context, alias, name string, args map[string]any) (*gomcp.CallToolResult, error) {
	m.mu.RLock()
	p, ok := m.peers[alias]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.PeerGone, "upstream: unknown peer alias", nil).WithContext("alias", alias)
	}
	if p.session.State() != StateReady {
		return nil, errors.New(errors.PeerGone, "upstream: peer session is not ready", nil).
			WithContext("alias", alias).WithContext("state", string(p.session.State()))
	}
	if !p.session.AcquireInflight() {
		return nil, errors.New(errors.Busy, "upstream: peer inflight cap exceeded", nil).WithContext("alias", alias)
	}
	defer p.session.ReleaseInflight()

	client := p.client
	if client == nil {
		return nil, errors.New(errors.PeerGone, "upstream: peer has no active client", nil).WithContext("alias", alias)
	}
	return client.CallTool(ctx, name, args)
}

// runSession drives one peer's connect -> serve -> reconnect loop for
// the lifetime of the Multiplexer, honoring spec.md §4.2's reconnect
// backoff (capped at 60s) and re-enumerating tools on every successful
// (re)connect.
func (m *Multiplexer) runSession(ctx context.Context, p *peer) {
	backoff := resilience.DefaultRetryConfig()
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeCh:
			return
		default:
		}

		// Failed only ever leads back to Starting or Closed (session.go),
		// so every retry - whether provoked by a connect error below or by
		// a health-ping failure in serveUntilFailure - must pass through
		// Reconnect here before the next connect attempt.
		if p.session.State() == StateFailed {
			if _, ok := p.session.Reconnect(); !ok {
				return // Closed
			}
		}

		client, err := m.connect(ctx, p.cfg)
		if err != nil {
			p.session.RecordError(err)
			p.session.Transition(StateFailed)
			m.logger.Warn("upstream connect failed", "alias", p.cfg.Alias, "error", err)
			wait := resilience.NextBackoff(attempt, backoff)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-m.closeCh:
				return
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		p.client = client
		p.session.Transition(StateReady)
		m.logger.Info("upstream connected", "alias", p.cfg.Alias)

		if err := m.enumerateTools(ctx, p); err != nil {
			m.logger.Warn("upstream tool enumeration failed", "alias", p.cfg.Alias, "error", err)
		}

		m.serveUntilFailure(ctx, p)

		m.reg.RemovePeer(p.cfg.Alias)
		_ = p.client.Close()
		p.client = nil
		if !p.session.Transition(StateFailed) {
			return // Closed
		}
	}
}

func (m *Multiplexer) connect(ctx context.Context, cfg config.UpstreamConfig) (*PeerClient, error) {
	timeout := 10 * time.Second
	switch cfg.Transport {
	case "", "stdio":
		return NewStdioPeerClient(ctx, cfg.Command, cfg.Args, cfg.Env, timeout)
	case "http":
		headers := map[string]string{}
		if cfg.Auth.Type == "bearer" {
			headers["Authorization"] = "Bearer " + envOrLiteral(cfg.Auth.Env)
		}
		return NewHTTPPeerClient(ctx, cfg.URL, headers, timeout)
	default:
		return nil, errors.New(errors.ProtocolError, "upstream: unsupported transport", nil).
			WithContext("transport", cfg.Transport)
	}
}

// serveUntilFailure blocks issuing periodic health pings until the
// peer fails a ping or the multiplexer is torn down.
func (m *Multiplexer) serveUntilFailure(ctx context.Context, p *peer) {
	ticker := time.NewTicker(idleHealthWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeCh:
			return
		case <-ticker.C:
			err := p.breaker.Call(ctx, func() error {
				return p.client.Ping(ctx)
			})
			if err != nil {
				p.session.RecordError(err)
				p.session.Transition(StateDegraded)
				m.logger.Warn("upstream health ping failed", "alias", p.cfg.Alias, "error", err)
				return
			}
			if p.session.State() == StateDegraded {
				p.session.Transition(StateReady)
			}
		}
	}
}

// enumerateTools lists the peer's tools and upserts a Descriptor per
// tool into the shared registry under the current generation.
func (m *Multiplexer) enumerateTools(ctx context.Context, p *peer) error {
	tools, err := p.client.ListTools(ctx)
	if err != nil {
		return err
	}
	generation := p.session.Generation()
	for _, tool := range tools {
		schema, err := schemaFromTool(tool)
		if err != nil {
			m.logger.Warn("upstream tool schema conversion failed", "alias", p.cfg.Alias, "tool", tool.Name, "error", err)
			continue
		}
		digest, err := registry.CanonicalSchemaDigest(schema, "1.0.0")
		if err != nil {
			return err
		}
		fqn := toolFQN(p.cfg.Alias, tool.Name)
		desc := &registry.Descriptor{
			Kind:           registry.KindTool,
			Name:           tool.Name,
			FQN:            fqn,
			Version:        "1.0.0",
			SchemaDigest:   digest,
			CallableID:     registry.ToolCallableID(p.cfg.Alias, tool.Name, digest),
			InputSchema:    schema,
			Signature:      registry.DeriveSignature(schema),
			Description:    tool.Description,
			Tags:           p.cfg.Tags,
			RiskTier:       inferRiskTier(tool.Name),
			SandboxPolicy:  p.cfg.SandboxConfig,
			Source:         registry.SourceLocator{PeerAlias: p.cfg.Alias, PeerLocalName: tool.Name},
			PeerGeneration: generation,
		}
		if err := m.reg.Upsert(desc); err != nil {
			m.logger.Warn("upstream descriptor upsert failed", "alias", p.cfg.Alias, "tool", tool.Name, "error", err)
		}
	}
	return nil
}

// toolFQN builds a peer tool's fully-qualified name, `<peer-alias>/<name>`
// (spec.md §3 and GLOSSARY - skills use a dot, tools use a slash).
func toolFQN(alias, name string) string {
	return alias + "/" + name
}

func schemaFromTool(tool gomcp.Tool) (*registry.Schema, error) {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	schema := &registry.Schema{Raw: asMap}
	if t, ok := asMap["type"].(string); ok {
		schema.Type = t
	}
	if req, ok := asMap["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if props, ok := asMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*registry.Schema, len(props))
		for name, raw := range props {
			propMap, _ := raw.(map[string]any)
			prop := &registry.Schema{Raw: propMap}
			if t, ok := propMap["type"].(string); ok {
				prop.Type = t
			}
			if d, ok := propMap["default"]; ok {
				prop.Default = d
			}
			if enum, ok := propMap["enum"].([]any); ok {
				prop.Enum = enum
			}
			schema.Properties[name] = prop
		}
	}
	return schema, nil
}

// inferRiskTier assigns a conservative default risk tier from a tool's
// name until the peer supplies an explicit annotation (spec.md §3 open
// question: peers rarely publish risk metadata today).
func inferRiskTier(name string) registry.RiskTier {
	switch {
	case containsAny(name, "delete", "remove", "drop", "destroy"):
		return registry.RiskDestructive
	case containsAny(name, "write", "create", "update", "put", "set"):
		return registry.RiskWrite
	case containsAny(name, "fetch", "http", "request", "download"):
		return registry.RiskNetwork
	default:
		return registry.RiskReadOnly
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func envOrLiteral(nameOrValue string) string {
	if nameOrValue == "" {
		return ""
	}
	if v, ok := os.LookupEnv(nameOrValue); ok {
		return v
	}
	return nameOrValue
}
