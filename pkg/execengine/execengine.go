// SPDX-License-Identifier: Apache-2.0

// Package execengine implements the six-step exec algorithm (spec.md
// §4.4): resolve a callable id against a fresh Registry snapshot,
// validate arguments against its input schema, enforce risk-tier
// consent and skill tool-policy, honor dry_run, route the call to a
// peer session or a sandboxed skill entrypoint, and persist an
// Execution Record regardless of outcome.
package execengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/labiium/skills/pkg/errors"
	"github.com/labiium/skills/pkg/persistence"
	"github.com/labiium/skills/pkg/registry"
	"github.com/labiium/skills/pkg/sandbox"
	"github.com/labiium/skills/pkg/skills"
	"github.com/labiium/skills/pkg/upstream"
)

// Route is the closed set of paths a Result carries.
type Route string

const (
	RoutePeer          Route = "peer"
	RouteSkillSandbox   Route = "skill_sandbox"
	RouteSkillPrompted Route = "skill_prompted"
)

// Request is the exec meta-tool's input (spec.md §4.4). TimeoutMs is a
// pointer so an omitted deadline (nil) can fall back to the fixed
// 30-second default, distinct from an explicit timeout_ms=0 (spec.md §8: the
// latter must produce ErrorKind::Timeout before any peer/sandbox
// contact, the former must not).
type Request struct {
	CallableID     string
	Arguments      map[string]any
	TimeoutMs      *int
	DryRun         bool
	Consent        string
	IncludeTiming  bool
	IncludeSteps   bool
}

// Result is what the exec meta-tool returns to the caller. Unlike
// persistence.Record, which is the audit-trail shape, Result carries
// the caller-facing payload and only the trace fields the request
// opted into.
type Result struct {
	CallableID string
	FQN        string
	Route      Route
	DryRun     bool
	Status     persistence.Status
	Arguments  map[string]any // normalized (defaults filled)
	Value      any            // structured result on success
	ErrorKind  errors.Kind
	ErrorText  string
	Steps      []string // present only when IncludeSteps
	DurationMs int64    // present only when IncludeTiming
}

// Engine wires the four §4.1-§4.5 components together into the
// exec surface the façade delegates to.
type Engine struct {
	reg      *registry.Registry
	store    persistence.Store
	mux      *upstream.Multiplexer
	sandboxes *sandbox.Registry
	skillsStore *skills.Store
	validator *validatorCache
	logger   *slog.Logger
}

// New builds an Engine. store may be nil, in which case no audit record
// is written and nothing is logged about it (used by tests and
// by a broker configured with persistence.enabled = false).
func New(reg *registry.Registry, store persistence.Store, mux *upstream.Multiplexer, sandboxes *sandbox.Registry, skillsStore *skills.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reg:         reg,
		store:       store,
		mux:         mux,
		sandboxes:   sandboxes,
		skillsStore: skillsStore,
		validator:   newValidatorCache(),
		logger:      logger,
	}
}

// Exec runs the full algorithm and always attempts to persist an
// Execution Record before returning, even on failure.
func (e *Engine) Exec(ctx context.Context, req Request) (Result, error) {
	recordID := uuid.NewString()
	startedAt := time.Now()
	var steps []string
	step := func(s string) {
		if req.IncludeSteps {
			steps = append(steps, s)
		}
	}

	result, execErr := e.exec(ctx, req, step)
	result.DurationMs = time.Since(startedAt).Milliseconds()
	if req.IncludeSteps {
		result.Steps = steps
	}
	if !req.IncludeTiming {
		result.DurationMs = 0
	}

	e.persist(ctx, recordID, req, result, execErr, startedAt)
	return result, execErr
}

func (e *Engine) exec(ctx context.Context, req Request, step func(string)) (Result, error) {
	// Step 1: resolve against a fresh snapshot.
	step("resolve")
	desc, err := e.reg.Get(req.CallableID)
	if err != nil {
		return Result{CallableID: req.CallableID, Status: persistence.StatusFailed, ErrorKind: errors.KindOf(err), ErrorText: err.Error()}, err
	}
	if err := e.reg.CheckStale(req.CallableID); err != nil {
		return e.fail(desc, err), err
	}

	// Step 2: validate arguments against the input schema.
	step("validate_arguments")
	args, err := e.validateArguments(desc, req.Arguments)
	if err != nil {
		return e.fail(desc, err), err
	}

	// Step 3: enforce risk-tier consent and skill tool policy.
	step("enforce_policy")
	if err := e.enforcePolicy(desc, req.Consent); err != nil {
		return e.fail(desc, err), err
	}

	// Step 4: dry_run short-circuit.
	if req.DryRun {
		step("dry_run")
		route := routeFor(desc)
		return Result{
			CallableID: desc.CallableID,
			FQN:        desc.FQN,
			Route:      route,
			DryRun:     true,
			Status:     persistence.StatusDryRun,
			Arguments:  args,
		}, nil
	}

	// Step 5: route.
	step("route")
	switch desc.Kind {
	case registry.KindTool:
		return e.execTool(ctx, desc, args, req)
	case registry.KindSkill:
		return e.execSkill(ctx, desc, args, req)
	default:
		err := errors.New(errors.Internal, "execengine: unknown descriptor kind", nil).WithContext("kind", string(desc.Kind))
		return e.fail(desc, err), err
	}
}

func (e *Engine) fail(desc *registry.Descriptor, err error) Result {
	r := Result{Status: persistence.StatusFailed, ErrorKind: errors.KindOf(err), ErrorText: err.Error()}
	if desc != nil {
		r.CallableID = desc.CallableID
		r.FQN = desc.FQN
	}
	return r
}

func routeFor(desc *registry.Descriptor) Route {
	if desc.Kind == registry.KindTool {
		return RoutePeer
	}
	if len(desc.BundledEntrypoints) > 0 {
		return RouteSkillSandbox
	}
	return RouteSkillPrompted
}

// enforcePolicy implements spec.md §4.4 step 3.
func (e *Engine) enforcePolicy(desc *registry.Descriptor, consent string) error {
	if desc.RiskTier.RequiresConsent() && consent == "" {
		return errors.New(errors.ConsentRequired, "execengine: risk tier requires consent", nil).
			WithContext("callable_id", desc.CallableID).WithContext("risk_tier", string(desc.RiskTier))
	}
	if desc.Kind == registry.KindSkill && desc.ToolPolicy != nil {
		policy := skills.Policy{Allow: desc.ToolPolicy.Allow, Deny: desc.ToolPolicy.Deny, Required: desc.ToolPolicy.Required}
		for _, required := range desc.ToolPolicy.Required {
			if !policy.Allowed(required) {
				return errors.New(errors.PolicyViolation, "execengine: required tool excluded by allow/deny policy", nil).
					WithContext("callable_id", desc.CallableID).WithContext("required_tool", required)
			}
		}
	}
	return nil
}

func effectiveTimeout(requested int, presetMs int) time.Duration {
	ms := presetMs
	if requested > 0 && (ms <= 0 || requested < ms) {
		ms = requested
	}
	if ms <= 0 {
		ms = 30_000
	}
	return time.Duration(ms) * time.Millisecond
}

func (e *Engine) persist(ctx context.Context, id string, req Request, result Result, execErr error, startedAt time.Time) {
	if e.store == nil {
		return
	}
	argsJSON, _ := json.Marshal(req.Arguments)
	resultJSON := ""
	if result.Value != nil {
		if b, err := json.Marshal(result.Value); err == nil {
			resultJSON = string(b)
		}
	}
	rec := persistence.Record{
		ID:          id,
		CallableID:  result.CallableID,
		FQN:         result.FQN,
		Kind:        string(routeKindOf(result)),
		Arguments:   string(argsJSON),
		Status:      result.Status,
		ResultJSON:  resultJSON,
		ErrorKind:   string(result.ErrorKind),
		ErrorText:   result.ErrorText,
		ConsentedBy: req.Consent,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
		DurationMs:  result.DurationMs,
	}
	if err := e.store.Put(ctx, rec); err != nil {
		e.logger.Warn("execengine: audit persist failed", "callable_id", result.CallableID, "error", err)
	}
	if execErr != nil {
		e.logger.Info("exec failed", "callable_id", result.CallableID, "kind", result.ErrorKind, "error", execErr)
	}
}

func routeKindOf(r Result) string {
	if r.Route == RoutePeer {
		return "tool-from-peer"
	}
	return "skill"
}
