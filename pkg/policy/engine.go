package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/reignhq/reign/pkg/config"
	"github.com/reignhq/reign/pkg/state"
)

// Engine evaluates rollback plans against Rego policies. It implements
// state.PlanGuard.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	paths       []string
	logger      zerolog.Logger
	loader      *Loader
	builtins    bool
	maxRemovals int
	now         func() time.Time
}

var _ state.PlanGuard = (*Engine)(nil)

// compiledPolicy is a policy with its deny query prepared for reuse.
type compiledPolicy struct {
	policy   *Policy
	pkg      string
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRemovals sets the threshold used by the mass-removal policy.
func WithMaxRemovals(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRemovals = n
		}
	}
}

// WithoutBuiltins starts the engine with no built-in policies.
func WithoutBuiltins() Option {
	return func(e *Engine) {
		e.builtins = false
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a policy engine with the built-in policies compiled.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies:    make(map[string]*compiledPolicy),
		logger:      logger.With().Str("component", "policy-engine").Logger(),
		builtins:    true,
		maxRemovals: DefaultMaxRemovals,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loader = NewLoader(logger)
	e.loader.now = e.now

	if e.builtins {
		compiled, err := e.compileAll(context.Background(), e.builtinPolicies())
		if err != nil {
			return nil, fmt.Errorf("failed to load built-in policies: %w", err)
		}
		e.policies = compiled
		e.logger.Debug().Int("count", len(compiled)).Msg("Built-in policies loaded")
	}

	return e, nil
}

// NewEngineFromConfig creates an engine, loads cfg.Paths and starts watching
// them when cfg.Watch is set. The watcher stops when ctx is canceled.
func NewEngineFromConfig(ctx context.Context, cfg config.PolicyConfig, logger zerolog.Logger) (*Engine, error) {
	opts := []Option{WithMaxRemovals(cfg.MaxRemovals)}
	if cfg.SkipBuiltins {
		opts = append(opts, WithoutBuiltins())
	}

	e, err := NewEngine(logger, opts...)
	if err != nil {
		return nil, err
	}

	if len(cfg.Paths) > 0 {
		if err := e.LoadPolicies(ctx, cfg.Paths); err != nil {
			return nil, err
		}
	}
	if cfg.Watch && len(cfg.Paths) > 0 {
		if err := e.Watch(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) builtinPolicies() []Policy {
	policies := BuiltinPolicies()
	for i := range policies {
		policies[i].LoadedAt = e.now()
	}
	return policies
}

// EvaluatePlan runs every enabled policy against the plan. Findings of error
// or critical severity deny the plan; the rest become warnings. A policy that
// fails to evaluate fails the whole call.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *state.RollbackPlan) (*state.PolicyVerdict, error) {
	if plan == nil {
		return nil, fmt.Errorf("no plan to evaluate")
	}
	start := time.Now()

	operation := OperationRollback
	if plan.CheckpointID == "" {
		operation = OperationRemove
	}

	input, err := toInputDocument(&Input{
		Plan: plan,
		Context: &Context{
			Operation:   operation,
			MaxRemovals: e.maxRemovals,
			Timestamp:   e.now().UTC(),
		},
	})
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	verdict := &state.PolicyVerdict{Allowed: true}
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		findings, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("checkpoint_id", plan.CheckpointID).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}

		for _, f := range findings {
			if Severity(f.Severity).Blocking() {
				verdict.Allowed = false
				verdict.Violations = append(verdict.Violations, f)
				continue
			}
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("%s: %s", f.Policy, f.Message))
		}
	}
	verdict.EvaluatedAt = e.now().UTC()

	e.logger.Debug().
		Str("checkpoint_id", plan.CheckpointID).
		Str("operation", operation).
		Bool("allowed", verdict.Allowed).
		Int("violations", len(verdict.Violations)).
		Int("warnings", len(verdict.Warnings)).
		Dur("duration", time.Since(start)).
		Msg("Plan policy evaluation completed")

	return verdict, nil
}

// toInputDocument converts the input to plain JSON values so policies see
// the same shape the CLI prints.
func toInputDocument(in *Input) (map[string]any, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return doc, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]any) ([]state.PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []state.PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// createViolation creates a PolicyViolation from a deny set member, which is
// either a message string or an object with message, severity and resource.
func createViolation(policy *Policy, result interface{}) state.PolicyViolation {
	violation := state.PolicyViolation{
		Policy:   policy.Name,
		Severity: string(policy.Severity),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && Severity(sev).valid() {
			violation.Severity = sev
		}
		if res, ok := v["resource"].(string); ok {
			violation.ResourceID = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses a policy and prepares its deny query.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}

	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", policy.Name, err)
	}
	pkg := module.Package.Path.String()

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(pkg+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy %s: %w", policy.Name, err)
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", pkg).
		Msg("Policy compiled")

	return &compiledPolicy{
		policy:   policy,
		pkg:      pkg,
		query:    query,
		compiled: e.now(),
	}, nil
}

// compileAll compiles every policy or none.
func (e *Engine) compileAll(ctx context.Context, policies []Policy) (map[string]*compiledPolicy, error) {
	out := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		cp, err := e.compile(ctx, &p)
		if err != nil {
			return nil, err
		}
		if prev, exists := out[p.Name]; exists {
			e.logger.Warn().
				Str("policy", p.Name).
				Str("source", p.Source).
				Str("replaced", prev.policy.Source).
				Msg("Policy name defined twice; the later definition wins")
		}
		out[p.Name] = cp
	}
	return out, nil
}

// LoadPolicies loads policy files or directories on top of the current set.
// Nothing is installed if any policy fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	compiled, err := e.compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	maps.Copy(e.policies, compiled)
	for _, p := range paths {
		if !slices.Contains(e.paths, p) {
			e.paths = append(e.paths, p)
		}
	}

	e.logger.Info().
		Int("count", len(compiled)).
		Strs("paths", paths).
		Msg("Policies loaded")

	return nil
}

// AddPolicy compiles and installs a single policy, replacing any policy of
// the same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	if policy.LoadedAt.IsZero() {
		policy.LoadedAt = e.now()
	}
	cp, err := e.compile(ctx, &policy)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[policy.Name] = cp
	return nil
}

// replaceLoaded swaps the file-backed policies for a freshly loaded set,
// keeping built-ins and policies added directly.
func (e *Engine) replaceLoaded(policies []Policy) error {
	compiled, err := e.compileAll(context.Background(), policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy, len(compiled))
	for name, cp := range e.policies {
		if !e.fromPaths(cp.policy) {
			next[name] = cp
		}
	}
	if e.builtins {
		for _, p := range e.builtinPolicies() {
			if _, ok := next[p.Name]; !ok {
				cp, err := e.compile(context.Background(), &p)
				if err != nil {
					return err
				}
				next[p.Name] = cp
			}
		}
	}
	maps.Copy(next, compiled)
	e.policies = next
	return nil
}

func (e *Engine) fromPaths(p *Policy) bool {
	return p.Source != "" && p.Source != SourceBuiltin
}

// ReloadPolicies rereads every loaded path from disk.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.RLock()
	paths := slices.Clone(e.paths)
	e.mu.RUnlock()

	e.loader.ClearCache()
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	return e.replaceLoaded(policies)
}

// Watch reloads loaded paths whenever their files change.
func (e *Engine) Watch(ctx context.Context) error {
	e.mu.RLock()
	paths := slices.Clone(e.paths)
	e.mu.RUnlock()

	if len(paths) == 0 {
		return fmt.Errorf("no policy paths to watch")
	}
	return e.loader.Watch(ctx, paths, e.replaceLoaded)
}

// Close stops any watcher.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
