package state

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager is the single entry point to the state engine. It validates input,
// keeps the dependency graph acyclic, and reports every operation to the
// configured logger, observer and tracer.
type Manager struct {
	backend  Backend
	planner  *RollbackPlanner
	validate *validator.Validate
	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer
	guard    PlanGuard
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With().Str("component", "state-manager").Logger()
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithTracer sets the tracer used to wrap operations in spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithPlanGuard installs a guard consulted before rollbacks.
func WithPlanGuard(g PlanGuard) Option {
	return func(m *Manager) {
		m.guard = g
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager over an opened backend.
func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   zerolog.Nop(),
		observer: nopObserver{},
		tracer:   noop.NewTracerProvider().Tracer("reign/state"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.planner = NewRollbackPlanner(backend, backend)
	m.planner.now = m.now

	if err := backend.RecoveryWarning(); err != nil {
		m.logger.Error().Err(err).Msg("state store was unusable and has been recreated empty; previous state is not loaded")
		m.observer.StorageRecovered()
	}
	return m
}

// run wraps an operation in a span and reports its duration and outcome.
func (m *Manager) run(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := m.tracer.Start(ctx, "state."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	m.observer.ObserveOperation(op, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (m *Manager) refreshCounts(ctx context.Context) {
	counts, err := m.backend.CountByStatus(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to refresh resource counts")
		return
	}
	m.observer.SetResourceCounts(counts)
}

// RecordDeployment records a resource reported by an agent. Recording the
// same resource again is a no-op apart from updated fields; DeployedAt is
// kept from the first record.
func (m *Manager) RecordDeployment(ctx context.Context, r Resource) error {
	return m.run(ctx, "record_deployment", func(ctx context.Context) error {
		res := r.Clone()
		res.Normalize()

		if err := m.validateResource(res); err != nil {
			return err
		}

		existing, err := m.backend.GetResource(ctx, res.ID)
		switch {
		case err == nil:
			if existing.Status == StatusRemoved && res.Status != StatusRemoved {
				return NewTransitionError(res.ID, existing.Status, res.Status).WithOperation("record_deployment")
			}
			res.DeployedAt = existing.DeployedAt
		case IsNotFound(err):
			if res.DeployedAt.IsZero() {
				res.DeployedAt = m.now().UTC()
			}
		default:
			return err
		}

		if res.Status != StatusRemoved && len(res.DependsOn) > 0 {
			live, err := m.backend.ListResources(ctx, ResourceFilter{
				Statuses: []Status{StatusDeployed, StatusPending, StatusFailed},
			})
			if err != nil {
				return err
			}
			if cycle := NewDependencyGraph(live).WouldCreateCycle(res); cycle != nil {
				return NewCycleError(cycle).WithResource(res.ID).WithOperation("record_deployment")
			}
		}

		if err := m.backend.PutResource(ctx, res); err != nil {
			return err
		}

		m.logger.Debug().
			Str("resource_id", res.ID).
			Str("resource_type", res.Type).
			Str("agent_type", string(res.AgentType)).
			Str("status", string(res.Status)).
			Strs("depends_on", res.DependsOn).
			Msg("Recorded deployment")
		m.refreshCounts(ctx)
		return nil
	}, attribute.String("resource.id", r.ID))
}

func (m *Manager) validateResource(r *Resource) error {
	if err := m.validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return NewValidationError("invalid resource: "+strings.Join(fields, ", "), err).WithResource(r.ID)
		}
		return NewValidationError("invalid resource", err).WithResource(r.ID)
	}
	for key, v := range r.Metadata {
		if !v.Valid() {
			return NewValidationError(fmt.Sprintf("metadata %q has no value", key), nil).WithResource(r.ID)
		}
	}
	if slices.Contains(r.DependsOn, r.ID) {
		return NewValidationError("resource cannot depend on itself", nil).
			WithResource(r.ID).
			WithCode(ErrCodeSelfDependency)
	}
	return nil
}

// GetResource returns a resource by ID.
func (m *Manager) GetResource(ctx context.Context, id string) (*Resource, error) {
	var out *Resource
	err := m.run(ctx, "get_resource", func(ctx context.Context) error {
		var err error
		out, err = m.backend.GetResource(ctx, id)
		return err
	}, attribute.String("resource.id", id))
	return out, err
}

// ListResources returns resources matching the filter.
func (m *Manager) ListResources(ctx context.Context, filter ResourceFilter) ([]*Resource, error) {
	var out []*Resource
	err := m.run(ctx, "list_resources", func(ctx context.Context) error {
		var err error
		out, err = m.backend.ListResources(ctx, filter)
		return err
	})
	return out, err
}

// AllResources returns every deployed resource.
func (m *Manager) AllResources(ctx context.Context) ([]*Resource, error) {
	return m.ListResources(ctx, ResourceFilter{})
}

// ResourcesByType returns deployed resources of the given type.
func (m *Manager) ResourcesByType(ctx context.Context, resourceType string) ([]*Resource, error) {
	return m.ListResources(ctx, ResourceFilter{Type: resourceType})
}

// ResourcesByAgent returns deployed resources created by the given agent.
func (m *Manager) ResourcesByAgent(ctx context.Context, agent AgentType) ([]*Resource, error) {
	return m.ListResources(ctx, ResourceFilter{AgentType: agent})
}

// Dependents returns every resource that depends on id.
func (m *Manager) Dependents(ctx context.Context, id string) ([]*Resource, error) {
	var out []*Resource
	err := m.run(ctx, "list_dependents", func(ctx context.Context) error {
		var err error
		out, err = m.backend.ListDependents(ctx, id)
		return err
	}, attribute.String("resource.id", id))
	return out, err
}

// Timeline returns all resources in deployment order.
func (m *Manager) Timeline(ctx context.Context) ([]*Resource, error) {
	var out []*Resource
	err := m.run(ctx, "timeline", func(ctx context.Context) error {
		var err error
		out, err = m.backend.Timeline(ctx)
		return err
	})
	return out, err
}

// Graph builds a dependency graph over resources matching the filter.
func (m *Manager) Graph(ctx context.Context, filter ResourceFilter) (*DependencyGraph, error) {
	resources, err := m.ListResources(ctx, filter)
	if err != nil {
		return nil, err
	}
	return NewDependencyGraph(resources), nil
}

// CreateCheckpoint snapshots every deployed resource and returns the checkpoint ID.
func (m *Manager) CreateCheckpoint(ctx context.Context, description string) (string, error) {
	var id string
	err := m.run(ctx, "create_checkpoint", func(ctx context.Context) error {
		cp, err := m.backend.CreateCheckpoint(ctx, description)
		if err != nil {
			return err
		}
		id = cp.ID
		m.observer.CheckpointCreated()
		m.logger.Info().
			Str("checkpoint_id", cp.ID).
			Str("description", cp.Description).
			Int("resource_count", cp.ResourceCount).
			Msg("Created checkpoint")
		return nil
	})
	return id, err
}

// ListCheckpoints returns checkpoint summaries, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context) ([]CheckpointSummary, error) {
	var out []CheckpointSummary
	err := m.run(ctx, "list_checkpoints", func(ctx context.Context) error {
		var err error
		out, err = m.backend.ListCheckpoints(ctx)
		return err
	})
	return out, err
}

// GetCheckpoint returns a checkpoint with its snapshot.
func (m *Manager) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	var out *Checkpoint
	err := m.run(ctx, "get_checkpoint", func(ctx context.Context) error {
		var err error
		out, err = m.backend.GetCheckpoint(ctx, id)
		return err
	}, attribute.String("checkpoint.id", id))
	return out, err
}

// GetRollbackPlan previews a rollback to the checkpoint. When a plan guard
// is configured its verdict is attached to the plan; a denial does not fail
// the preview.
func (m *Manager) GetRollbackPlan(ctx context.Context, checkpointID string) (*RollbackPlan, error) {
	var plan *RollbackPlan
	err := m.run(ctx, "get_rollback_plan", func(ctx context.Context) error {
		var err error
		plan, err = m.planner.Plan(ctx, checkpointID)
		if err != nil {
			return err
		}
		if m.guard != nil {
			verdict, err := m.guard.EvaluatePlan(ctx, plan)
			if err != nil {
				return fmt.Errorf("failed to evaluate rollback plan: %w", err)
			}
			plan.Policy = verdict
		}
		return nil
	}, attribute.String("checkpoint.id", checkpointID))
	return plan, err
}

// RollbackToCheckpoint replaces the live resource set with the checkpoint's
// snapshot. It records state only; tearing down or recreating the real
// resources is left to the caller, guided by GetRollbackPlan.
func (m *Manager) RollbackToCheckpoint(ctx context.Context, checkpointID string) error {
	return m.run(ctx, "rollback_to_checkpoint", func(ctx context.Context) error {
		if m.guard != nil {
			plan, err := m.planner.Plan(ctx, checkpointID)
			if err != nil {
				return err
			}
			if err := m.enforce(ctx, plan); err != nil {
				return err
			}
		}

		cp, err := m.backend.RestoreCheckpoint(ctx, checkpointID)
		if err != nil {
			return err
		}

		m.observer.Rollback(RollbackModeCheckpoint)
		m.logger.Info().
			Str("checkpoint_id", cp.ID).
			Int("resource_count", cp.ResourceCount).
			Msg("Restored checkpoint")
		m.refreshCounts(ctx)
		return nil
	}, attribute.String("checkpoint.id", checkpointID))
}

// RollbackResources marks the given resources removed and returns how many
// changed. Unknown IDs fail the call without changing anything.
func (m *Manager) RollbackResources(ctx context.Context, ids []string) (int, error) {
	var n int
	ids = dedupe(ids)
	err := m.run(ctx, "rollback_resources", func(ctx context.Context) error {
		if len(ids) == 0 {
			return nil
		}

		if m.guard != nil {
			current, err := m.backend.ListResources(ctx, ResourceFilter{})
			if err != nil {
				return err
			}
			plan, err := PlanRemovals(current, ids)
			if err != nil {
				return err
			}
			if err := m.enforce(ctx, plan); err != nil {
				return err
			}
		}

		var err error
		n, err = m.backend.MarkRemoved(ctx, ids)
		if err != nil {
			return err
		}

		m.warnOrphans(ctx, ids)
		m.observer.Rollback(RollbackModeResources)
		m.logger.Info().Strs("resource_ids", ids).Int("removed", n).Msg("Rolled back resources")
		m.refreshCounts(ctx)
		return nil
	}, attribute.StringSlice("resource.ids", ids))
	return n, err
}

// warnOrphans logs deployed resources left depending on removed ones.
func (m *Manager) warnOrphans(ctx context.Context, removed []string) {
	for _, id := range removed {
		dependents, err := m.backend.ListDependents(ctx, id)
		if err != nil {
			m.logger.Warn().Err(err).Str("resource_id", id).Msg("failed to check dependents")
			continue
		}
		for _, d := range dependents {
			if d.Status == StatusDeployed && !slices.Contains(removed, d.ID) {
				m.logger.Warn().
					Str("resource_id", id).
					Str("dependent_id", d.ID).
					Msg("Removed resource still has a deployed dependent")
			}
		}
	}
}

func (m *Manager) enforce(ctx context.Context, plan *RollbackPlan) error {
	verdict, err := m.guard.EvaluatePlan(ctx, plan)
	if err != nil {
		return fmt.Errorf("failed to evaluate rollback plan: %w", err)
	}
	plan.Policy = verdict
	for _, w := range verdict.Warnings {
		m.logger.Warn().Str("checkpoint_id", plan.CheckpointID).Msg(w)
	}
	if !verdict.Allowed {
		return NewPolicyDeniedError(verdict).WithResource(plan.CheckpointID)
	}
	return nil
}

// ListAudit returns the most recent audit entries.
func (m *Manager) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	err := m.run(ctx, "list_audit", func(ctx context.Context) error {
		var err error
		out, err = m.backend.ListAudit(ctx, limit)
		return err
	})
	return out, err
}

// Reinitialize moves the current store aside and starts empty. It is meant
// for operators recovering from a broken store.
func (m *Manager) Reinitialize(ctx context.Context) error {
	return m.run(ctx, "reinitialize", func(ctx context.Context) error {
		m.logger.Warn().Msg("Reinitializing state store; all tracked resources and checkpoints will be set aside")
		if err := m.backend.Reinitialize(ctx); err != nil {
			m.logger.Error().Err(err).Msg("State store reinitialization failed")
			return err
		}
		m.logger.Warn().Msg("State store reinitialized")
		m.refreshCounts(ctx)
		return nil
	})
}

// RecoveryWarning returns the failure that forced the store to self-heal at
// open, or nil.
func (m *Manager) RecoveryWarning() error {
	return m.backend.RecoveryWarning()
}

// HealthCheck verifies the backend is usable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.backend.HealthCheck(ctx)
}

// Close closes the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
