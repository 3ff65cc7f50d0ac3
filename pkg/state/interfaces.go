package state

import (
	"context"
	"time"
)

// ResourceStore persists tracked resources.
// Every returned resource is a fresh copy owned by the caller.
type ResourceStore interface {
	// PutResource upserts a resource by ID. The stored DeployedAt of an
	// existing resource is kept.
	PutResource(ctx context.Context, r *Resource) error

	// GetResource returns a resource or a NotFound error.
	GetResource(ctx context.Context, id string) (*Resource, error)

	// ListResources returns resources matching the filter ordered by
	// DeployedAt then ID.
	ListResources(ctx context.Context, filter ResourceFilter) ([]*Resource, error)

	// ListDependents returns every resource, of any status, that depends on id.
	ListDependents(ctx context.Context, id string) ([]*Resource, error)

	// Timeline returns all resources ordered by DeployedAt then ID.
	Timeline(ctx context.Context) ([]*Resource, error)

	// MarkRemoved transitions the given resources to removed in one
	// transaction and returns how many changed. Unknown IDs fail the whole
	// call with NotFound.
	MarkRemoved(ctx context.Context, ids []string) (int, error)

	// CountByStatus returns the number of resources per status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// CheckpointStore persists checkpoints and restores from them.
type CheckpointStore interface {
	// CreateCheckpoint snapshots every deployed resource atomically.
	CreateCheckpoint(ctx context.Context, description string) (*Checkpoint, error)

	// ListCheckpoints returns summaries, newest first.
	ListCheckpoints(ctx context.Context) ([]CheckpointSummary, error)

	// GetCheckpoint returns a checkpoint with its decoded snapshot.
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)

	// RestoreCheckpoint replaces the whole resource set with the snapshot.
	RestoreCheckpoint(ctx context.Context, id string) (*Checkpoint, error)
}

// Backend is a complete storage backend for the state manager.
type Backend interface {
	ResourceStore
	CheckpointStore

	// ListAudit returns up to limit audit entries, newest first. A limit of
	// zero or less returns all entries.
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	// Reinitialize moves the current store aside and starts an empty one.
	Reinitialize(ctx context.Context) error

	// RecoveryWarning reports the failure that forced a self-heal at open, if any.
	RecoveryWarning() error

	// HealthCheck verifies the store is usable.
	HealthCheck(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// Observer receives operational signals from the manager.
type Observer interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	SetResourceCounts(counts map[Status]int)
	CheckpointCreated()
	Rollback(mode string)
	StorageRecovered()
}

// PlanGuard vets rollback plans before they are applied.
type PlanGuard interface {
	EvaluatePlan(ctx context.Context, plan *RollbackPlan) (*PolicyVerdict, error)
}

// Rollback modes reported to observers.
const (
	RollbackModeCheckpoint = "checkpoint"
	RollbackModeResources  = "resources"
)

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, time.Duration, error) {}
func (nopObserver) SetResourceCounts(map[Status]int)              {}
func (nopObserver) CheckpointCreated()                             {}
func (nopObserver) Rollback(string)                                {}
func (nopObserver) StorageRecovered()                              {}
