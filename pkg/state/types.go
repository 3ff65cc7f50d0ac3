package state

import (
	"maps"
	"slices"
	"time"
)

// Status represents the lifecycle status of a tracked resource.
type Status string

const (
	// StatusDeployed marks a resource that currently exists.
	StatusDeployed Status = "deployed"

	// StatusPending marks a resource an agent has started but not finished deploying.
	StatusPending Status = "pending"

	// StatusFailed marks a resource whose deployment failed.
	StatusFailed Status = "failed"

	// StatusRemoved marks a resource that has been rolled back. It is terminal.
	StatusRemoved Status = "removed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusDeployed, StatusPending, StatusFailed, StatusRemoved}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// AgentType identifies the collaborator that produced a resource.
type AgentType string

const (
	AgentDocker     AgentType = "docker"
	AgentKubernetes AgentType = "kubernetes"
	AgentTerraform  AgentType = "terraform"
	AgentGitHub     AgentType = "github"
)

// Resource is a tracked unit of deployed infrastructure.
type Resource struct {
	// ID is the globally unique, immutable resource identifier.
	ID string `json:"resource_id" yaml:"resource_id" validate:"required"`

	// Type is a free-form tag such as "container" or "iac-resource".
	Type string `json:"resource_type" yaml:"resource_type" validate:"required"`

	// Name is a human label. It is not unique.
	Name string `json:"name" yaml:"name"`

	// Metadata holds agent-specific scalar attributes (image, replicas, region...).
	Metadata Metadata `json:"metadata" yaml:"metadata"`

	// AgentType is the agent that deployed this resource.
	AgentType AgentType `json:"agent_type" yaml:"agent_type" validate:"required,oneof=docker kubernetes terraform github"`

	// DependsOn lists the IDs this resource requires, in declaration order.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty" validate:"dive,required"`

	// Status is the lifecycle status.
	Status Status `json:"status" yaml:"status" validate:"required,oneof=deployed pending failed removed"`

	// DeployedAt is set when the resource is first recorded and never changes.
	DeployedAt time.Time `json:"deployed_at" yaml:"deployed_at"`
}

// Clone returns a deep copy of the resource.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	c.Metadata = r.Metadata.Clone()
	c.DependsOn = slices.Clone(r.DependsOn)
	return &c
}

// Equal reports whether two resources carry the same recorded state.
func (r *Resource) Equal(o *Resource) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.ID == o.ID &&
		r.Type == o.Type &&
		r.Name == o.Name &&
		r.AgentType == o.AgentType &&
		r.Status == o.Status &&
		r.DeployedAt.Equal(o.DeployedAt) &&
		maps.Equal(r.Metadata, o.Metadata) &&
		slices.Equal(r.DependsOn, o.DependsOn)
}

// Normalize fills defaults and canonicalizes the dependency list in place.
// An empty status becomes deployed, nil metadata becomes an empty map and
// repeated dependency IDs are collapsed keeping the first occurrence.
func (r *Resource) Normalize() {
	if r.Status == "" {
		r.Status = StatusDeployed
	}
	if r.Metadata == nil {
		r.Metadata = Metadata{}
	}
	r.DependsOn = dedupe(r.DependsOn)
	if !r.DeployedAt.IsZero() {
		r.DeployedAt = r.DeployedAt.UTC()
	}
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CloneResources deep-copies a resource list.
func CloneResources(in []*Resource) []*Resource {
	if in == nil {
		return nil
	}
	out := make([]*Resource, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// ResourceIDs returns the IDs of the given resources in order.
func ResourceIDs(resources []*Resource) []string {
	ids := make([]string, len(resources))
	for i, r := range resources {
		ids[i] = r.ID
	}
	return ids
}

// ResourceFilter narrows resource listings.
type ResourceFilter struct {
	// Statuses restricts results to these statuses. Empty means deployed only.
	Statuses []Status

	// Type restricts results to a resource type when non-empty.
	Type string

	// AgentType restricts results to an agent when non-empty.
	AgentType AgentType
}

// EffectiveStatuses returns the statuses the filter selects.
func (f ResourceFilter) EffectiveStatuses() []Status {
	if len(f.Statuses) == 0 {
		return []Status{StatusDeployed}
	}
	return f.Statuses
}

// Matches reports whether r passes the filter.
func (f ResourceFilter) Matches(r *Resource) bool {
	if !slices.Contains(f.EffectiveStatuses(), r.Status) {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.AgentType != "" && r.AgentType != f.AgentType {
		return false
	}
	return true
}

// Checkpoint is an immutable snapshot of every deployed resource at a point in time.
type Checkpoint struct {
	// ID is a random UUID.
	ID string `json:"checkpoint_id"`

	// Description is free text supplied by the caller.
	Description string `json:"description"`

	// Timestamp is the creation time in UTC.
	Timestamp time.Time `json:"timestamp"`

	// ResourceCount is the number of resources captured.
	ResourceCount int `json:"resource_count"`

	// Resources is the captured snapshot.
	Resources []*Resource `json:"resources"`
}

// Summary returns the listing projection of the checkpoint.
func (c *Checkpoint) Summary() CheckpointSummary {
	return CheckpointSummary{
		ID:            c.ID,
		Description:   c.Description,
		Timestamp:     c.Timestamp,
		ResourceCount: c.ResourceCount,
	}
}

// ResourceIDs returns the IDs captured by the checkpoint.
func (c *Checkpoint) ResourceIDs() []string {
	return ResourceIDs(c.Resources)
}

// CheckpointSummary describes a checkpoint without its snapshot.
type CheckpointSummary struct {
	ID            string    `json:"checkpoint_id"`
	Description   string    `json:"description"`
	Timestamp     time.Time `json:"timestamp"`
	ResourceCount int       `json:"resource_count"`
}

// PlannedRemoval is one entry of a rollback plan's ordered teardown list.
type PlannedRemoval struct {
	Order        int       `json:"order"`
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	Name         string    `json:"name"`
	AgentType    AgentType `json:"agent_type"`
	Metadata     Metadata  `json:"metadata"`
}

// RollbackPlan describes how the current state differs from a checkpoint.
type RollbackPlan struct {
	CheckpointID string    `json:"checkpoint_id"`
	Description  string    `json:"description"`
	GeneratedAt  time.Time `json:"generated_at"`

	// ToRemove lists resources present now but absent from the checkpoint,
	// dependents before their dependencies.
	ToRemove []string `json:"to_remove"`

	// ToAdd lists resources in the checkpoint that are no longer deployed.
	// They are reported only; recreating them is the agents' job.
	ToAdd []string `json:"to_add"`

	// Unchanged lists resources present in both.
	Unchanged []string `json:"unchanged"`

	// Removals carries ToRemove with the details executors need.
	Removals []PlannedRemoval `json:"removals"`

	// Policy is the plan guard verdict, when a guard is configured.
	Policy *PolicyVerdict `json:"policy,omitempty"`
}

// IsEmpty reports whether applying the plan would change nothing.
func (p *RollbackPlan) IsEmpty() bool {
	return len(p.ToRemove) == 0 && len(p.ToAdd) == 0
}

// PolicyViolation is a single finding of a plan guard.
type PolicyViolation struct {
	Policy     string `json:"policy"`
	ResourceID string `json:"resource_id,omitempty"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
}

// PolicyVerdict is the outcome of evaluating a plan against policies.
type PolicyVerdict struct {
	Allowed     bool              `json:"allowed"`
	Violations  []PolicyViolation `json:"violations,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

// AuditAction names a recorded state mutation.
type AuditAction string

const (
	AuditResourceRecorded   AuditAction = "resource.recorded"
	AuditResourcesRemoved   AuditAction = "resources.removed"
	AuditCheckpointCreated  AuditAction = "checkpoint.created"
	AuditCheckpointRestored AuditAction = "checkpoint.restored"
	AuditStoreReinitialized AuditAction = "store.reinitialized"
)

// AuditEntry is an append-only record of a state mutation.
type AuditEntry struct {
	ID        int64       `json:"id"`
	Action    AuditAction `json:"action"`
	TargetID  string      `json:"target_id,omitempty"`
	Details   string      `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
