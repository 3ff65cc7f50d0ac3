package state

import (
	"context"
	"slices"
	"time"
)

// RollbackPlanner computes the difference between the live state and a
// checkpoint. It never mutates state.
type RollbackPlanner struct {
	resources   ResourceStore
	checkpoints CheckpointStore
	now         func() time.Time
}

// NewRollbackPlanner creates a planner over the given stores.
func NewRollbackPlanner(resources ResourceStore, checkpoints CheckpointStore) *RollbackPlanner {
	return &RollbackPlanner{
		resources:   resources,
		checkpoints: checkpoints,
		now:         time.Now,
	}
}

// Plan loads a checkpoint and the currently deployed resources and diffs them.
func (p *RollbackPlanner) Plan(ctx context.Context, checkpointID string) (*RollbackPlan, error) {
	cp, err := p.checkpoints.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	current, err := p.resources.ListResources(ctx, ResourceFilter{})
	if err != nil {
		return nil, err
	}

	plan, err := Diff(current, cp)
	if err != nil {
		return nil, err
	}
	plan.GeneratedAt = p.now().UTC()
	return plan, nil
}

// Diff computes the rollback plan that reverts current to cp.
// ToRemove is ordered against the graph of all current resources so
// dependents outside the removal set are still respected.
func Diff(current []*Resource, cp *Checkpoint) (*RollbackPlan, error) {
	inCheckpoint := make(map[string]bool, len(cp.Resources))
	for _, r := range cp.Resources {
		inCheckpoint[r.ID] = true
	}
	inCurrent := make(map[string]bool, len(current))
	for _, r := range current {
		inCurrent[r.ID] = true
	}

	plan := &RollbackPlan{
		CheckpointID: cp.ID,
		Description:  cp.Description,
		ToRemove:     []string{},
		ToAdd:        []string{},
		Unchanged:    []string{},
		Removals:     []PlannedRemoval{},
	}

	var candidates []string
	for _, r := range current {
		if inCheckpoint[r.ID] {
			plan.Unchanged = append(plan.Unchanged, r.ID)
		} else {
			candidates = append(candidates, r.ID)
		}
	}
	for id := range inCheckpoint {
		if !inCurrent[id] {
			plan.ToAdd = append(plan.ToAdd, id)
		}
	}
	slices.Sort(plan.ToAdd)
	slices.Sort(plan.Unchanged)

	graph := NewDependencyGraph(current)
	ordered, err := graph.RemovalOrder(candidates)
	if err != nil {
		return nil, err
	}
	plan.ToRemove = ordered
	plan.Removals = removalsFor(graph, ordered)
	return plan, nil
}

// PlanRemovals builds a plan describing the targeted removal of ids from
// current. It is used to vet targeted rollbacks with the same guard as
// checkpoint rollbacks.
func PlanRemovals(current []*Resource, ids []string) (*RollbackPlan, error) {
	graph := NewDependencyGraph(current)
	ordered, err := graph.RemovalOrder(ids)
	if err != nil {
		return nil, err
	}

	remove := make(map[string]bool, len(ordered))
	for _, id := range ordered {
		remove[id] = true
	}
	plan := &RollbackPlan{
		ToRemove:  ordered,
		ToAdd:     []string{},
		Unchanged: []string{},
		Removals:  removalsFor(graph, ordered),
	}
	for _, r := range current {
		if !remove[r.ID] {
			plan.Unchanged = append(plan.Unchanged, r.ID)
		}
	}
	slices.Sort(plan.Unchanged)
	return plan, nil
}

func removalsFor(graph *DependencyGraph, ordered []string) []PlannedRemoval {
	out := make([]PlannedRemoval, 0, len(ordered))
	for i, id := range ordered {
		pr := PlannedRemoval{Order: i + 1, ResourceID: id, Metadata: Metadata{}}
		if r := graph.Resource(id); r != nil {
			pr.ResourceType = r.Type
			pr.Name = r.Name
			pr.AgentType = r.AgentType
			pr.Metadata = r.Metadata.Clone()
		}
		out = append(out, pr)
	}
	return out
}
