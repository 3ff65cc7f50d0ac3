package state

import (
	"slices"
	"testing"
)

func checkpointOf(id string, resources ...*Resource) *Checkpoint {
	return &Checkpoint{ID: id, Description: id, ResourceCount: len(resources), Resources: resources}
}

func TestDiffPartitions(t *testing.T) {
	current := []*Resource{res("A"), res("B", "A"), res("D")}
	cp := checkpointOf("cp", res("A"), res("C"), res("E"))

	plan, err := Diff(current, cp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !slices.Equal(plan.Unchanged, []string{"A"}) {
		t.Errorf("expected unchanged [A], got %v", plan.Unchanged)
	}
	if !slices.Equal(plan.ToAdd, []string{"C", "E"}) {
		t.Errorf("expected to_add [C E], got %v", plan.ToAdd)
	}
	if !slices.Equal(plan.ToRemove, []string{"B", "D"}) {
		t.Errorf("expected to_remove [B D], got %v", plan.ToRemove)
	}
	if plan.CheckpointID != "cp" {
		t.Errorf("expected checkpoint id cp, got %q", plan.CheckpointID)
	}
	if plan.IsEmpty() {
		t.Error("expected non-empty plan")
	}
}

func TestDiffSetsAreDisjointAndComplete(t *testing.T) {
	current := []*Resource{res("a"), res("b", "a"), res("c", "b"), res("x")}
	cp := checkpointOf("cp", res("a"), res("y"))

	plan, err := Diff(current, cp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]int{}
	for _, id := range slices.Concat(plan.ToRemove, plan.ToAdd, plan.Unchanged) {
		seen[id]++
	}
	for _, id := range []string{"a", "b", "c", "x", "y"} {
		if seen[id] != 1 {
			t.Errorf("expected %s in exactly one set, got %d", id, seen[id])
		}
	}
}

func TestDiffOrdersRemovals(t *testing.T) {
	// A <- B <- C, checkpoint only has A
	current := []*Resource{res("A"), res("B", "A"), res("C", "B")}

	plan, err := Diff(current, checkpointOf("cp", res("A")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(plan.ToRemove, []string{"C", "B"}) {
		t.Errorf("expected [C B], got %v", plan.ToRemove)
	}

	if len(plan.Removals) != 2 {
		t.Fatalf("expected 2 removals, got %d", len(plan.Removals))
	}
	if plan.Removals[0].Order != 1 || plan.Removals[0].ResourceID != "C" {
		t.Errorf("expected first removal C with order 1, got %+v", plan.Removals[0])
	}
	if plan.Removals[1].AgentType != AgentDocker {
		t.Errorf("expected removal details to carry the agent, got %+v", plan.Removals[1])
	}
}

func TestDiffIdentical(t *testing.T) {
	current := []*Resource{res("A"), res("B", "A")}

	plan, err := Diff(current, checkpointOf("cp", res("A"), res("B", "A")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.IsEmpty() {
		t.Errorf("expected empty plan, got %+v", plan)
	}
	if plan.ToRemove == nil || plan.ToAdd == nil {
		t.Error("expected empty lists rather than nil")
	}
}

func TestDiffCycle(t *testing.T) {
	current := []*Resource{res("A", "B"), res("B", "A")}

	_, err := Diff(current, checkpointOf("cp"))
	if !IsCycle(err) {
		t.Errorf("expected CycleDetected, got %v", err)
	}
}

func TestDiffRemovalMetadataIsCopied(t *testing.T) {
	r := res("A")
	r.Metadata = Metadata{"protected": Bool(true)}

	plan, err := Diff([]*Resource{r}, checkpointOf("cp"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plan.Removals[0].Metadata["protected"] = Bool(false)
	if !r.Metadata["protected"].IsTruthy() {
		t.Error("expected plan metadata to be a copy")
	}
}

func TestPlanRemovals(t *testing.T) {
	current := []*Resource{res("A"), res("B", "A"), res("C")}

	plan, err := PlanRemovals(current, []string{"A", "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(plan.ToRemove, []string{"B", "A"}) {
		t.Errorf("expected [B A], got %v", plan.ToRemove)
	}
	if !slices.Equal(plan.Unchanged, []string{"C"}) {
		t.Errorf("expected unchanged [C], got %v", plan.Unchanged)
	}
	if plan.CheckpointID != "" {
		t.Errorf("expected no checkpoint id, got %q", plan.CheckpointID)
	}
}
