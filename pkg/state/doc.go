/*
Package state tracks infrastructure resources created by deployment agents
and plans rollbacks against point-in-time checkpoints.

# Overview

Agents (docker, kubernetes, terraform, github) report each resource they
create through Manager.RecordDeployment. A resource carries its type, name,
flat scalar metadata and the IDs of the resources it depends on. Recording
the same ID again updates it in place and keeps the original deployment
time.

A checkpoint is an immutable snapshot of every deployed resource:

	id, err := mgr.CreateCheckpoint(ctx, "before upgrade")

GetRollbackPlan compares the live set with a checkpoint and partitions the
IDs into resources to remove, resources to re-create and resources left
alone. Removals are ordered so that dependents are torn down before the
resources they depend on:

	plan, err := mgr.GetRollbackPlan(ctx, id)
	for _, r := range plan.Removals {
		fmt.Println(r.Order, r.ResourceID)
	}

RollbackToCheckpoint then restores the snapshot. It only rewrites recorded
state; executing the teardown is left to the agents.

# Dependency graph

DependencyGraph is built from resource records. Edges to unknown IDs are
kept so that dangling dependencies still order correctly. The manager
refuses any record that would close a cycle, so stored state is always a
DAG.

# Storage

Manager works over a Backend. Implementations live in pkg/stores (SQLite
and Badger). Every backend mutation is atomic and every read returns copies
owned by the caller.

# Errors

All failures are *StateError values classified by ErrorKind. Use the Is*
helpers or errors.Is with the Err* sentinels:

	if state.IsNotFound(err) {
		...
	}

# Policy

A PlanGuard installed with WithPlanGuard vets every rollback. A denied
plan fails with KindPolicyDenied and leaves state untouched.
*/
package state
