// Package policy vets rollback plans with Open Policy Agent (OPA).
//
// The Engine compiles Rego modules and evaluates the "deny" set of each one
// against a rollback plan before the state manager applies it. It implements
// state.PlanGuard, so installing it is a single option:
//
//	eng, err := policy.NewEngineFromConfig(ctx, cfg.Policy, logger)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	mgr := state.NewManager(backend, state.WithPlanGuard(eng))
//
// # Input
//
// Policies see the plan and an evaluation context:
//
//	input.plan.checkpoint_id    checkpoint being restored, empty for targeted removals
//	input.plan.to_remove        IDs in teardown order
//	input.plan.removals[_]      resource_id, resource_type, name, agent_type, metadata
//	input.plan.to_add           IDs missing from the live state
//	input.context.operation     "rollback" or "remove"
//	input.context.max_removals  mass-removal threshold
//
// Each member of deny is either a message string or an object:
//
//	deny contains violation if {
//	    some removal in input.plan.removals
//	    startswith(removal.resource_id, "prod-")
//	    violation := {
//	        "message": sprintf("%s is a production resource", [removal.resource_id]),
//	        "severity": "error",
//	        "resource": removal.resource_id,
//	    }
//	}
//
// Findings of severity error or critical deny the plan. Info and warning
// findings are reported as warnings and never block.
//
// # Built-in policies
//
//   - protected-resources: denies removing resources whose metadata sets
//     protected to true.
//   - scm-removal-review: warns when GitHub resources would be removed.
//   - mass-removal: warns when more than max_removals resources would be
//     removed (default 10).
//
// # Loading
//
// The Loader reads .rego files and JSON policy definitions from files or
// directories (recursively). Leading comments of a .rego file become its
// description, and a "# severity: warning" line changes its default
// severity. A file that cannot be loaded fails the whole load, so an engine
// never starts with part of its policies missing. With watching enabled,
// changes are picked up through fsnotify after a short debounce; a reload
// that fails to load or compile keeps the previous set.
package policy
