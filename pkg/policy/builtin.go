package policy

// DefaultMaxRemovals is the mass-removal threshold when none is configured.
const DefaultMaxRemovals = 10

// BuiltinPolicies returns the policies compiled into the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedResourcesPolicy(),
		scmRemovalReviewPolicy(),
		massRemovalPolicy(),
	}
}

// protectedResourcesPolicy blocks removal of resources flagged protected.
func protectedResourcesPolicy() Policy {
	return Policy{
		Name:        "protected-resources",
		Description: "Denies removal of resources whose metadata sets protected to true",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		Source:      SourceBuiltin,
		Rego: `package reign.policies.protected

import rego.v1

deny contains violation if {
	some removal in input.plan.removals
	protected(removal.metadata)
	violation := {
		"message": sprintf("resource %s is protected and cannot be removed", [removal.resource_id]),
		"severity": "error",
		"resource": removal.resource_id,
	}
}

protected(metadata) if metadata.protected == true

protected(metadata) if {
	is_string(metadata.protected)
	lower(metadata.protected) == "true"
}`,
	}
}

// scmRemovalReviewPolicy flags removals of source control resources.
func scmRemovalReviewPolicy() Policy {
	return Policy{
		Name:        "scm-removal-review",
		Description: "Warns when a rollback removes GitHub resources, which may hold history that cannot be recreated",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"review", "github"},
		Source:      SourceBuiltin,
		Rego: `package reign.policies.scm

import rego.v1

deny contains violation if {
	some removal in input.plan.removals
	removal.agent_type == "github"
	violation := {
		"message": sprintf("removing %s %s deletes data held by GitHub; review before applying", [removal.resource_type, removal.resource_id]),
		"severity": "warning",
		"resource": removal.resource_id,
	}
}`,
	}
}

// massRemovalPolicy flags plans that tear down many resources at once.
func massRemovalPolicy() Policy {
	return Policy{
		Name:        "mass-removal",
		Description: "Warns when a plan removes more resources than the configured limit",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety"},
		Source:      SourceBuiltin,
		Rego: `package reign.policies.mass_removal

import rego.v1

max_removals := input.context.max_removals if {
	input.context.max_removals > 0
} else := 10

deny contains violation if {
	n := count(input.plan.to_remove)
	n > max_removals
	violation := {
		"message": sprintf("plan removes %d resources, more than the limit of %d", [n, max_removals]),
		"severity": "warning",
	}
}`,
	}
}
