package policy

import (
	"time"

	"github.com/reignhq/reign/pkg/state"
)

// Severity represents the severity level of a policy finding.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the rollback.
	SeverityError Severity = "error"

	// SeverityCritical blocks the rollback.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether findings of this severity deny a plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

func (s Severity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// SourceBuiltin marks policies compiled into the binary.
const SourceBuiltin = "builtin"

// Policy is a Rego module whose deny set is evaluated against rollback plans.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to findings that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was read from, or SourceBuiltin.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was read.
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the document exposed to policies as input.
type Input struct {
	// Plan is the rollback plan being vetted.
	Plan *state.RollbackPlan `json:"plan"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// Context describes the evaluation.
type Context struct {
	// Operation is "rollback" for checkpoint restores and "remove" for
	// targeted removals.
	Operation string `json:"operation"`

	// MaxRemovals is the removal count above which the mass-removal
	// policy warns.
	MaxRemovals int `json:"max_removals"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// Operations reported in Context.
const (
	OperationRollback = "rollback"
	OperationRemove   = "remove"
)
