package config

import (
	"fmt"
	"time"

	"github.com/reignhq/reign/pkg/state"
	"github.com/reignhq/reign/pkg/telemetry"
)

// Config is the complete configuration for a reign-state process.
type Config struct {
	// Storage selects and configures the persistence backend.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Policy configures the rollback policy guard.
	Policy PolicyConfig `mapstructure:"policy" yaml:"policy"`

	// Telemetry carries logging, tracing and metrics settings. Its keys sit
	// at the top level of the file (logging:, tracing:, metrics:).
	Telemetry telemetry.Config `mapstructure:",squash" yaml:",inline"`
}

// StorageConfig configures state storage.
type StorageConfig struct {
	// Driver is the backend implementation (sqlite, badger).
	Driver string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=sqlite badger"`

	// Path is the SQLite database file or the Badger directory.
	Path string `mapstructure:"path" yaml:"path" validate:"required_without=InMemory"`

	// InMemory keeps all state in memory. Nothing survives the process.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout" validate:"gte=0"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// PolicyConfig configures policy enforcement for rollbacks.
type PolicyConfig struct {
	// Enabled turns the guard on. A disabled guard never blocks a rollback.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Paths lists .rego files or directories loaded on top of the built-ins.
	Paths []string `mapstructure:"paths" yaml:"paths" validate:"dive,required"`

	// Watch reloads policies from Paths when they change.
	Watch bool `mapstructure:"watch" yaml:"watch"`

	// SkipBuiltins disables the built-in policies.
	SkipBuiltins bool `mapstructure:"skip_builtins" yaml:"skip_builtins"`

	// MaxRemovals is the removal count above which the mass-removal policy warns.
	MaxRemovals int `mapstructure:"max_removals" yaml:"max_removals" validate:"gte=0"`
}

// ParsedManifest holds the resources read from one or more manifest sources.
type ParsedManifest struct {
	// Resources in the order they were read. Later duplicates replace earlier ones in place.
	Resources []state.Resource `json:"resources" yaml:"resources"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files" yaml:"source_files"`

	// ParsedAt is when the manifest was parsed.
	ParsedAt time.Time `json:"parsed_at" yaml:"parsed_at"`

	// Errors lists problems found while parsing or validating.
	Errors []ValidationError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// HasErrors reports whether any error-severity problem was found.
func (p *ParsedManifest) HasErrors() bool {
	for _, e := range p.Errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Severity levels for ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a manifest problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty" yaml:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty" yaml:"column,omitempty"`

	// Path locates the value, e.g. "resources[2].agent_type".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message" yaml:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity" yaml:"severity"`
}

func (e ValidationError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}
