package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/reignhq/reign/pkg/config"
	"github.com/reignhq/reign/pkg/policy"
	"github.com/reignhq/reign/pkg/state"
	"github.com/reignhq/reign/pkg/stores"
	"github.com/reignhq/reign/pkg/telemetry"
)

// app carries global flags and the services opened for a single command.
type app struct {
	// Global flags
	configPath  string
	env         string
	dbPath      string
	driver      string
	jsonOutput  bool
	output      string
	verbose     bool
	metricsFile string

	cfg    *config.Config
	tel    *telemetry.Telemetry
	mgr    *state.Manager
	guard  *policy.Engine
	logger zerolog.Logger
	span   trace.Span
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := &app{logger: zerolog.Nop()}
	rootCmd := newRootCommand(a, version, commit, buildDate)

	err := rootCmd.ExecuteContext(ctx)
	if closeErr := a.close(err); closeErr != nil {
		a.logger.Warn().Err(closeErr).Msg("Shutdown was not clean")
	}
	return err
}

func newRootCommand(a *app, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reign-state",
		Short: "Reign - infrastructure state and rollback engine",
		Long: color.CyanString("Reign tracks the resources your deployment agents create") + `

It records every resource reported by the docker, kubernetes, terraform and
github agents together with its dependencies, takes checkpoints of the
deployed set, and plans rollbacks that tear resources down in dependency
order.`,
		Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup(cmd) },
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (default: reign.yaml in . or .reign/)")
	rootCmd.PersistentFlags().StringVar(&a.env, "env", "", "environment preset: development or production (default: $REIGN_ENV)")
	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "state store path (overrides storage.path)")
	rootCmd.PersistentFlags().StringVar(&a.driver, "driver", "", "storage driver: sqlite or badger (overrides storage.driver)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format (same as --output json)")
	rootCmd.PersistentFlags().StringVarP(&a.output, "output", "o", formatTable, "output format: table, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	// Add subcommands
	rootCmd.AddCommand(newRecordCommand(a))
	rootCmd.AddCommand(newGetCommand(a))
	rootCmd.AddCommand(newListCommand(a))
	rootCmd.AddCommand(newDependentsCommand(a))
	rootCmd.AddCommand(newTimelineCommand(a))
	rootCmd.AddCommand(newCheckpointCommand(a))
	rootCmd.AddCommand(newPlanCommand(a))
	rootCmd.AddCommand(newRollbackCommand(a))
	rootCmd.AddCommand(newRemoveCommand(a))
	rootCmd.AddCommand(newAuditCommand(a))
	rootCmd.AddCommand(newReinitCommand(a))
	rootCmd.AddCommand(newGraphCommand(a))
	rootCmd.AddCommand(newPoliciesCommand(a))

	return rootCmd
}

// setup loads configuration and opens telemetry, the store and the policy
// guard. Resources are released by close.
func (a *app) setup(cmd *cobra.Command) error {
	if _, err := a.format(); err != nil {
		return err
	}

	env := a.env
	if env == "" {
		env = os.Getenv("REIGN_ENV")
	}
	v, err := config.NewViperFor(env)
	if err != nil {
		return err
	}
	for key, flag := range map[string]string{
		"storage.path":          "db",
		"storage.driver":        "driver",
		"metrics.textfile_path": "metrics-file",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", flag, err)
			}
		}
	}

	cfg, err := config.LoadWith(v, a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	a.cfg = cfg

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tel = tel
	a.logger = tel.Logger.Zerolog()

	name := commandName(cmd)
	var ctx context.Context
	ctx, a.span = tel.Tracer.StartCommandSpan(tel.WithContext(cmd.Context()), name)
	log := tel.Logger.NewComponentLogger("cli").WithField("command", name)
	if id := telemetry.TraceID(ctx); id != "" {
		log = log.WithField("trace_id", id)
	}
	ctx = log.WithContext(ctx)
	cmd.SetContext(ctx)

	if err := tel.StartMetricsServer(); err != nil {
		return err
	}

	backend, err := stores.OpenBackend(ctx, cfg.Storage, a.logger)
	if err != nil {
		return err
	}

	opts := tel.ManagerOptions()
	if cfg.Policy.Enabled {
		guard, err := policy.NewEngineFromConfig(ctx, cfg.Policy, a.logger)
		if err != nil {
			_ = backend.Close()
			return fmt.Errorf("failed to initialize policy guard: %w", err)
		}
		a.guard = guard
		opts = append(opts, state.WithPlanGuard(guard))
	}
	a.mgr = state.NewManager(backend, opts...)

	if werr := a.mgr.RecoveryWarning(); werr != nil {
		log.WithError(werr).Warn("State store was replaced at open")
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", color.RedString("warning:"), werr)
	}

	log.WithFields(map[string]any{
		"driver":      cfg.Storage.Driver,
		"path":        cfg.Storage.Path,
		"policy":      cfg.Policy.Enabled,
		"environment": cfg.Telemetry.Environment,
	}).Debug("State manager ready")
	return nil
}

// close ends the command span and releases everything setup opened.
func (a *app) close(cmdErr error) error {
	if a.span != nil {
		if cmdErr != nil {
			telemetry.RecordError(a.span, cmdErr)
		} else {
			telemetry.RecordSuccess(a.span)
		}
		a.span.End()
		a.span = nil
	}

	var errs []error
	if a.guard != nil {
		errs = append(errs, a.guard.Close())
		a.guard = nil
	}
	if a.mgr != nil {
		errs = append(errs, a.mgr.Close())
		a.mgr = nil
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.tel.Shutdown(ctx))
		a.tel = nil
	}
	return errors.Join(errs...)
}

// commandName returns the command path without the binary, dot separated.
func commandName(cmd *cobra.Command) string {
	parts := strings.Fields(cmd.CommandPath())
	if len(parts) <= 1 {
		return "root"
	}
	return strings.Join(parts[1:], ".")
}
