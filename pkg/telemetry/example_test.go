package telemetry_test

import (
	"context"
	"fmt"
	"os"

	"github.com/reignhq/reign/pkg/state"
	"github.com/reignhq/reign/pkg/stores"
	"github.com/reignhq/reign/pkg/telemetry"
)

// Example_basicSetup demonstrates wiring telemetry into the state manager.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	backend, err := stores.OpenSQLite(ctx, stores.Config{Path: ":memory:", InMemory: true})
	if err != nil {
		panic(err)
	}
	manager := state.NewManager(backend, tel.ManagerOptions()...)
	defer manager.Close()

	telemetry.FromContext(ctx).Info("State manager ready")

	// Output varies, no output specified
}

// Example_structuredLogging demonstrates component loggers with state fields.
func Example_structuredLogging() {
	cfg := telemetry.DefaultConfig().Logging
	cfg.Format = "json"
	cfg.Level = "debug"

	logger := telemetry.NewLoggerWithWriter(cfg, os.Stdout).NewComponentLogger("rollback")

	logger = logger.WithCheckpointID("3f1c2a9e").WithResourceID("web")
	logger.Debug("Planning removal")
	logger.WithError(fmt.Errorf("resource busy")).Warn("Removal deferred")

	// Output varies, no output specified
}

// Example_metricsTextfile demonstrates dumping metrics at process exit.
func Example_metricsTextfile() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.TextfilePath = os.TempDir() + "/reign-example.prom"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}

	tel.Metrics.CheckpointCreated()
	tel.Metrics.Rollback(state.RollbackModeCheckpoint)

	if err := tel.Shutdown(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println("metrics written")
	// Output: metrics written
}
