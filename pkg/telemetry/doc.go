// Package telemetry provides observability instrumentation for the state engine.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one configuration.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	manager := state.NewManager(backend, tel.ManagerOptions()...)
//
// # Logging
//
// Loggers are component scoped and can travel in a context:
//
//	logger := tel.Logger.NewComponentLogger("cli").WithCheckpointID(id)
//	logger.Info("Restoring checkpoint")
//
// # Metrics
//
// Metrics implements state.Observer. Collected series:
//
//	<ns>_state_operations_total{operation, result}
//	<ns>_state_operation_duration_seconds{operation}
//	<ns>_resources_tracked{status}
//	<ns>_checkpoints_created_total
//	<ns>_rollbacks_total{mode}
//	<ns>_storage_recoveries_total
//
// Long-running hosts expose them over HTTP with StartMetricsServer. Short
// CLI runs can set MetricsConfig.TextfilePath so Shutdown writes a textfile
// for node_exporter's textfile collector.
//
// # Tracing
//
// Supported exporters are otlp (gRPC), stdout and none. The state manager
// wraps every public operation in a span named "state.<operation>".
package telemetry
