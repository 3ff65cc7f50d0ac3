package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/reignhq/reign/pkg/state"
)

// Metrics provides Prometheus metrics for the state engine.
// It implements state.Observer; a disabled instance drops everything.
type Metrics struct {
	config MetricsConfig

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	resourcesTracked  *prometheus.GaugeVec
	checkpoints       prometheus.Counter
	rollbacks         *prometheus.CounterVec
	recoveries        prometheus.Counter

	registry *prometheus.Registry
	server   *http.Server
}

var _ state.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_operations_total",
				Help:      "Total number of state manager operations by result",
			},
			[]string{"operation", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "state_operation_duration_seconds",
				Help:      "Duration of state manager operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		resourcesTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_tracked",
				Help:      "Current number of tracked resources by status",
			},
			[]string{"status"},
		),
		checkpoints: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_created_total",
				Help:      "Total number of checkpoints created",
			},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of rollbacks applied by mode",
			},
			[]string{"mode"},
		),
		recoveries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_recoveries_total",
				Help:      "Total number of times an unusable store was replaced at open",
			},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.resourcesTracked,
		m.checkpoints,
		m.rollbacks,
		m.recoveries,
	)

	return m, nil
}

// Registry returns the collector registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation records the outcome and duration of a manager operation.
func (m *Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m.operations == nil {
		return
	}
	m.operations.WithLabelValues(operation, resultLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// resultLabel maps an error to a bounded label value.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if kind := state.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

// SetResourceCounts sets the tracked resource gauges.
func (m *Metrics) SetResourceCounts(counts map[state.Status]int) {
	if m.resourcesTracked == nil {
		return
	}
	for _, st := range state.AllStatuses {
		m.resourcesTracked.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// CheckpointCreated increments the checkpoint counter.
func (m *Metrics) CheckpointCreated() {
	if m.checkpoints == nil {
		return
	}
	m.checkpoints.Inc()
}

// Rollback increments the rollback counter for the mode.
func (m *Metrics) Rollback(mode string) {
	if m.rollbacks == nil {
		return
	}
	m.rollbacks.WithLabelValues(mode).Inc()
}

// StorageRecovered increments the storage recovery counter.
func (m *Metrics) StorageRecovered() {
	if m.recoveries == nil {
		return
	}
	m.recoveries.Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
// It does nothing when metrics are disabled or no address is configured.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	return nil
}

// Flush writes the current metrics to the configured textfile, if any.
func (m *Metrics) Flush() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Shutdown stops the metrics server, if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
