package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := LoggingConfig{Level: level, Format: "json", TimeFormat: "rfc3339"}
	return NewLoggerWithWriter(cfg, &buf), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLoggerFields(t *testing.T) {
	logger, buf := newBufferLogger("info")

	logger.NewComponentLogger("planner").
		WithCheckpointID("cp-1").
		WithResourceID("web").
		Info("planned")

	entry := decodeLine(t, buf)
	if entry["component"] != "planner" {
		t.Errorf("expected component planner, got %v", entry["component"])
	}
	if entry["checkpoint_id"] != "cp-1" {
		t.Errorf("expected checkpoint_id cp-1, got %v", entry["checkpoint_id"])
	}
	if entry["resource_id"] != "web" {
		t.Errorf("expected resource_id web, got %v", entry["resource_id"])
	}
	if entry["message"] != "planned" {
		t.Errorf("expected message planned, got %v", entry["message"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger("warn")

	logger.Debug("hidden")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	logger.Warn("visible")
	entry := decodeLine(t, buf)
	if entry["level"] != "warn" {
		t.Errorf("expected level warn, got %v", entry["level"])
	}
	if entry["message"] != "visible" {
		t.Errorf("expected message visible, got %v", entry["message"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger, buf := newBufferLogger("info")

	logger.WithFields(map[string]any{"driver": "sqlite", "removed": 2}).
		WithField("command", "remove").
		Infof("removed %d resources", 2)

	entry := decodeLine(t, buf)
	if entry["driver"] != "sqlite" {
		t.Errorf("expected driver sqlite, got %v", entry["driver"])
	}
	if entry["removed"] != float64(2) {
		t.Errorf("expected removed 2, got %v", entry["removed"])
	}
	if entry["command"] != "remove" {
		t.Errorf("expected command remove, got %v", entry["command"])
	}
	if entry["message"] != "removed 2 resources" {
		t.Errorf("expected formatted message, got %v", entry["message"])
	}
}

func TestLoggerContext(t *testing.T) {
	logger, _ := newBufferLogger("info")

	ctx := logger.WithContext(context.Background())
	if got := FromContext(ctx); got != logger {
		t.Error("expected logger from context to be the stored logger")
	}

	fallback := FromContext(context.Background())
	if fallback.Zerolog().GetLevel() != zerolog.Disabled {
		t.Errorf("expected disabled fallback logger, got level %v", fallback.Zerolog().GetLevel())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"fatal":   zerolog.FatalLevel,
		"unknown": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for otlp exporter without endpoint")
	}

	for name, preset := range map[string]*Config{
		"production":  ProductionConfig(),
		"development": DevelopmentConfig(),
	} {
		if err := preset.Validate(); err != nil {
			t.Errorf("expected %s config to be valid, got %v", name, err)
		}
	}
	if got := ProductionConfig().Tracing.Endpoint; got != DefaultOTLPEndpoint {
		t.Errorf("expected production endpoint %s, got %q", DefaultOTLPEndpoint, got)
	}

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log format")
	}

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for sampling rate above 1")
	}
}
