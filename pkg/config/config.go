package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/reignhq/reign/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. REIGN_STORAGE_PATH.
const EnvPrefix = "REIGN"

// DefaultStatePath is the CLI default database location, relative to the working directory.
const DefaultStatePath = ".reign/state.db"

// Default returns the configuration used when no file or override is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        DefaultStatePath,
			BusyTimeout: 5 * time.Second,
			SyncWrites:  true,
		},
		Policy: PolicyConfig{
			Enabled:     true,
			MaxRemovals: 10,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// ForEnvironment returns the defaults for a named environment. An empty name
// gives Default; "development" and "production" swap in the matching
// telemetry presets.
func ForEnvironment(env string) (*Config, error) {
	cfg := Default()
	switch env {
	case "":
	case "development":
		cfg.Telemetry = *telemetry.DevelopmentConfig()
	case "production":
		cfg.Telemetry = *telemetry.ProductionConfig()
	default:
		return nil, fmt.Errorf("unknown environment %q (want development or production)", env)
	}
	return cfg, nil
}

// NewViper returns a viper instance primed with defaults and REIGN_ environment
// overrides. Callers may bind flags to it before calling LoadWith.
func NewViper() *viper.Viper {
	return newViper(Default())
}

// NewViperFor is NewViper with the defaults of a named environment.
func NewViperFor(env string) (*viper.Viper, error) {
	defaults, err := ForEnvironment(env)
	if err != nil {
		return nil, err
	}
	return newViper(defaults), nil
}

func newViper(defaults *Config) *viper.Viper {
	v := viper.New()
	setDefaults(v, defaults)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from path (YAML) layered over defaults and environment.
// An empty path searches for reign.yaml in the working directory and .reign/.
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith loads configuration using a prepared viper instance.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("reign")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".reign")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.sync_writes", d.Storage.SyncWrites)

	v.SetDefault("policy.enabled", d.Policy.Enabled)
	v.SetDefault("policy.paths", d.Policy.Paths)
	v.SetDefault("policy.watch", d.Policy.Watch)
	v.SetDefault("policy.skip_builtins", d.Policy.SkipBuiltins)
	v.SetDefault("policy.max_removals", d.Policy.MaxRemovals)

	t := d.Telemetry
	v.SetDefault("service_name", t.ServiceName)
	v.SetDefault("service_version", t.ServiceVersion)
	v.SetDefault("environment", t.Environment)

	v.SetDefault("logging.level", t.Logging.Level)
	v.SetDefault("logging.format", t.Logging.Format)
	v.SetDefault("logging.output", t.Logging.Output)
	v.SetDefault("logging.enable_caller", t.Logging.EnableCaller)
	v.SetDefault("logging.time_format", t.Logging.TimeFormat)

	v.SetDefault("tracing.enabled", t.Tracing.Enabled)
	v.SetDefault("tracing.exporter", t.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", t.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", t.Tracing.SamplingRate)
	v.SetDefault("tracing.max_export_batch_size", t.Tracing.MaxExportBatchSize)
	v.SetDefault("tracing.export_timeout", t.Tracing.ExportTimeout)
	v.SetDefault("tracing.insecure", t.Tracing.Insecure)

	v.SetDefault("metrics.enabled", t.Metrics.Enabled)
	v.SetDefault("metrics.listen_address", t.Metrics.ListenAddress)
	v.SetDefault("metrics.path", t.Metrics.Path)
	v.SetDefault("metrics.namespace", t.Metrics.Namespace)
	v.SetDefault("metrics.textfile_path", t.Metrics.TextfilePath)
	v.SetDefault("metrics.histogram_buckets", t.Metrics.DefaultHistogramBuckets)
}
