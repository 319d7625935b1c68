package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/polisai/envbridge/pkg/engine"
)

// Version is reported in traces and by the CLI
const Version = "0.3.0"

// Engine backends selectable from configuration
const (
	EngineMock    = "mock"
	EngineProcess = "process"
)

// Config holds the configuration for the bridge
type Config struct {
	// Engine selects the backend: "mock" or "process"
	Engine string `yaml:"engine" json:"engine"`

	// Command is the engine worker command and arguments (process engine only)
	Command []string `yaml:"command" json:"command"`

	// WorkDir is the working directory for the worker process
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Env contains extra environment variables for the worker process
	Env []string `yaml:"env" json:"env"`

	// ShutdownTimeout bounds how long the worker gets to exit on release
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// DataRoot is the dataset root used when init does not name one
	DataRoot string `yaml:"data_root" json:"data_root"`

	// Split is the dataset split used when init does not name one
	Split string `yaml:"split" json:"split"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogJSON switches stderr logging to JSON records
	LogJSON bool `yaml:"log_json" json:"log_json"`

	// Metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// MetricsConfig holds metrics and observability configuration
type MetricsConfig struct {
	// Enabled determines if the metrics endpoint is served
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ListenAddr is the address of the metrics endpoint (e.g., "127.0.0.1:9464")
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Path is the HTTP path for metrics endpoint (default: /metrics)
	Path string `yaml:"path" json:"path"`

	// Tracing configuration
	Tracing *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	// Enabled determines if tracing is active
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Endpoint is the OTLP trace endpoint
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// ServiceName is the service name for traces
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Engine:          EngineProcess,
		Command:         []string{},
		Env:             []string{},
		ShutdownTimeout: 5 * time.Second,
		Split:           engine.DefaultSplit,
		LogLevel:        "info",
		Metrics: &MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
			Path:       "/metrics",
			Tracing: &TracingConfig{
				Enabled:     false,
				ServiceName: "envbridge",
			},
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineMock:
	case EngineProcess:
		if len(c.Command) == 0 {
			return errors.New("command is required for the process engine")
		}
	default:
		return fmt.Errorf("engine must be %q or %q, got %q", EngineMock, EngineProcess, c.Engine)
	}

	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}

	if c.Split != "" && !engine.ValidSplit(c.Split) {
		return fmt.Errorf("%w: %q", engine.ErrInvalidSplit, c.Split)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	if c.Metrics != nil && c.Metrics.Enabled {
		if c.Metrics.ListenAddr == "" {
			return errors.New("metrics.listen_addr is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	if c.Metrics != nil && c.Metrics.Tracing != nil && c.Metrics.Tracing.Enabled {
		if c.Metrics.Tracing.Endpoint == "" {
			return errors.New("metrics.tracing.endpoint is required when tracing is enabled")
		}
		if c.Metrics.Tracing.ServiceName == "" {
			c.Metrics.Tracing.ServiceName = "envbridge"
		}
	}

	return nil
}

// Tracing returns the tracing section, or nil when absent
func (c *Config) Tracing() *TracingConfig {
	if c.Metrics == nil {
		return nil
	}
	return c.Metrics.Tracing
}
