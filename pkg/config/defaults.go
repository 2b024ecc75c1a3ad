package config

import (
	"strings"
	"time"

	"github.com/netloom/netloom/pkg/api"
	"github.com/netloom/netloom/pkg/metrics"
	"github.com/netloom/netloom/pkg/notification"
	"github.com/netloom/netloom/pkg/ports"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	cfg.Database.ApplyDefaults()
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
	applyControllerDefaults(&cfg.Controller)
	applyNotificationDefaults(&cfg.Notification)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *metrics.Config) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAPIDefaults sets REST API server defaults.
// The API is always enabled (mandatory for managing projects and computes).
func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 3080
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
}

// applyControllerDefaults sets orchestration defaults.
func applyControllerDefaults(cfg *ControllerConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = getDataDir()
	}
	if cfg.ConsolePortStart == 0 {
		cfg.ConsolePortStart = ports.DefaultConsolePortStart
	}
	if cfg.ConsolePortEnd == 0 {
		cfg.ConsolePortEnd = ports.DefaultConsolePortEnd
	}
	if cfg.UDPPortStart == 0 {
		cfg.UDPPortStart = ports.DefaultUDPPortStart
	}
	if cfg.UDPPortEnd == 0 {
		cfg.UDPPortEnd = ports.DefaultUDPPortEnd
	}
	if cfg.BulkConcurrency == 0 {
		cfg.BulkConcurrency = 8
	}
}

// applyNotificationDefaults sets event bus defaults.
func applyNotificationDefaults(cfg *NotificationConfig) {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = notification.DefaultQueueSize
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = notification.DefaultPingInterval
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
