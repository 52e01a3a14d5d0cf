// Package config holds runtime configuration for the aura daemons:
// defaults, YAML overlay, and fail-fast validation at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tajalagawani/aura/internal/otel"
)

// Duration wraps time.Duration so YAML files can use "500ms" / "30s"
// notation.
type Duration time.Duration

// UnmarshalYAML parses Go duration notation.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders Go duration notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Thresholds is the change significance policy.
type Thresholds struct {
	CPUPercent             float64  `yaml:"cpu_percent"`
	MemoryPercent          float64  `yaml:"memory_percent"`
	StoragePercent         float64  `yaml:"storage_percent"`
	NetworkConnections     float64  `yaml:"network_connections"`
	ResponseTimeMultiplier float64  `yaml:"response_time_multiplier"`
	DefaultRelativePercent float64  `yaml:"default_relative_percent"`
	RefreshAfter           Duration `yaml:"refresh_after"`
}

// Sampling bounds the adaptive sampler.
type Sampling struct {
	Initial Duration `yaml:"initial"`
	Min     Duration `yaml:"min"`
	Max     Duration `yaml:"max"`
}

// Aggregation tunes the flush loop.
type Aggregation struct {
	ModerateBacklog   int      `yaml:"moderate_backlog"`
	HeavyBacklog      int      `yaml:"heavy_backlog"`
	Overload          int      `yaml:"overload"`
	EmergencyCeiling  int      `yaml:"emergency_ceiling"`
	MaxParallelWrites int      `yaml:"max_parallel_writes"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

// Guardian tunes the validator/repairer loop.
type Guardian struct {
	ValidationInterval Duration `yaml:"validation_interval"`
	StalenessMax       Duration `yaml:"staleness_max"`
	LockProbeTimeout   Duration `yaml:"lock_probe_timeout"`
	RepairEnabled      bool     `yaml:"repair_enabled"`
	AuditLogPath       string   `yaml:"audit_log_path"`
}

// Coordination connects an instance to the coordination point.
type Coordination struct {
	Dir               string   `yaml:"dir"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	LivenessTimeout   Duration `yaml:"liveness_timeout"`
}

// Telemetry selects OpenTelemetry export.
type Telemetry struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	Exporter       string `yaml:"exporter"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// Config is the full daemon configuration.
type Config struct {
	RecordsDir  string   `yaml:"records_dir"`
	LockTimeout Duration `yaml:"lock_timeout"`

	Thresholds   Thresholds   `yaml:"thresholds"`
	Sampling     Sampling     `yaml:"sampling"`
	Aggregation  Aggregation  `yaml:"aggregation"`
	Guardian     Guardian     `yaml:"guardian"`
	Coordination Coordination `yaml:"coordination"`
	Telemetry    Telemetry    `yaml:"telemetry"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		RecordsDir:  "./assets",
		LockTimeout: Duration(500 * time.Millisecond),
		Thresholds: Thresholds{
			CPUPercent:             5.0,
			MemoryPercent:          5.0,
			StoragePercent:         1.0,
			NetworkConnections:     10,
			ResponseTimeMultiplier: 2.0,
			DefaultRelativePercent: 10.0,
			RefreshAfter:           Duration(5 * time.Minute),
		},
		Sampling: Sampling{
			Initial: Duration(500 * time.Millisecond),
			Min:     Duration(100 * time.Millisecond),
			Max:     Duration(5 * time.Second),
		},
		Aggregation: Aggregation{
			ModerateBacklog:   100,
			HeavyBacklog:      1000,
			Overload:          3000,
			EmergencyCeiling:  5000,
			MaxParallelWrites: 32,
			ShutdownTimeout:   Duration(5 * time.Second),
		},
		Guardian: Guardian{
			ValidationInterval: Duration(30 * time.Second),
			StalenessMax:       Duration(5 * time.Minute),
			LockProbeTimeout:   Duration(1 * time.Second),
			RepairEnabled:      true,
			AuditLogPath:       "./guardian-audit.jsonl",
		},
		Coordination: Coordination{
			Dir:               "./coordination",
			HeartbeatInterval: Duration(10 * time.Second),
			LivenessTimeout:   Duration(30 * time.Second),
		},
		Telemetry: Telemetry{
			Exporter: string(otel.ExporterNone),
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate fails fast on configuration a daemon cannot run with.
// Called once at startup; there is no automatic recovery from a bad
// config.
func (c *Config) Validate() error {
	if c.RecordsDir == "" {
		return fmt.Errorf("records_dir cannot be empty")
	}
	if c.Thresholds.CPUPercent <= 0 || c.Thresholds.MemoryPercent <= 0 || c.Thresholds.StoragePercent <= 0 {
		return fmt.Errorf("percentage thresholds must be positive")
	}
	if c.Thresholds.NetworkConnections <= 0 {
		return fmt.Errorf("network_connections threshold must be positive")
	}
	if c.Sampling.Min.Std() <= 0 || c.Sampling.Max.Std() < c.Sampling.Min.Std() {
		return fmt.Errorf("sampling bounds invalid: min=%s max=%s", c.Sampling.Min.Std(), c.Sampling.Max.Std())
	}
	if c.Aggregation.EmergencyCeiling > 0 && c.Aggregation.EmergencyCeiling <= c.Aggregation.Overload {
		return fmt.Errorf("emergency_ceiling %d must exceed overload tier %d",
			c.Aggregation.EmergencyCeiling, c.Aggregation.Overload)
	}
	switch otel.ExporterType(c.Telemetry.Exporter) {
	case otel.ExporterNone, otel.ExporterStdout, otel.ExporterOTLPGRPC, otel.ExporterOTLPHTTP:
	default:
		return fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter)
	}
	return nil
}
