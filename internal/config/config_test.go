package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Thresholds.StoragePercent != 1.0 {
		t.Errorf("expected storage threshold 1.0, got %v", cfg.Thresholds.StoragePercent)
	}
	if cfg.Sampling.Initial.Std() != 500*time.Millisecond {
		t.Errorf("expected initial sampling 500ms, got %s", cfg.Sampling.Initial.Std())
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Aggregation.EmergencyCeiling != 5000 {
		t.Errorf("expected default ceiling 5000, got %d", cfg.Aggregation.EmergencyCeiling)
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aura.yaml")
	content := `
records_dir: /var/lib/aura
thresholds:
  cpu_percent: 3.0
  refresh_after: 2m
sampling:
  min: 250ms
guardian:
  repair_enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RecordsDir != "/var/lib/aura" {
		t.Errorf("expected records_dir override, got %s", cfg.RecordsDir)
	}
	if cfg.Thresholds.CPUPercent != 3.0 {
		t.Errorf("expected cpu threshold 3.0, got %v", cfg.Thresholds.CPUPercent)
	}
	if cfg.Thresholds.RefreshAfter.Std() != 2*time.Minute {
		t.Errorf("expected refresh_after 2m, got %s", cfg.Thresholds.RefreshAfter.Std())
	}
	if cfg.Sampling.Min.Std() != 250*time.Millisecond {
		t.Errorf("expected sampling min 250ms, got %s", cfg.Sampling.Min.Std())
	}
	if cfg.Guardian.RepairEnabled {
		t.Error("expected repair disabled by overlay")
	}
	// Untouched keys keep their defaults.
	if cfg.Thresholds.MemoryPercent != 5.0 {
		t.Errorf("expected memory threshold default 5.0, got %v", cfg.Thresholds.MemoryPercent)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aura.yaml")
	if err := os.WriteFile(path, []byte("sampling:\n  min: soon\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty records dir", func(c *Config) { c.RecordsDir = "" }},
		{"zero cpu threshold", func(c *Config) { c.Thresholds.CPUPercent = 0 }},
		{"inverted sampling bounds", func(c *Config) { c.Sampling.Max = Duration(10 * time.Millisecond) }},
		{"ceiling below overload", func(c *Config) { c.Aggregation.EmergencyCeiling = 100 }},
		{"unknown exporter", func(c *Config) { c.Telemetry.Exporter = "carrier-pigeon" }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation failure", tt.name)
		}
	}
}
