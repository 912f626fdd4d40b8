package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.System.TotalTubes != 6 || len(cfg.System.Tubes) != 6 {
		t.Fatalf("tubes = %d/%d, want 6/6", cfg.System.TotalTubes, len(cfg.System.Tubes))
	}
	if cfg.Business.EngagementInterval != time.Second || cfg.Business.StatusInterval != time.Second {
		t.Fatalf("business intervals = %+v", cfg.Business)
	}
	if got := cfg.Weapons[weapon.KindMine].MaxSpeedMps; got != 6 {
		t.Fatalf("mine max speed = %v, want 6", got)
	}
	if cfg.Server.GRPCAddr != ":50061" {
		t.Fatalf("grpc addr = %q", cfg.Server.GRPCAddr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" || !cfg.Logging.AddSource || cfg.Logging.MaxSizeMB != 64 {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Tracing.Enabled || cfg.Tracing.Exporter != "stdout" || cfg.Tracing.SampleRatio != 1 || cfg.Tracing.ServiceName != "launch-tube-controller" {
		t.Fatalf("tracing = %+v", cfg.Tracing)
	}
}

func TestLoadTOMLOverridesMergeOntoDefaults(t *testing.T) {
	path := writeFile(t, "tube.toml", `
[system]
total_tubes = 2

[[system.tubes]]
number = 1
kind = "M_MINE"

[[system.tubes]]
number = 2
kind = "N/A"

[business]
engagement_interval = "500ms"

[weapons.mine]
max_range_km = 12.5
launch_delay = "2s"

[dropplan]
file = "/var/lib/tube/plans.json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.System.TotalTubes != 2 || len(cfg.System.Tubes) != 2 {
		t.Fatalf("system = %+v", cfg.System)
	}
	kinds, err := cfg.TubeKinds()
	if err != nil {
		t.Fatalf("TubeKinds: %v", err)
	}
	if kinds[1] != weapon.KindMine || kinds[2] != weapon.KindNone {
		t.Fatalf("kinds = %v", kinds)
	}
	if cfg.Business.EngagementInterval != 500*time.Millisecond {
		t.Fatalf("engagement interval = %v", cfg.Business.EngagementInterval)
	}
	if cfg.Business.StatusInterval != time.Second {
		t.Fatalf("status interval should keep its default, got %v", cfg.Business.StatusInterval)
	}
	mine := cfg.Weapons[weapon.KindMine]
	if mine.MaxRangeKm != 12.5 || mine.LaunchDelay != 2*time.Second {
		t.Fatalf("mine override not applied: %+v", mine)
	}
	if mine.MaxSpeedMps != weapon.DefaultSpecs()[weapon.KindMine].MaxSpeedMps {
		t.Fatalf("mine fields absent from the file should keep defaults: %+v", mine)
	}
	if cfg.DropPlan.File != "/var/lib/tube/plans.json" {
		t.Fatalf("dropplan file = %q", cfg.DropPlan.File)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TUBE_SERVER_GRPC_ADDR", "127.0.0.1:7000")
	t.Setenv("TUBE_TIMING_POLL_INTERVAL", "250ms")
	t.Setenv("TUBE_TELEMETRY_RECORDER_PATH", "/tmp/flight.zst")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:7000" {
		t.Fatalf("grpc addr = %q", cfg.Server.GRPCAddr)
	}
	if cfg.Timing.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.Timing.PollInterval)
	}
	if cfg.Telemetry.RecorderPath != "/tmp/flight.zst" {
		t.Fatalf("recorder path = %q", cfg.Telemetry.RecorderPath)
	}
}

func TestLoadLoggingAndTracingSections(t *testing.T) {
	path := writeFile(t, "tube.yaml", `
logging:
  level: debug
  format: json
  file: /var/log/tube/tube.log
  max_backups: 3
tracing:
  enabled: true
  exporter: otlp
  endpoint: collector:4317
  sample_ratio: 0.5
`)
	t.Setenv("TUBE_LOGGING_LEVEL", "warn")
	t.Setenv("TUBE_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("TUBE_TRACING_SERVICE_NAME", "tube-ship-7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lg := cfg.Logging
	if lg.Level != "warn" || lg.Format != "json" || lg.File != "/var/log/tube/tube.log" || lg.MaxBackups != 3 {
		t.Fatalf("logging = %+v", lg)
	}
	if lg.MaxAgeDays != 14 {
		t.Fatalf("logging.max_age_days should keep its default, got %d", lg.MaxAgeDays)
	}
	tr := cfg.Tracing
	if !tr.Enabled || tr.Exporter != "otlp" || tr.Endpoint != "collector:4317" {
		t.Fatalf("tracing = %+v", tr)
	}
	if tr.SampleRatio != 0.25 || tr.ServiceName != "tube-ship-7" {
		t.Fatalf("tracing env overrides not applied: %+v", tr)
	}
}

func TestLoadTracingEnabledFromEnv(t *testing.T) {
	t.Setenv("TUBE_TRACING_ENABLED", "true")
	t.Setenv("TUBE_TRACING_EXPORTER", "otlp")
	t.Setenv("TUBE_LOGGING_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" {
		t.Fatalf("tracing = %+v", cfg.Tracing)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging format = %q", cfg.Logging.Format)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestApplyDefaultsZeroValue(t *testing.T) {
	cfg := Config{}.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Timing.Slice != 100*time.Millisecond {
		t.Fatalf("slice = %v", cfg.Timing.Slice)
	}
	if len(cfg.Weapons) != len(weapon.Kinds()) {
		t.Fatalf("weapons = %d, want %d", len(cfg.Weapons), len(weapon.Kinds()))
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tube out of range", func(c *Config) { c.System.Tubes = []TubeConfig{{Number: 7, Kind: "ALM"}} }},
		{"duplicate tube", func(c *Config) {
			c.System.Tubes = []TubeConfig{{Number: 1, Kind: "ALM"}, {Number: 1, Kind: "MINE"}}
		}},
		{"unknown kind", func(c *Config) { c.System.Tubes = []TubeConfig{{Number: 1, Kind: "SAM"}} }},
		{"bad spec", func(c *Config) {
			s := c.Weapons[weapon.KindALM]
			s.MaxSpeedMps = 0
			c.Weapons[weapon.KindALM] = s
		}},
		{"zero interval", func(c *Config) { c.Business.StatusInterval = 0 }},
		{"no dropplan file", func(c *Config) { c.DropPlan.File = "" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
