// Package config loads the tube controller configuration from a file and
// TUBE_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes every environment override, e.g. TUBE_SERVER_GRPC_ADDR.
const EnvPrefix = "TUBE"

// TubeConfig names what is physically loaded in one tube.
type TubeConfig struct {
	Number int    `mapstructure:"number"`
	Kind   string `mapstructure:"kind"`
}

// SystemConfig describes the tubes hosted by the process.
type SystemConfig struct {
	TotalTubes int          `mapstructure:"total_tubes"`
	Tubes      []TubeConfig `mapstructure:"tubes"`
}

// BusinessConfig holds the report periods.
type BusinessConfig struct {
	// EngagementInterval is the plan tick and engagement report period.
	EngagementInterval time.Duration `mapstructure:"engagement_interval"`
	// StatusInterval is the weapon status report period.
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// TimingConfig holds state machine and planner timing.
type TimingConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Slice        time.Duration `mapstructure:"slice"`
	PlanStep     time.Duration `mapstructure:"plan_step"`
}

// DropPlanConfig locates the mine drop plan document.
type DropPlanConfig struct {
	File string `mapstructure:"file"`
}

// TelemetryConfig configures the outbound telemetry sinks.
type TelemetryConfig struct {
	// RecorderPath enables the flight recorder when set.
	RecorderPath     string `mapstructure:"recorder_path"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	AddSource  bool   `mapstructure:"add_source"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Config is the full process configuration.
type Config struct {
	System    SystemConfig    `mapstructure:"system"`
	Business  BusinessConfig  `mapstructure:"business"`
	Timing    TimingConfig    `mapstructure:"timing"`
	DropPlan  DropPlanConfig  `mapstructure:"dropplan"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`

	// Weapons holds the per-kind specs after file overrides are merged onto
	// weapon.DefaultSpecs.
	Weapons map[weapon.Kind]weapon.Spec `mapstructure:"-"`
}

// Default returns the reference configuration: six tubes, one second
// report periods and the reference weapon table.
func Default() Config {
	return Config{
		System: SystemConfig{
			TotalTubes: 6,
			Tubes: []TubeConfig{
				{Number: 1, Kind: "MINE"},
				{Number: 2, Kind: "MINE"},
				{Number: 3, Kind: "ALM"},
				{Number: 4, Kind: "ASM"},
				{Number: 5, Kind: "AAM"},
				{Number: 6, Kind: "WGT"},
			},
		},
		Business: BusinessConfig{
			EngagementInterval: time.Second,
			StatusInterval:     time.Second,
		},
		Timing: TimingConfig{
			PollInterval: 100 * time.Millisecond,
			Slice:        100 * time.Millisecond,
			PlanStep:     100 * time.Millisecond,
		},
		DropPlan:  DropPlanConfig{File: "dropplans.json"},
		Telemetry: TelemetryConfig{SubscriberBuffer: 64},
		Server: ServerConfig{
			GRPCAddr:    ":50061",
			MetricsAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			AddSource:  true,
			MaxSizeMB:  64,
			MaxAgeDays: 14,
		},
		Tracing: TracingConfig{
			ServiceName: "launch-tube-controller",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Weapons: weapon.DefaultSpecs(),
	}
}

// ApplyDefaults fills zero or invalid fields from Default.
func (c Config) ApplyDefaults() Config {
	d := Default()
	if c.System.TotalTubes <= 0 {
		c.System.TotalTubes = d.System.TotalTubes
	}
	if len(c.System.Tubes) == 0 {
		c.System.Tubes = d.System.Tubes
	}
	if c.Business.EngagementInterval <= 0 {
		c.Business.EngagementInterval = d.Business.EngagementInterval
	}
	if c.Business.StatusInterval <= 0 {
		c.Business.StatusInterval = d.Business.StatusInterval
	}
	if c.Timing.PollInterval <= 0 {
		c.Timing.PollInterval = d.Timing.PollInterval
	}
	if c.Timing.Slice <= 0 {
		c.Timing.Slice = d.Timing.Slice
	}
	if c.Timing.PlanStep <= 0 {
		c.Timing.PlanStep = d.Timing.PlanStep
	}
	if c.DropPlan.File == "" {
		c.DropPlan.File = d.DropPlan.File
	}
	if c.Telemetry.SubscriberBuffer <= 0 {
		c.Telemetry.SubscriberBuffer = d.Telemetry.SubscriberBuffer
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = d.Server.GRPCAddr
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = d.Server.MetricsAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = d.Logging.MaxAgeDays
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}

	specs := d.Weapons
	for k, s := range c.Weapons {
		specs[k] = s
	}
	c.Weapons = specs
	return c
}

// Validate checks tube numbering, kinds, timing and weapon specs.
func (c Config) Validate() error {
	if c.System.TotalTubes <= 0 {
		return fmt.Errorf("%w: system.total_tubes must be positive", ErrInvalidConfig)
	}
	seen := make(map[int]bool, len(c.System.Tubes))
	for _, t := range c.System.Tubes {
		if t.Number < 1 || t.Number > c.System.TotalTubes {
			return fmt.Errorf("%w: tube %d outside [1,%d]", ErrInvalidConfig, t.Number, c.System.TotalTubes)
		}
		if seen[t.Number] {
			return fmt.Errorf("%w: tube %d listed twice", ErrInvalidConfig, t.Number)
		}
		seen[t.Number] = true
		kind, err := weapon.ParseKind(t.Kind)
		if err != nil {
			return fmt.Errorf("%w: tube %d: %w", ErrInvalidConfig, t.Number, err)
		}
		if kind == weapon.KindNone {
			continue
		}
		spec, ok := c.Weapons[kind]
		if !ok {
			return fmt.Errorf("%w: no spec for %s", ErrInvalidConfig, kind)
		}
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, kind, err)
		}
	}
	switch {
	case c.Business.EngagementInterval <= 0 || c.Business.StatusInterval <= 0:
		return fmt.Errorf("%w: business intervals must be positive", ErrInvalidConfig)
	case c.Timing.PollInterval <= 0 || c.Timing.Slice <= 0 || c.Timing.PlanStep <= 0:
		return fmt.Errorf("%w: timing values must be positive", ErrInvalidConfig)
	case c.DropPlan.File == "":
		return fmt.Errorf("%w: dropplan.file is required", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "stdout", "otlp", "otlpgrpc":
	default:
		return fmt.Errorf("%w: tracing.exporter %q", ErrInvalidConfig, c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio %v outside [0,1]", ErrInvalidConfig, c.Tracing.SampleRatio)
	}
	return nil
}

// TubeKinds maps each configured tube number to its loaded kind.
func (c Config) TubeKinds() (map[int]weapon.Kind, error) {
	out := make(map[int]weapon.Kind, len(c.System.Tubes))
	for _, t := range c.System.Tubes {
		kind, err := weapon.ParseKind(t.Kind)
		if err != nil {
			return nil, fmt.Errorf("tube %d: %w", t.Number, err)
		}
		out[t.Number] = kind
	}
	return out, nil
}

// Load reads path (TOML, YAML or JSON by extension) when non-empty, applies
// TUBE_ environment overrides and fills defaults. The result is validated.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			v.SetConfigType(ext)
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	specs, err := weaponSpecs(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Weapons = specs

	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("system.total_tubes", d.System.TotalTubes)
	v.SetDefault("business.engagement_interval", d.Business.EngagementInterval)
	v.SetDefault("business.status_interval", d.Business.StatusInterval)
	v.SetDefault("timing.poll_interval", d.Timing.PollInterval)
	v.SetDefault("timing.slice", d.Timing.Slice)
	v.SetDefault("timing.plan_step", d.Timing.PlanStep)
	v.SetDefault("dropplan.file", d.DropPlan.File)
	v.SetDefault("telemetry.recorder_path", d.Telemetry.RecorderPath)
	v.SetDefault("telemetry.subscriber_buffer", d.Telemetry.SubscriberBuffer)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.metrics_addr", d.Server.MetricsAddr)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.add_source", d.Logging.AddSource)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
}

// weaponSpecs decodes each weapons.<kind> table over the reference spec so
// a file only names the fields it changes.
func weaponSpecs(v *viper.Viper) (map[weapon.Kind]weapon.Spec, error) {
	specs := weapon.DefaultSpecs()
	for _, kind := range weapon.Kinds() {
		sub := v.Sub("weapons." + strings.ToLower(kind.String()))
		if sub == nil {
			continue
		}
		spec := specs[kind]
		if err := sub.Unmarshal(&spec); err != nil {
			return nil, fmt.Errorf("decode weapons.%s: %w", strings.ToLower(kind.String()), err)
		}
		specs[kind] = spec
	}
	return specs, nil
}
