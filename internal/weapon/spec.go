package weapon

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSpec is returned when a weapon specification is unusable.
var ErrInvalidSpec = errors.New("invalid weapon spec")

// Spec is the read-only performance envelope of one weapon kind.
type Spec struct {
	Name              string        `mapstructure:"name" json:"name"`
	Description       string        `mapstructure:"description" json:"description,omitempty"`
	MaxRangeKm        float64       `mapstructure:"max_range_km" json:"max_range_km"`
	MaxSpeedMps       float64       `mapstructure:"max_speed_mps" json:"max_speed_mps"`
	CruiseSpeedMps    float64       `mapstructure:"cruise_speed_mps" json:"cruise_speed_mps"`
	LaunchDelay       time.Duration `mapstructure:"launch_delay" json:"launch_delay"`
	PowerOnCheckDelay time.Duration `mapstructure:"power_on_check_delay" json:"power_on_check_delay"`
	MaxDepthM         float64       `mapstructure:"max_depth_m" json:"max_depth_m"`
	MaxAltitudeM      float64       `mapstructure:"max_altitude_m" json:"max_altitude_m"`
	MaxWaypoints      int           `mapstructure:"max_waypoints" json:"max_waypoints"`
	RequiresWaypoints bool          `mapstructure:"requires_waypoints" json:"requires_waypoints"`

	// BatteryWh and EnergyCoefficient drive the endurance estimate. The
	// coefficient is in Wh per hour per knot cubed. A zero battery disables
	// the estimate.
	BatteryWh         float64 `mapstructure:"battery_wh" json:"battery_wh,omitempty"`
	EnergyCoefficient float64 `mapstructure:"energy_coefficient" json:"energy_coefficient,omitempty"`
}

// MaxRangeM returns the maximum range in metres.
func (s Spec) MaxRangeM() float64 { return s.MaxRangeKm * 1000 }

// Validate checks the fields the planner and launch sequence depend on.
func (s Spec) Validate() error {
	switch {
	case s.MaxRangeKm <= 0:
		return fmt.Errorf("%w: max range must be positive", ErrInvalidSpec)
	case s.MaxSpeedMps <= 0:
		return fmt.Errorf("%w: max speed must be positive", ErrInvalidSpec)
	case s.LaunchDelay < 0 || s.PowerOnCheckDelay < 0:
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidSpec)
	case s.MaxWaypoints < 0 || s.MaxWaypoints > MaxWaypoints:
		return fmt.Errorf("%w: max waypoints must be within [0,%d]", ErrInvalidSpec, MaxWaypoints)
	case s.BatteryWh < 0 || s.EnergyCoefficient < 0:
		return fmt.Errorf("%w: energy model must not be negative", ErrInvalidSpec)
	}
	return nil
}

// MaxWaypoints is the largest waypoint list any inbound command may carry.
const MaxWaypoints = 8

// DefaultSpecs returns the reference weapon table.
func DefaultSpecs() map[Kind]Spec {
	return map[Kind]Spec{
		KindALM: {
			Name: "ALM", Description: "land attack missile",
			MaxRangeKm: 50, MaxSpeedMps: 100, CruiseSpeedMps: 80,
			LaunchDelay: 3 * time.Second, PowerOnCheckDelay: time.Second,
			MaxDepthM: 200, MaxAltitudeM: 1000,
			MaxWaypoints: 8, RequiresWaypoints: true,
		},
		KindASM: {
			Name: "ASM", Description: "anti-ship missile",
			MaxRangeKm: 50, MaxSpeedMps: 100, CruiseSpeedMps: 80,
			LaunchDelay: 3 * time.Second, PowerOnCheckDelay: time.Second,
			MaxDepthM: 200, MaxAltitudeM: 1000,
			MaxWaypoints: 8, RequiresWaypoints: true,
		},
		KindAAM: {
			Name: "AAM", Description: "anti-air missile",
			MaxRangeKm: 50, MaxSpeedMps: 100, CruiseSpeedMps: 80,
			LaunchDelay: 3 * time.Second, PowerOnCheckDelay: time.Second,
			MaxDepthM: 200, MaxAltitudeM: 1000,
			MaxWaypoints: 8,
		},
		KindWGT: {
			Name: "WGT", Description: "wire-guided torpedo",
			MaxRangeKm: 50, MaxSpeedMps: 100, CruiseSpeedMps: 80,
			LaunchDelay: 3 * time.Second, PowerOnCheckDelay: time.Second,
			MaxDepthM: 200, MaxAltitudeM: 1000,
			MaxWaypoints: 8, RequiresWaypoints: true,
		},
		KindMine: {
			Name: "M_MINE", Description: "mobile mine",
			MaxRangeKm: 30, MaxSpeedMps: 6, CruiseSpeedMps: 5,
			LaunchDelay: 3 * time.Second, PowerOnCheckDelay: time.Second,
			MaxDepthM: 200, MaxAltitudeM: 1000,
			MaxWaypoints: 8, RequiresWaypoints: false,
			BatteryWh: 16941.47, EnergyCoefficient: 3.9219,
		},
	}
}

// LaunchStep is one timed stage of the launch sequence.
type LaunchStep struct {
	Description string
	Duration    time.Duration
}

type stepShare struct {
	description string
	percent     int64
}

var (
	underwaterSteps = []stepShare{
		{"flood tube", 20},
		{"equalize pressure", 20},
		{"open muzzle door", 30},
		{"eject", 30},
	}
	missileSteps = []stepShare{
		{"activate", 40},
		{"align", 40},
		{"fire", 20},
	}
)

// LaunchSequence splits the spec's launch delay over the fixed step list of
// kind. The step durations always sum to spec.LaunchDelay.
func LaunchSequence(kind Kind, spec Spec) []LaunchStep {
	shares := missileSteps
	if kind == KindMine || kind == KindWGT {
		shares = underwaterSteps
	}

	steps := make([]LaunchStep, len(shares))
	var used time.Duration
	for i, s := range shares {
		d := spec.LaunchDelay * time.Duration(s.percent) / 100
		if i == len(shares)-1 {
			d = spec.LaunchDelay - used
		}
		used += d
		steps[i] = LaunchStep{Description: s.description, Duration: d}
	}
	return steps
}
