package engagement

import (
	"time"

	"github.com/brunoga/deep"
	"github.com/signalsfoundry/launch-tube-controller/internal/dropplan"
	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// TrajectoryPoint is one sample of the planned path with the flight time at
// which the weapon reaches it.
type TrajectoryPoint struct {
	Position   geo.ENU `json:"position" msgpack:"position"`
	FlightTime float64 `json:"flight_time_s" msgpack:"flight_time_s"`
}

// Result is the engine's latest plan and, after launch, its dead-reckoning
// estimate. Positions are in the ENU frame centred on Center. Durations are
// in seconds.
type Result struct {
	Tube int         `json:"tube" msgpack:"tube"`
	Kind weapon.Kind `json:"kind" msgpack:"kind"`

	Center        geo.Point         `json:"center" msgpack:"center"`
	Trajectory    []TrajectoryPoint `json:"trajectory" msgpack:"trajectory"`
	Waypoints     []geo.ENU         `json:"waypoints" msgpack:"waypoints"`
	ArrivalTimes  []float64         `json:"arrival_times_s" msgpack:"arrival_times_s"`
	LaunchPoint   geo.ENU           `json:"launch_point" msgpack:"launch_point"`
	TerminalPoint geo.ENU           `json:"terminal_point" msgpack:"terminal_point"`

	TimeToDestination  float64 `json:"time_to_destination_s" msgpack:"time_to_destination_s"`
	RemainingTime      float64 `json:"remaining_time_s" msgpack:"remaining_time_s"`
	NextWaypoint       int     `json:"next_waypoint" msgpack:"next_waypoint"`
	TimeToNextWaypoint float64 `json:"time_to_next_waypoint_s" msgpack:"time_to_next_waypoint_s"`

	RouteLoaded        bool   `json:"route_loaded" msgpack:"route_loaded"`
	Feasible           bool   `json:"feasible" msgpack:"feasible"`
	InRange            bool   `json:"in_range" msgpack:"in_range"`
	InLaunchableArea   bool   `json:"in_launchable_area" msgpack:"in_launchable_area"`
	ClearOfNoFireZones bool   `json:"clear_of_no_fire_zones" msgpack:"clear_of_no_fire_zones"`
	Ready              bool   `json:"ready" msgpack:"ready"`
	Reason             string `json:"reason,omitempty" msgpack:"reason,omitempty"`

	Launched           bool      `json:"launched" msgpack:"launched"`
	Finished           bool      `json:"finished" msgpack:"finished"`
	LaunchedAt         time.Time `json:"launched_at,omitempty" msgpack:"launched_at,omitempty"`
	ElapsedSinceLaunch float64   `json:"elapsed_since_launch_s" msgpack:"elapsed_since_launch_s"`
	DRValid            bool      `json:"dr_valid" msgpack:"dr_valid"`
	DRPosition         geo.ENU   `json:"dr_position" msgpack:"dr_position"`
	DRGeo              geo.Point `json:"dr_geo" msgpack:"dr_geo"`
	BatteryPercent     float64   `json:"battery_percent" msgpack:"battery_percent"`
	EnduranceSec       float64   `json:"endurance_s" msgpack:"endurance_s"`

	PlanState dropplan.PlanState `json:"plan_state" msgpack:"plan_state"`
	UpdatedAt time.Time          `json:"updated_at" msgpack:"updated_at"`
}

// clone returns a copy sharing no slices with r.
func (r Result) clone() Result {
	out := r
	if r.Trajectory != nil {
		out.Trajectory = deep.MustCopy(r.Trajectory)
	}
	if r.Waypoints != nil {
		out.Waypoints = deep.MustCopy(r.Waypoints)
	}
	if r.ArrivalTimes != nil {
		out.ArrivalTimes = deep.MustCopy(r.ArrivalTimes)
	}
	return out
}

// downsample picks n trajectory samples at index round(i*(len-1)/(n-1)).
// Shorter trajectories are returned whole.
func downsample(positions []geo.ENU, speed float64, n int) []TrajectoryPoint {
	if len(positions) == 0 || speed <= 0 {
		return nil
	}
	// flight time is path length so far over speed
	times := make([]float64, len(positions))
	for i := 1; i < len(positions); i++ {
		times[i] = times[i-1] + geo.Distance(positions[i-1], positions[i])/speed
	}
	if len(positions) <= n || n < 2 {
		out := make([]TrajectoryPoint, len(positions))
		for i, p := range positions {
			out[i] = TrajectoryPoint{Position: p, FlightTime: times[i]}
		}
		return out
	}
	out := make([]TrajectoryPoint, n)
	last := len(positions) - 1
	for i := range out {
		// integer rounding of i*last/(n-1)
		idx := (2*i*last + (n - 1)) / (2 * (n - 1))
		out[i] = TrajectoryPoint{Position: positions[idx], FlightTime: times[idx]}
	}
	return out
}
