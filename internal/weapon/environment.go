package weapon

import (
	"time"

	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
)

// OwnShip is a navigation fix of the launching platform.
type OwnShip struct {
	Position   geo.Point `json:"position" msgpack:"position"`
	HeadingDeg float64   `json:"heading_deg" msgpack:"heading_deg"`
	SpeedMps   float64   `json:"speed_mps" msgpack:"speed_mps"`
	At         time.Time `json:"at" msgpack:"at"`
}

// Track is a system target track.
type Track struct {
	ID        uint32    `json:"id" msgpack:"id"`
	Position  geo.Point `json:"position" msgpack:"position"`
	CourseDeg float64   `json:"course_deg" msgpack:"course_deg"`
	SpeedMps  float64   `json:"speed_mps" msgpack:"speed_mps"`
	At        time.Time `json:"at" msgpack:"at"`
}

// Waypoint is an operator-edited route point. Invalid entries are kept in
// place but skipped when the route is built.
type Waypoint struct {
	Position geo.Point `json:"position" msgpack:"position"`
	SpeedMps float64   `json:"speed_mps,omitempty" msgpack:"speed_mps,omitempty"`
	Valid    bool      `json:"valid" msgpack:"valid"`
}

// NoFireZone is a circular area no planned trajectory may enter.
type NoFireZone struct {
	ID      uint32    `json:"id" msgpack:"id"`
	Center  geo.Point `json:"center" msgpack:"center"`
	RadiusM float64   `json:"radius_m" msgpack:"radius_m"`
}

// ValidWaypoints returns the positions of the valid entries in order.
func ValidWaypoints(wps []Waypoint) []geo.Point {
	out := make([]geo.Point, 0, len(wps))
	for _, w := range wps {
		if w.Valid {
			out = append(out, w.Position)
		}
	}
	return out
}
