// Package dropplan persists mine drop plans in a JSON document on disk.
package dropplan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// Document layout limits.
const (
	ListCount            = 15
	PlansPerList         = 15
	MaxPlanWaypoints     = 8
	MaxOwnShipWaypoints  = 40
	maxDescriptionLength = 50
)

var (
	// ErrInvalidReference is returned when a list or plan index is outside
	// [1,15].
	ErrInvalidReference = errors.New("invalid drop plan reference")
	// ErrPlanNotFound is returned when the selected slot holds no plan.
	ErrPlanNotFound = errors.New("drop plan not found")
	// ErrInvalidDocument is returned when a document to save breaks the
	// layout limits.
	ErrInvalidDocument = errors.New("invalid drop plan document")
)

// PlanState tracks a drop plan through planning and launch.
type PlanState int

const (
	PlanNone PlanState = iota
	PlanAssign
	PlanPlanned
	PlanError
	PlanLaunch
	PlanFinish
)

var planStateNames = [...]string{"NONE", "ASSIGN", "PLAN", "ERROR", "LAUNCH", "FINISH"}

func (s PlanState) String() string {
	if s >= 0 && int(s) < len(planStateNames) {
		return planStateNames[s]
	}
	return fmt.Sprintf("PlanState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s PlanState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PlanState) UnmarshalText(b []byte) error {
	name := strings.ToUpper(string(b))
	for i, n := range planStateNames {
		if n == name {
			*s = PlanState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown plan state %q", string(b))
}

// Point is a mine route point. Depth is positive below the surface.
type Point struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	DepthM   float64 `json:"depth_m"`
	SpeedMps float64 `json:"speed_mps"`
	Valid    bool    `json:"valid"`
}

// Geo returns p as a geodetic point with altitude = -depth.
func (p Point) Geo() geo.Point { return geo.Point{Lat: p.Lat, Lon: p.Lon, Alt: -p.DepthM} }

// Plan is one drop plan slot. A slot holds a plan when Number != 0.
type Plan struct {
	ListID         int       `json:"list_id"`
	Number         int       `json:"number"`
	State          PlanState `json:"state"`
	WeaponID       int       `json:"weapon_id"`
	AdditionalText string    `json:"additional_text"`
	DropPos        Point     `json:"drop_pos"`
	LaunchPos      Point     `json:"launch_pos"`
	Waypoints      []Point   `json:"waypoints"`
}

// Exists reports whether the slot holds a plan.
func (p Plan) Exists() bool { return p.Number != 0 }

// Ref returns the selector for p.
func (p Plan) Ref() weapon.DropPlanRef {
	return weapon.DropPlanRef{List: p.ListID, Number: p.Number}
}

// ValidWaypoints returns the waypoints flagged valid, in order.
func (p Plan) ValidWaypoints() []Point {
	out := make([]Point, 0, len(p.Waypoints))
	for _, w := range p.Waypoints {
		if w.Valid {
			out = append(out, w)
		}
	}
	return out
}

// OwnShipWaypoint is a platform course point stored with a plan list.
type OwnShipWaypoint struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DepthM      float64 `json:"depth_m"`
	SpeedMps    float64 `json:"speed_mps"`
	HeadingDeg  float64 `json:"heading_deg"`
	LaunchPoint bool    `json:"launch_point"`
	ListID      int     `json:"list_id"`
}

// List groups the plans of one mining operation.
type List struct {
	ID               int               `json:"id"`
	Description      string            `json:"description"`
	Plans            []Plan            `json:"plans"`
	OwnShipWaypoints []OwnShipWaypoint `json:"ownship_waypoints"`
}

// Document is the whole persisted store.
type Document struct {
	Lists []List `json:"lists"`
}

// EmptyDocument returns a document with every list and plan slot present and
// empty.
func EmptyDocument() Document {
	doc := Document{Lists: make([]List, ListCount)}
	for i := range doc.Lists {
		plans := make([]Plan, PlansPerList)
		for j := range plans {
			plans[j].Waypoints = []Point{}
		}
		doc.Lists[i] = List{Plans: plans, OwnShipWaypoints: []OwnShipWaypoint{}}
	}
	return doc
}

// Validate checks the layout limits.
func (d Document) Validate() error {
	if len(d.Lists) > ListCount {
		return fmt.Errorf("%w: %d lists, max %d", ErrInvalidDocument, len(d.Lists), ListCount)
	}
	for i, l := range d.Lists {
		if len(l.Plans) > PlansPerList {
			return fmt.Errorf("%w: list %d has %d plans, max %d", ErrInvalidDocument, i+1, len(l.Plans), PlansPerList)
		}
		if len(l.OwnShipWaypoints) > MaxOwnShipWaypoints {
			return fmt.Errorf("%w: list %d has %d own-ship waypoints, max %d", ErrInvalidDocument, i+1, len(l.OwnShipWaypoints), MaxOwnShipWaypoints)
		}
		if len(l.Description) > maxDescriptionLength {
			return fmt.Errorf("%w: list %d description longer than %d", ErrInvalidDocument, i+1, maxDescriptionLength)
		}
		for j, p := range l.Plans {
			if len(p.Waypoints) > MaxPlanWaypoints {
				return fmt.Errorf("%w: plan %d/%d has %d waypoints, max %d", ErrInvalidDocument, i+1, j+1, len(p.Waypoints), MaxPlanWaypoints)
			}
		}
	}
	return nil
}

// normalized pads d to the full 15x15 layout.
func (d Document) normalized() Document {
	out := EmptyDocument()
	for i, l := range d.Lists {
		plans := out.Lists[i].Plans
		copy(plans, l.Plans)
		for j := range plans {
			if plans[j].Waypoints == nil {
				plans[j].Waypoints = []Point{}
			}
		}
		l.Plans = plans
		if l.OwnShipWaypoints == nil {
			l.OwnShipWaypoints = []OwnShipWaypoint{}
		}
		out.Lists[i] = l
	}
	return out
}
