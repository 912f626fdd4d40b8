package weapon

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
)

// ErrInvalidAssignment is returned for malformed or out-of-range assignments.
var ErrInvalidAssignment = errors.New("invalid assignment")

// Drop plan selector bounds.
const (
	MinPlanIndex = 1
	MaxPlanIndex = 15
)

// DropPlanRef selects one mine drop plan by list and plan number.
type DropPlanRef struct {
	List   int `json:"list" msgpack:"list"`
	Number int `json:"number" msgpack:"number"`
}

func (r DropPlanRef) String() string { return fmt.Sprintf("%d/%d", r.List, r.Number) }

// Valid reports whether both indices are within [1,15].
func (r DropPlanRef) Valid() bool {
	return r.List >= MinPlanIndex && r.List <= MaxPlanIndex &&
		r.Number >= MinPlanIndex && r.Number <= MaxPlanIndex
}

// Assignment names the engagement a tube's weapon is assigned to. Exactly one
// selector is set: a fixed target position, a system track, or a drop plan.
type Assignment struct {
	Tube     int          `json:"tube" msgpack:"tube"`
	Kind     Kind         `json:"kind" msgpack:"kind"`
	Target   *geo.Point   `json:"target,omitempty" msgpack:"target,omitempty"`
	TrackID  uint32       `json:"track_id,omitempty" msgpack:"track_id,omitempty"`
	DropPlan *DropPlanRef `json:"drop_plan,omitempty" msgpack:"drop_plan,omitempty"`
}

// ByTrack reports whether the assignment follows a system track.
func (a Assignment) ByTrack() bool { return a.TrackID != 0 }

// Validate checks the selector rules for a.Kind.
func (a Assignment) Validate() error {
	if a.Tube <= 0 {
		return fmt.Errorf("%w: tube number %d", ErrInvalidAssignment, a.Tube)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: weapon kind %s", ErrInvalidAssignment, a.Kind)
	}

	if a.Kind == KindMine {
		if a.DropPlan == nil {
			return fmt.Errorf("%w: mine assignment needs a drop plan", ErrInvalidAssignment)
		}
		if !a.DropPlan.Valid() {
			return fmt.Errorf("%w: drop plan %s outside [%d,%d]", ErrInvalidAssignment, a.DropPlan, MinPlanIndex, MaxPlanIndex)
		}
		if a.Target != nil || a.TrackID != 0 {
			return fmt.Errorf("%w: mine assignment takes only a drop plan", ErrInvalidAssignment)
		}
		return nil
	}

	if a.DropPlan != nil {
		return fmt.Errorf("%w: %s assignment cannot carry a drop plan", ErrInvalidAssignment, a.Kind)
	}
	switch {
	case a.Target == nil && a.TrackID == 0:
		return fmt.Errorf("%w: %s assignment needs a target or track", ErrInvalidAssignment, a.Kind)
	case a.Target != nil && a.TrackID != 0:
		return fmt.Errorf("%w: target and track are mutually exclusive", ErrInvalidAssignment)
	}
	return nil
}

// Equal reports whether a and b select the same engagement.
func (a Assignment) Equal(b Assignment) bool {
	if a.Tube != b.Tube || a.Kind != b.Kind || a.TrackID != b.TrackID {
		return false
	}
	if (a.Target == nil) != (b.Target == nil) || (a.Target != nil && *a.Target != *b.Target) {
		return false
	}
	if (a.DropPlan == nil) != (b.DropPlan == nil) || (a.DropPlan != nil && *a.DropPlan != *b.DropPlan) {
		return false
	}
	return true
}

// Clone returns a copy that shares no pointers with a.
func (a Assignment) Clone() Assignment {
	out := a
	if a.Target != nil {
		t := *a.Target
		out.Target = &t
	}
	if a.DropPlan != nil {
		p := *a.DropPlan
		out.DropPlan = &p
	}
	return out
}
