package engagement

import (
	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// planInput is everything a planner needs, already resolved from the
// engine's state. All positions are geodetic; the planner projects them into
// the frame centred on Center.
type planInput struct {
	Center    geo.Point
	Waypoints []geo.Point
	Terminal  geo.Point
	// LaunchPos is the stored fallback launch position of a drop plan.
	LaunchPos *geo.Point
	MaxRangeM float64
}

// routePlan is a planner's geometric verdict.
type routePlan struct {
	Route      []geo.ENU
	InRange    bool
	Launchable bool
	Reason     string
}

type planner interface {
	plan(conv geo.Converter, in planInput) routePlan
}

func plannerFor(kind weapon.Kind) planner {
	if kind == weapon.KindMine {
		return minePlanner{}
	}
	return directPlanner{}
}

func project(conv geo.Converter, center geo.Point, pts []geo.Point) []geo.ENU {
	out := make([]geo.ENU, len(pts))
	for i, p := range pts {
		out[i] = conv.ToLocal(center, p)
	}
	return out
}

// minePlanner launches from own-ship when it sits behind the first leg and
// within range budget, otherwise from the plan's stored launch position.
type minePlanner struct{}

func (minePlanner) plan(conv geo.Converter, in planInput) routePlan {
	var own geo.ENU
	legs := append(project(conv, in.Center, in.Waypoints), conv.ToLocal(in.Center, in.Terminal))
	first := legs[0]

	budget := in.MaxRangeM - geo.PathLength(legs)
	inRange := budget >= geo.Distance(own, first)

	sector := true
	if len(legs) > 1 {
		course := geo.Bearing(first, legs[1])
		back := geo.Bearing(first, own)
		sector = geo.AngleDiff(course, back) > 90
	}

	out := routePlan{InRange: inRange, Launchable: inRange && sector}
	launch := own
	switch {
	case out.Launchable:
	case !inRange:
		out.Reason = "own-ship out of range budget"
	default:
		out.Reason = "own-ship outside launchable sector"
	}
	if !out.Launchable && in.LaunchPos != nil {
		launch = conv.ToLocal(in.Center, *in.LaunchPos)
	}
	out.Route = append([]geo.ENU{launch}, legs...)
	return out
}

// directPlanner flies own-ship, waypoints, target.
type directPlanner struct{}

func (directPlanner) plan(conv geo.Converter, in planInput) routePlan {
	route := make([]geo.ENU, 0, len(in.Waypoints)+2)
	route = append(route, geo.ENU{})
	route = append(route, project(conv, in.Center, in.Waypoints)...)
	route = append(route, conv.ToLocal(in.Center, in.Terminal))

	inRange := geo.PathLength(route) <= in.MaxRangeM
	out := routePlan{Route: route, InRange: inRange, Launchable: inRange}
	if !inRange {
		out.Reason = "target out of range"
	}
	return out
}
