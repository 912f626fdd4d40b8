// Package kinematics advances a point mass along a waypoint route at constant
// speed.
package kinematics

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultArrivalRadius is the distance in metres under which a waypoint
// counts as reached.
const DefaultArrivalRadius = 10.0

var (
	// ErrInvalidRoute is returned for an empty route or an out-of-range index.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrInvalidStep is returned for a non-positive speed or time step.
	ErrInvalidStep = errors.New("invalid integration step")
)

// Integrator moves a position toward route waypoints at Speed metres per
// second. It holds no state between calls.
type Integrator struct {
	Speed         float64
	ArrivalRadius float64
}

// New returns an integrator using DefaultArrivalRadius.
func New(speed float64) Integrator {
	return Integrator{Speed: speed, ArrivalRadius: DefaultArrivalRadius}
}

// Advance moves pos toward route[idx] by Speed*dt. The waypoint is reached
// when pos is already within ArrivalRadius of it or when the step would carry
// past it; either way the returned position is the waypoint itself.
func (in Integrator) Advance(route []r3.Vec, idx int, dt float64, pos r3.Vec) (r3.Vec, bool, error) {
	if len(route) == 0 {
		return pos, false, ErrInvalidRoute
	}
	if idx < 0 || idx >= len(route) {
		return pos, false, fmt.Errorf("%w: waypoint index %d of %d", ErrInvalidRoute, idx, len(route))
	}
	if in.Speed <= 0 || dt <= 0 {
		return pos, false, fmt.Errorf("%w: speed %v dt %v", ErrInvalidStep, in.Speed, dt)
	}

	target := route[idx]
	delta := r3.Sub(target, pos)
	dist := r3.Norm(delta)
	step := in.Speed * dt

	if dist < in.ArrivalRadius || dist <= step {
		return target, true, nil
	}
	return r3.Add(pos, r3.Scale(step/dist, delta)), false, nil
}

// SweepResult is the outcome of integrating a whole route.
type SweepResult struct {
	// Positions holds the position after every step, starting with route[0].
	Positions []r3.Vec
	// ArrivalSteps[i] is the step count at which route[i+1] was reached.
	ArrivalSteps []int
	// ArrivalTimes[i] is the path length to route[i+1] divided by Speed.
	// Unlike ArrivalSteps*dt it does not count a snapped step as a full one.
	ArrivalTimes []float64
	// Distance is the path length travelled in metres.
	Distance float64
	// Steps is the number of steps taken.
	Steps int
	// Reached reports whether the last waypoint was reached within maxSteps.
	Reached bool
}

// Sweep integrates from route[0] through every following waypoint with time
// step dt, stopping at the last waypoint or after maxSteps steps.
func (in Integrator) Sweep(route []r3.Vec, dt float64, maxSteps int) (SweepResult, error) {
	if len(route) == 0 {
		return SweepResult{}, ErrInvalidRoute
	}
	res := SweepResult{Positions: []r3.Vec{route[0]}}
	if len(route) == 1 {
		res.Reached = true
		return res, nil
	}

	pos := route[0]
	idx := 1
	for res.Steps < maxSteps {
		next, reached, err := in.Advance(route, idx, dt, pos)
		if err != nil {
			return res, err
		}
		res.Steps++
		res.Distance += r3.Norm(r3.Sub(next, pos))
		pos = next
		res.Positions = append(res.Positions, pos)

		if !reached {
			continue
		}
		res.ArrivalSteps = append(res.ArrivalSteps, res.Steps)
		res.ArrivalTimes = append(res.ArrivalTimes, res.Distance/in.Speed)
		if idx == len(route)-1 {
			res.Reached = true
			return res, nil
		}
		idx++
	}
	return res, nil
}
