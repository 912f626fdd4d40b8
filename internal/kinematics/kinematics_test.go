package kinematics

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestAdvanceEmptyRoute(t *testing.T) {
	_, _, err := New(10).Advance(nil, 0, 0.1, r3.Vec{})
	if !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("Advance(empty) err = %v, want ErrInvalidRoute", err)
	}
}

func TestAdvanceIndexOutOfRange(t *testing.T) {
	route := []r3.Vec{{}, {X: 100}}
	if _, _, err := New(10).Advance(route, 2, 0.1, r3.Vec{}); !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("Advance(idx=2) err = %v, want ErrInvalidRoute", err)
	}
	if _, _, err := New(10).Advance(route, -1, 0.1, r3.Vec{}); !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("Advance(idx=-1) err = %v, want ErrInvalidRoute", err)
	}
}

func TestAdvanceRejectsNonPositiveStep(t *testing.T) {
	route := []r3.Vec{{}, {X: 100}}
	if _, _, err := (Integrator{Speed: 0}).Advance(route, 1, 0.1, r3.Vec{}); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("zero speed err = %v, want ErrInvalidStep", err)
	}
	if _, _, err := New(10).Advance(route, 1, 0, r3.Vec{}); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("zero dt err = %v, want ErrInvalidStep", err)
	}
}

func TestAdvanceMovesAlongUnitVector(t *testing.T) {
	route := []r3.Vec{{}, {X: 300, Y: 400}}
	pos, reached, err := New(10).Advance(route, 1, 1, r3.Vec{})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if reached {
		t.Fatalf("reached after 10 m of a 500 m leg")
	}
	if math.Abs(pos.X-6) > 1e-9 || math.Abs(pos.Y-8) > 1e-9 {
		t.Fatalf("pos = %+v, want (6, 8)", pos)
	}
}

func TestAdvanceArrivalRadius(t *testing.T) {
	route := []r3.Vec{{}, {X: 100}}
	pos, reached, err := New(1).Advance(route, 1, 0.1, r3.Vec{X: 95})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !reached || pos != route[1] {
		t.Fatalf("within arrival radius: pos=%+v reached=%v", pos, reached)
	}
}

func TestAdvanceClampsOvershoot(t *testing.T) {
	route := []r3.Vec{{}, {X: 100}}
	in := Integrator{Speed: 50, ArrivalRadius: 0}
	pos, reached, err := in.Advance(route, 1, 1, r3.Vec{X: 80})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !reached || pos != route[1] {
		t.Fatalf("overshoot not clamped: pos=%+v reached=%v", pos, reached)
	}
}

func TestSweepConvergesToTerminus(t *testing.T) {
	// Leg lengths are whole multiples of the 1 m step so the expected time
	// is exact.
	route := []r3.Vec{{}, {X: 300}, {X: 300, Y: 400}, {X: 0, Y: 400}}
	const speed, dt = 10.0, 0.1
	in := Integrator{Speed: speed, ArrivalRadius: 0}

	res, err := in.Sweep(route, dt, 100000)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !res.Reached {
		t.Fatalf("Sweep did not reach the terminus in %d steps", res.Steps)
	}
	if got := len(res.ArrivalSteps); got != len(route)-1 {
		t.Fatalf("arrivals = %d, want %d", got, len(route)-1)
	}

	pathLen := 0.0
	for i := 1; i < len(route); i++ {
		pathLen += r3.Norm(r3.Sub(route[i], route[i-1]))
	}
	want := pathLen / speed
	got := float64(res.Steps) * dt
	if math.Abs(got-want) > dt+1e-9 {
		t.Fatalf("time to destination = %v, want %v within %v", got, want, dt)
	}
	if last := res.Positions[len(res.Positions)-1]; last != route[len(route)-1] {
		t.Fatalf("final position = %+v, want terminus", last)
	}
}

func TestSweepStopsAtMaxSteps(t *testing.T) {
	route := []r3.Vec{{}, {X: 10000}}
	res, err := New(10).Sweep(route, 0.1, 50)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Reached || res.Steps != 50 {
		t.Fatalf("Sweep reached=%v steps=%d, want unreached after 50", res.Reached, res.Steps)
	}
}

func TestAdvanceIsPure(t *testing.T) {
	route := []r3.Vec{{}, {X: 1000}}
	in := New(10)
	a, _, _ := in.Advance(route, 1, 0.5, r3.Vec{X: 10})
	b, _, _ := in.Advance(route, 1, 0.5, r3.Vec{X: 10})
	if a != b {
		t.Fatalf("Advance not deterministic: %+v vs %+v", a, b)
	}
}

func TestSweepDistanceIgnoresArrivalSnap(t *testing.T) {
	// With a 10 m radius each waypoint is snapped to early; the travelled
	// distance must still equal the polyline length.
	route := []r3.Vec{{}, {X: 1234}, {X: 1234, Y: 987}, {X: 55, Y: 987}}
	const speed, dt = 20.0, 0.1
	in := New(speed)

	res, err := in.Sweep(route, dt, 100000)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !res.Reached {
		t.Fatalf("Sweep did not reach the terminus")
	}
	cum := 0.0
	for i := 1; i < len(route); i++ {
		cum += r3.Norm(r3.Sub(route[i], route[i-1]))
		if got, want := res.ArrivalTimes[i-1], cum/speed; math.Abs(got-want) > 1e-6 {
			t.Fatalf("arrival %d at %v, want %v", i, got, want)
		}
	}
	if math.Abs(res.Distance-cum) > 1e-6 {
		t.Fatalf("distance = %v, want %v", res.Distance, cum)
	}
}
