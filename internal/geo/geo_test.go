package geo

import (
	"math"
	"testing"
)

func approxEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestFlatEarthRoundTrip(t *testing.T) {
	center := Point{Lat: 35.1, Lon: 129.0, Alt: 0}
	conv := FlatEarth{}

	cases := []Point{
		{Lat: 35.1, Lon: 129.0, Alt: 0},
		{Lat: 35.2, Lon: 129.1, Alt: -50},
		{Lat: 34.95, Lon: 128.8, Alt: 10},
	}
	for _, p := range cases {
		got := conv.ToGeodetic(center, conv.ToLocal(center, p))
		if !approxEqual(got.Lat, p.Lat, 1e-9) || !approxEqual(got.Lon, p.Lon, 1e-9) || !approxEqual(got.Alt, p.Alt, 1e-9) {
			t.Fatalf("round trip of %+v = %+v", p, got)
		}
	}
}

func TestFlatEarthAxes(t *testing.T) {
	center := Point{Lat: 0, Lon: 0}
	conv := FlatEarth{}

	north := conv.ToLocal(center, Point{Lat: 0.01})
	if north.Y <= 1000 || !approxEqual(north.X, 0, 1e-6) {
		t.Fatalf("0.01 deg north = %+v, want ~1105 m north", north)
	}
	east := conv.ToLocal(center, Point{Lon: 0.01})
	if east.X <= 1000 || !approxEqual(east.Y, 0, 1e-6) {
		t.Fatalf("0.01 deg east = %+v, want ~1113 m east", east)
	}
}

func TestFlatEarthWrapsLongitude(t *testing.T) {
	center := Point{Lat: 0, Lon: 179.99}
	v := FlatEarth{}.ToLocal(center, Point{Lat: 0, Lon: -179.99})
	if v.X <= 0 || v.X > 3000 {
		t.Fatalf("east across the antimeridian = %v m, want ~2226 m", v.X)
	}
}

func TestBearing(t *testing.T) {
	origin := ENU{}
	cases := []struct {
		to   ENU
		want float64
	}{
		{ENU{Y: 1}, 0},
		{ENU{X: 1}, 90},
		{ENU{Y: -1}, 180},
		{ENU{X: -1}, 270},
		{ENU{X: 1, Y: 1}, 45},
		{ENU{X: -1, Y: 1}, 315},
	}
	for _, tc := range cases {
		if got := Bearing(origin, tc.to); !approxEqual(got, tc.want, 1e-9) {
			t.Fatalf("Bearing(0, %+v) = %v, want %v", tc.to, got, tc.want)
		}
	}
}

func TestAngleDiff(t *testing.T) {
	cases := []struct{ a, b, want float64 }{
		{10, 350, 20},
		{0, 180, 180},
		{90, 270, 180},
		{45, 45, 0},
		{-10, 10, 20},
	}
	for _, tc := range cases {
		if got := AngleDiff(tc.a, tc.b); !approxEqual(got, tc.want, 1e-9) {
			t.Fatalf("AngleDiff(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestPathLength(t *testing.T) {
	pts := []ENU{{}, {X: 3, Y: 4}, {X: 3, Y: 10}}
	if got := PathLength(pts); !approxEqual(got, 11, 1e-9) {
		t.Fatalf("PathLength = %v, want 11", got)
	}
	if got := PathLength(nil); got != 0 {
		t.Fatalf("PathLength(nil) = %v, want 0", got)
	}
}
