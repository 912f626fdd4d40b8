// Package geo converts between geodetic coordinates and the local
// east-north-up frame the planners integrate in.
package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// WGS84 ellipsoid constants.
const (
	semiMajorAxis = 6378137.0
	flattening    = 1 / 298.257223563
	eccSquared    = flattening * (2 - flattening)
)

// Point is a geodetic position: latitude and longitude in degrees, altitude in
// metres above the ellipsoid (negative below the surface).
type Point struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lon float64 `json:"lon" msgpack:"lon"`
	Alt float64 `json:"alt" msgpack:"alt"`
}

// ENU is a local tangent-plane vector in metres: X east, Y north, Z up.
type ENU = r3.Vec

// Converter maps positions between the geodetic frame and an ENU frame
// centred on center.
type Converter interface {
	ToLocal(center, p Point) ENU
	ToGeodetic(center Point, v ENU) Point
}

// FlatEarth is an equirectangular converter using the WGS84 radii of
// curvature at the frame centre. It is accurate to a few metres over the tens
// of kilometres a tube engagement spans.
type FlatEarth struct{}

var _ Converter = FlatEarth{}

// ToLocal returns p expressed in the ENU frame centred on center.
func (FlatEarth) ToLocal(center, p Point) ENU {
	m, n := radii(center.Lat)
	lat0 := radians(center.Lat)
	dLat := radians(p.Lat - center.Lat)
	dLon := radians(wrapDegrees(p.Lon - center.Lon))
	return ENU{
		X: dLon * (n + center.Alt) * math.Cos(lat0),
		Y: dLat * (m + center.Alt),
		Z: p.Alt - center.Alt,
	}
}

// ToGeodetic inverts ToLocal.
func (FlatEarth) ToGeodetic(center Point, v ENU) Point {
	m, n := radii(center.Lat)
	lat0 := radians(center.Lat)
	lat := center.Lat + degrees(v.Y/(m+center.Alt))
	lon := center.Lon
	if c := math.Cos(lat0); c > 1e-12 {
		lon += degrees(v.X / ((n + center.Alt) * c))
	}
	return Point{Lat: lat, Lon: wrapDegrees(lon), Alt: center.Alt + v.Z}
}

// radii returns the meridian and prime-vertical radii of curvature at lat.
func radii(lat float64) (meridian, primeVertical float64) {
	s := math.Sin(radians(lat))
	w := 1 - eccSquared*s*s
	primeVertical = semiMajorAxis / math.Sqrt(w)
	meridian = semiMajorAxis * (1 - eccSquared) / (w * math.Sqrt(w))
	return meridian, primeVertical
}

// Bearing returns the horizontal direction from a to b in degrees clockwise
// from north, in [0, 360).
func Bearing(a, b ENU) float64 {
	d := r3.Sub(b, a)
	return normalize(degrees(math.Atan2(d.X, d.Y)))
}

// AngleDiff returns the absolute smallest angle between two bearings, in
// [0, 180].
func AngleDiff(a, b float64) float64 {
	d := math.Abs(normalize(a) - normalize(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Distance returns the straight-line distance between a and b in metres.
func Distance(a, b ENU) float64 { return r3.Norm(r3.Sub(b, a)) }

// HorizontalDistance ignores the vertical component.
func HorizontalDistance(a, b ENU) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// PathLength sums the leg lengths of an ordered list of points.
func PathLength(points []ENU) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func wrapDegrees(deg float64) float64 {
	deg = math.Mod(deg+180, 360)
	if deg < 0 {
		deg += 360
	}
	return deg - 180
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
