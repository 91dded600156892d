package spatialindexer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"
)

// Point is a WGS84 coordinate in degrees.
//
// Fields are named rather than ordered: the input format carries positions
// as [longitude, latitude] pairs and a swapped pair is still structurally
// valid, so nothing past the input reader deals in bare pairs.
type Point struct {
	Longitude float64 // x, in [-180, 180]
	Latitude  float64 // y, in [-90, 90]
}

// Entity is one named location handed to the index builder.
// Name may be empty.
type Entity struct {
	Name     string
	Location Point
}

// NewPoint validates a longitude/latitude pair and returns it as a Point.
// It fails with ErrInvalidCoordinate for NaN, infinite or out of range values.
func NewPoint(lon, lat float64) (Point, error) {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return Point{}, fmt.Errorf("%w: non-finite value (x=%v, y=%v)", ErrInvalidCoordinate, lon, lat)
	}
	if !s2.LatLngFromDegrees(lat, lon).IsValid() {
		return Point{}, fmt.Errorf("%w: out of range (x=%v, y=%v)", ErrInvalidCoordinate, lon, lat)
	}
	return Point{Longitude: lon, Latitude: lat}, nil
}

// String renders the canonical stored form, e.g. "Pt(x=-73.968,y=40.785)".
// Values use the shortest representation that parses back to the same
// float64, so ParsePoint(p.String()) == p exactly.
func (p Point) String() string {
	return "Pt(x=" + strconv.FormatFloat(p.Longitude, 'g', -1, 64) +
		",y=" + strconv.FormatFloat(p.Latitude, 'g', -1, 64) + ")"
}

// ParsePoint parses the canonical form produced by Point.String.
func ParsePoint(s string) (Point, error) {
	body, ok := strings.CutPrefix(s, "Pt(x=")
	if !ok {
		return Point{}, fmt.Errorf("parsing point %q: missing Pt(x= prefix", s)
	}
	body, ok = strings.CutSuffix(body, ")")
	if !ok {
		return Point{}, fmt.Errorf("parsing point %q: missing closing parenthesis", s)
	}
	xs, ys, ok := strings.Cut(body, ",y=")
	if !ok {
		return Point{}, fmt.Errorf("parsing point %q: missing y component", s)
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return Point{}, fmt.Errorf("parsing point %q: x: %w", s, err)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return Point{}, fmt.Errorf("parsing point %q: y: %w", s, err)
	}
	return NewPoint(x, y)
}
