package spatialindexer

import (
	"fmt"

	"github.com/golang/geo/s2"
	"github.com/mmcloughlin/geohash"
)

const (
	// DefaultLevels is the number of prefix-tree levels indexed per point.
	// Level 11 cells are roughly 15cm on each side.
	DefaultLevels = 11

	// MaxLevels is the deepest level a 64-bit geohash can express.
	MaxLevels = 12

	// earthRadiusMeters is the mean earth radius used for cell sizes.
	earthRadiusMeters = 6371008.8

	// The encoder maps [-r, r) onto the cell grid and wraps to the first cell
	// once (x+r)/2r rounds up to 1, which happens a few ULPs below the upper
	// edges too. Anything within edgeEpsilon of lat 90 or lon 180 is pulled
	// back inside the last cell.
	edgeEpsilon = 1e-9
)

// Cell is one level of a point's geohash prefix tree. A level k token has k
// characters and is a prefix of every deeper token for the same point.
type Cell struct {
	Level int
	Token string
}

// Encoder turns points into hierarchical geohash cells. It holds no mutable
// state and is safe for concurrent use.
//
// A coordinate lying exactly on a subdivision midpoint belongs to the upper
// half: east for longitude, north for latitude. Longitude 180 and latitude 90
// have no upper neighbour and resolve into the last cell of their level.
type Encoder struct {
	levels int
}

// NewEncoder returns an encoder producing levels cells per point.
func NewEncoder(levels int) (*Encoder, error) {
	if levels < 1 || levels > MaxLevels {
		return nil, fmt.Errorf("levels must be between 1 and %d, got %d", MaxLevels, levels)
	}
	return &Encoder{levels: levels}, nil
}

// Levels returns the maximum tree level.
func (e *Encoder) Levels() int {
	return e.levels
}

// Encode returns one cell per level, ordered from level 1 to Levels().
func (e *Encoder) Encode(p Point) ([]Cell, error) {
	if _, err := NewPoint(p.Longitude, p.Latitude); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailure, err)
	}

	lat, lon := p.Latitude, p.Longitude
	if lat > 90-edgeEpsilon {
		lat = 90 - edgeEpsilon
	}
	if lon > 180-edgeEpsilon {
		lon = 180 - edgeEpsilon
	}

	hash := geohash.EncodeWithPrecision(lat, lon, uint(e.levels))
	if len(hash) != e.levels {
		return nil, fmt.Errorf("%w: got %d characters for %s, want %d", ErrEncodeFailure, len(hash), p, e.levels)
	}

	cells := make([]Cell, e.levels)
	for i := range cells {
		cells[i] = Cell{Level: i + 1, Token: hash[:i+1]}
	}
	return cells, nil
}

// Bounds is the rectangle covered by a cell, in degrees.
type Bounds struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.Longitude >= b.MinLon && p.Longitude <= b.MaxLon &&
		p.Latitude >= b.MinLat && p.Latitude <= b.MaxLat
}

// CellBounds returns the rectangle covered by a cell token.
func CellBounds(token string) (Bounds, error) {
	if token == "" || len(token) > MaxLevels {
		return Bounds{}, fmt.Errorf("invalid cell token %q", token)
	}
	if err := geohash.Validate(token); err != nil {
		return Bounds{}, fmt.Errorf("invalid cell token %q: %w", token, err)
	}
	box := geohash.BoundingBox(token)
	return Bounds{MinLon: box.MinLng, MinLat: box.MinLat, MaxLon: box.MaxLng, MaxLat: box.MaxLat}, nil
}

// lonBits and latBits split the 5 bits per character between the axes,
// longitude taking the odd one.
func lonBits(level int) int { return (5*level + 1) / 2 }
func latBits(level int) int { return 5 * level / 2 }

// CellWidthMeters is the east-west extent of a level's cell at the equator.
func CellWidthMeters(level int) float64 {
	deg := 360 / float64(uint64(1)<<lonBits(level))
	return arcMeters(s2.LatLngFromDegrees(0, 0), s2.LatLngFromDegrees(0, deg))
}

// CellHeightMeters is the north-south extent of a level's cell.
func CellHeightMeters(level int) float64 {
	deg := 180 / float64(uint64(1)<<latBits(level))
	return arcMeters(s2.LatLngFromDegrees(0, 0), s2.LatLngFromDegrees(deg, 0))
}

func arcMeters(a, b s2.LatLng) float64 {
	return a.Distance(b).Radians() * earthRadiusMeters
}
