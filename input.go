package spatialindexer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Candidate is one raw input row as read from the source JSON:
//
//	{"Name": "Central Park", "pos": [-73.968, 40.785]}
//
// Pos is ordered [longitude, latitude]. Elements stay raw so that a missing
// value, a non-numeric value and an out of range number are all reported as
// ErrInvalidCoordinate with a precise reason instead of failing the whole
// decode.
type Candidate struct {
	Name string            `json:"Name"`
	Pos  []json.RawMessage `json:"pos"`
}

// NewCandidate builds a Candidate from typed values, mainly for callers that
// do not start from JSON.
func NewCandidate(name string, lon, lat float64) Candidate {
	return Candidate{
		Name: name,
		Pos: []json.RawMessage{
			json.RawMessage(strconv.FormatFloat(lon, 'g', -1, 64)),
			json.RawMessage(strconv.FormatFloat(lat, 'g', -1, 64)),
		},
	}
}

// Point validates the candidate's position.
func (c Candidate) Point() (Point, error) {
	if len(c.Pos) != 2 {
		return Point{}, fmt.Errorf("%w: expected [longitude, latitude], got %d values", ErrInvalidCoordinate, len(c.Pos))
	}
	lon, err := coordinateValue(c.Pos[0], "longitude")
	if err != nil {
		return Point{}, err
	}
	lat, err := coordinateValue(c.Pos[1], "latitude")
	if err != nil {
		return Point{}, err
	}
	return NewPoint(lon, lat)
}

// Entity validates the candidate and returns the entity to index.
func (c Candidate) Entity() (Entity, error) {
	p, err := c.Point()
	if err != nil {
		return Entity{}, err
	}
	return Entity{Name: c.Name, Location: p}, nil
}

func coordinateValue(raw json.RawMessage, axis string) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, fmt.Errorf("%w: %s is missing", ErrInvalidCoordinate, axis)
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return 0, fmt.Errorf("%w: %s %s is not a number", ErrInvalidCoordinate, axis, trimmed)
	}
	return v, nil
}

// ReadCandidates decodes a JSON array of candidates.
func ReadCandidates(r io.Reader) ([]Candidate, error) {
	var out []Candidate
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	return out, nil
}

// ReadCandidatesFile decodes the JSON array stored at path.
func ReadCandidatesFile(path string) ([]Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input %s: %w", path, err)
	}
	defer f.Close()
	return ReadCandidates(f)
}
