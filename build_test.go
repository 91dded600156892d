package spatialindexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	. "gopkg.in/check.v1"
)

type BuildSuite struct {
	dest       string
	candidates []Candidate
}

var _ = Suite(&BuildSuite{})

func (s *BuildSuite) SetUpTest(c *C) {
	s.dest = filepath.Join(c.MkDir(), "parks")
	var err error
	s.candidates, err = ReadCandidates(strings.NewReader(parksJSON))
	c.Assert(err, IsNil)
}

func (s *BuildSuite) TestBuildSkipsInvalidCoordinates(c *C) {
	report, err := Build(context.Background(), s.dest, s.candidates, quiet)
	c.Assert(err, IsNil)
	c.Assert(report.Total, Equals, 3)
	c.Assert(report.Added, Equals, 2)
	c.Assert(report.Skipped, HasLen, 1)
	c.Assert(report.Skipped[0].Index, Equals, 2)
	c.Assert(report.Skipped[0].Name, Equals, "Bad")
	c.Assert(errors.Is(report.Skipped[0].Err, ErrInvalidCoordinate), Equals, true)
	c.Assert(report.BuildID, Not(Equals), "")

	r, err := OpenReader(s.dest)
	c.Assert(err, IsNil)
	defer r.Close()

	meta := r.Meta()
	c.Assert(meta.Records, Equals, 2)
	c.Assert(meta.Levels, Equals, DefaultLevels)
	c.Assert(meta.BuildID, Equals, report.BuildID)

	docs, err := r.Name("Central Park")
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 1)
	p, err := docs[0].Point()
	c.Assert(err, IsNil)
	c.Assert(p, Equals, Point{Longitude: -73.968, Latitude: 40.785})

	docs, err = r.Cell("dr72h")
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 1)
	c.Assert(docs[0].Name, Equals, "Central Park")

	docs, err = r.Cell("9q8yu")
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 1)
	c.Assert(docs[0].Name, Equals, "Golden Gate Park")

	docs, err = r.Name("Bad")
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 0)

	_, err = VerifyIndex(s.dest)
	c.Assert(err, IsNil)
}

func (s *BuildSuite) TestBuildReplacesPreviousIndex(c *C) {
	_, err := Build(context.Background(), s.dest, s.candidates, quiet)
	c.Assert(err, IsNil)

	report, err := Build(context.Background(), s.dest, []Candidate{NewCandidate("Hyde Park", -0.1657, 51.5073)}, quiet)
	c.Assert(err, IsNil)
	c.Assert(report.Added, Equals, 1)
	c.Assert(indexNames(c, s.dest), DeepEquals, []string{"Hyde Park"})
}

func (s *BuildSuite) TestStrictModeAbortsOnRejectedRecord(c *C) {
	_, err := Build(context.Background(), s.dest, s.candidates, quiet)
	c.Assert(err, IsNil)

	candidates := []Candidate{
		NewCandidate("Hyde Park", -0.1657, 51.5073),
		NewCandidate(strings.Repeat("x", 40000), 1, 1),
	}
	report, err := Build(context.Background(), s.dest, candidates, quiet, WithMode(ModeStrict))
	c.Assert(errors.Is(err, ErrAddFailure), Equals, true)
	c.Assert(report, NotNil)
	c.Assert(report.Added, Equals, 1)

	// The previous index survives and nothing is left staged.
	c.Assert(indexNames(c, s.dest), DeepEquals, []string{"Central Park", "Golden Gate Park"})
	_, err = os.Stat(filepath.Join(filepath.Dir(s.dest), ".parks.staging"))
	c.Assert(os.IsNotExist(err), Equals, true)
}

func (s *BuildSuite) TestBestEffortSkipsRejectedRecord(c *C) {
	candidates := []Candidate{
		NewCandidate("Hyde Park", -0.1657, 51.5073),
		NewCandidate(strings.Repeat("x", 40000), 1, 1),
	}
	report, err := Build(context.Background(), s.dest, candidates, quiet)
	c.Assert(err, IsNil)
	c.Assert(report.Added, Equals, 1)
	c.Assert(report.Skipped, HasLen, 1)
	c.Assert(errors.Is(report.Skipped[0].Err, ErrAddFailure), Equals, true)
}

func (s *BuildSuite) TestCancelledBuildLeavesNoIndex(c *C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := Build(ctx, s.dest, s.candidates, quiet)
	c.Assert(errors.Is(err, ErrOpenFailure), Equals, true)
	c.Assert(report, NotNil)
	c.Assert(report.Added, Equals, 0)
	_, err = os.Stat(s.dest)
	c.Assert(os.IsNotExist(err), Equals, true)
}

func (s *BuildSuite) TestEmptyInput(c *C) {
	report, err := Build(context.Background(), s.dest, nil, quiet)
	c.Assert(err, IsNil)
	c.Assert(report.Added, Equals, 0)

	meta, err := VerifyIndex(s.dest)
	c.Assert(err, IsNil)
	c.Assert(meta.Records, Equals, 0)
}

func (s *BuildSuite) TestCustomLevels(c *C) {
	_, err := Build(context.Background(), s.dest, s.candidates, quiet, WithLevels(4))
	c.Assert(err, IsNil)

	r, err := OpenReader(s.dest)
	c.Assert(err, IsNil)
	defer r.Close()
	c.Assert(r.Meta().Levels, Equals, 4)

	docs, err := r.Cell("dr72")
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 1)
	docs, err = r.Cell("dr72h")
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 0)
}

func (s *BuildSuite) TestInvalidOptions(c *C) {
	report, err := Build(context.Background(), s.dest, s.candidates, quiet, WithLevels(13))
	c.Assert(errors.Is(err, ErrOpenFailure), Equals, true)
	c.Assert(report, IsNil)
}
