package spatialindexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
	. "gopkg.in/check.v1"
)

type ReaderSuite struct {
	dest string
	r    *Reader
}

var _ = Suite(&ReaderSuite{})

func (s *ReaderSuite) SetUpSuite(c *C) {
	s.dest = filepath.Join(c.MkDir(), "places")
	candidates := []Candidate{
		NewCandidate("Central Park", -73.968, 40.785),
		NewCandidate("Golden Gate Park", -122.486, 37.769),
		NewCandidate("Central Station", -73.9772, 40.7527),
		NewCandidate("The", 10, 10),
		NewCandidate("", 20, 20),
	}
	_, err := Build(context.Background(), s.dest, candidates, quiet)
	c.Assert(err, IsNil)

	s.r, err = OpenReader(s.dest)
	c.Assert(err, IsNil)
}

func (s *ReaderSuite) TearDownSuite(c *C) {
	if s.r != nil {
		c.Assert(s.r.Close(), IsNil)
	}
}

func names(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Name)
	}
	return out
}

func (s *ReaderSuite) TestCount(c *C) {
	n, err := s.r.Count()
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 5)
	c.Assert(s.r.Path(), Equals, s.dest)
}

func (s *ReaderSuite) TestCellAtEveryLevel(c *C) {
	full := "dr72hbdjuej"
	for level := 1; level <= len(full); level++ {
		docs, err := s.r.Cell(full[:level])
		c.Assert(err, IsNil)
		c.Assert(names(docs), Not(HasLen), 0)
		c.Assert(names(docs)[0], Equals, "Central Park")
	}

	docs, err := s.r.Cell("dr5")
	c.Assert(err, IsNil)
	c.Assert(names(docs), DeepEquals, []string{"Central Station"})

	// Both New York entities share the coarse cells.
	docs, err = s.r.Cell("dr")
	c.Assert(err, IsNil)
	c.Assert(names(docs), DeepEquals, []string{"Central Park", "Central Station"})
}

func (s *ReaderSuite) TestCellInvalidToken(c *C) {
	_, err := s.r.Cell("ail")
	c.Assert(err, NotNil)
}

func (s *ReaderSuite) TestTerm(c *C) {
	docs, err := s.r.Term("CENTRAL", 0)
	c.Assert(err, IsNil)
	c.Assert(names(docs), DeepEquals, []string{"Central Park", "Central Station"})

	docs, err = s.r.Term("park", 0)
	c.Assert(err, IsNil)
	c.Assert(names(docs), DeepEquals, []string{"Central Park", "Golden Gate Park"})

	docs, err = s.r.Term("the", 0)
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 0)
}

func (s *ReaderSuite) TestFuzzyTerm(c *C) {
	docs, err := s.r.Term("centrl", 0)
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 0)

	docs, err = s.r.Term("centrl", 1)
	c.Assert(err, IsNil)
	c.Assert(names(docs), DeepEquals, []string{"Central Park", "Central Station"})

	docs, err = s.r.Term("goldn", 1)
	c.Assert(err, IsNil)
	c.Assert(names(docs), DeepEquals, []string{"Golden Gate Park"})
}

func (s *ReaderSuite) TestName(c *C) {
	docs, err := s.r.Name("central park")
	c.Assert(err, IsNil)
	c.Assert(names(docs), DeepEquals, []string{"Central Park"})

	// Names without searchable terms are still found.
	docs, err = s.r.Name("THE")
	c.Assert(err, IsNil)
	c.Assert(names(docs), DeepEquals, []string{"The"})

	docs, err = s.r.Name("")
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 1)
	p, err := docs[0].Point()
	c.Assert(err, IsNil)
	c.Assert(p, Equals, Point{Longitude: 20, Latitude: 20})

	docs, err = s.r.Name("Central")
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 0)
}

func (s *ReaderSuite) TestDocument(c *C) {
	d, err := s.r.Document(2)
	c.Assert(err, IsNil)
	c.Assert(d.Name, Equals, "Golden Gate Park")
	c.Assert(d.Coords, Equals, "Pt(x=-122.486,y=37.769)")

	_, err = s.r.Document(99)
	c.Assert(errors.Is(err, ErrNotFound), Equals, true)
}

func (s *ReaderSuite) TestOpenMissingIndex(c *C) {
	_, err := OpenReader(filepath.Join(c.MkDir(), "nothing"))
	c.Assert(err, NotNil)
}

func (s *ReaderSuite) TestVerifyDetectsMissingPostings(c *C) {
	dest := filepath.Join(c.MkDir(), "broken")
	_, err := Build(context.Background(), dest, []Candidate{NewCandidate("Central Park", -73.968, 40.785)}, quiet)
	c.Assert(err, IsNil)

	corruptCells(c, dest)

	_, err = VerifyIndex(dest)
	c.Assert(errors.Is(err, ErrCorruptIndex), Equals, true)
	c.Assert(err, ErrorMatches, "(?s).*not reachable from cell dr72hbdjuej.*")
}

func (s *ReaderSuite) TestVerifyMissingDirectory(c *C) {
	_, err := VerifyIndex(filepath.Join(c.MkDir(), "none"))
	c.Assert(errors.Is(err, os.ErrNotExist), Equals, true)
}

func (s *ReaderSuite) TestVerifyCountMismatch(c *C) {
	dest := filepath.Join(c.MkDir(), "short")
	_, err := Build(context.Background(), dest, []Candidate{
		NewCandidate("A", 1, 1),
		NewCandidate("B", 2, 2),
	}, quiet)
	c.Assert(err, IsNil)

	withIndex(c, dest, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete(idKey(2))
	})

	_, err = VerifyIndex(dest)
	c.Assert(errors.Is(err, ErrCorruptIndex), Equals, true)
	c.Assert(err, ErrorMatches, "(?s).*1 records stored, metadata says 2.*")
}

// corruptCells drops the finest cell posting of every record.
func corruptCells(c *C, dest string) {
	withIndex(c, dest, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCells)
		var drop [][]byte
		err := b.ForEach(func(k, _ []byte) error {
			if len(k) == DefaultLevels+postingOverhead {
				drop = append(drop, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range drop {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func withIndex(c *C, dest string, fn func(*bolt.Tx) error) {
	db, err := bolt.Open(filepath.Join(dest, indexFile), 0o644, nil)
	c.Assert(err, IsNil)
	defer db.Close()
	c.Assert(db.Update(fn), IsNil)
}
