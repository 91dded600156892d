package spatialindexer

import (
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// maxReportedProblems bounds how many inconsistencies VerifyIndex lists.
const maxReportedProblems = 10

// VerifyIndex checks a committed index for internal consistency: the record
// count matches the metadata, every stored coordinate parses, and every
// record is reachable from its name terms and from its deepest cell.
// Problems are reported wrapped in ErrCorruptIndex.
func VerifyIndex(path string) (*Meta, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	meta := r.Meta()
	if meta.Schema != schemaVersion {
		return &meta, fmt.Errorf("%w: schema version %d, want %d", ErrCorruptIndex, meta.Schema, schemaVersion)
	}
	if meta.Field != FieldPosition {
		return &meta, fmt.Errorf("%w: cell field %q, want %q", ErrCorruptIndex, meta.Field, FieldPosition)
	}
	enc, err := NewEncoder(meta.Levels)
	if err != nil {
		return &meta, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}

	var problems []error
	report := func(format string, args ...any) {
		if len(problems) < maxReportedProblems {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	count := 0
	err = r.db.View(func(tx *bolt.Tx) error {
		cells := tx.Bucket(bucketCells)
		terms := tx.Bucket(bucketTerms)
		return forEachDocument(tx, func(d Document) error {
			count++
			p, err := d.Point()
			if err != nil {
				report("record %d: %w", d.ID, err)
				return nil
			}
			encoded, err := enc.Encode(p)
			if err != nil {
				report("record %d: %w", d.ID, err)
				return nil
			}
			deepest := encoded[len(encoded)-1].Token
			if !hasKey(cells, postingKey(deepest, d.ID)) {
				report("record %d: not reachable from cell %s", d.ID, deepest)
			}
			for _, t := range analyze(d.Name) {
				if !hasKey(terms, postingKey(t, d.ID)) {
					report("record %d: not reachable from term %q", d.ID, t)
				}
			}
			return nil
		})
	})
	if err != nil {
		return &meta, err
	}
	if count != meta.Records {
		report("%d records stored, metadata says %d", count, meta.Records)
	}
	if len(problems) > 0 {
		return &meta, fmt.Errorf("%w: %w", ErrCorruptIndex, errors.Join(problems...))
	}
	return &meta, nil
}
