package spatialindexer

import (
	"context"
	"fmt"
	"time"
)

// Skip records an input entity that did not make it into the index.
type Skip struct {
	Index int    // position in the input
	Name  string // entity name, possibly empty
	Err   error  // wraps ErrInvalidCoordinate or ErrAddFailure
}

// Report summarizes a build.
type Report struct {
	Dest     string
	BuildID  string
	Total    int
	Added    int
	Skipped  []Skip
	Duration time.Duration
}

// Build indexes candidates into dest, replacing any previous index there.
//
// Candidates with invalid coordinates are skipped and reported. Records the
// store rejects are skipped too in best-effort mode; in strict mode the first
// one aborts the build. The destination is only changed if the build
// commits. The returned report is non-nil whenever options are valid, and
// on failure describes the progress made before the build was abandoned.
func Build(ctx context.Context, dest string, candidates []Candidate, opts ...Option) (*Report, error) {
	start := time.Now()
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}
	enc, err := NewEncoder(cfg.Levels)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}
	log := cfg.Logger

	report := &Report{Dest: dest, Total: len(candidates)}
	defer func() { report.Duration = time.Since(start) }()

	sess, err := Open(ctx, dest, opts...)
	if err != nil {
		return report, err
	}
	report.Dest = sess.Dest()
	report.BuildID = sess.BuildID()

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := sess.Abort(); err != nil {
			log.Warn().Err(err).Str("dest", report.Dest).Msg("Failed to clean up aborted build")
		}
	}()

	skip := func(i int, name string, err error) {
		report.Skipped = append(report.Skipped, Skip{Index: i, Name: name, Err: err})
		log.Warn().Int("index", i).Str("name", name).Err(err).Msg("Record skipped")
	}

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: build interrupted after %d of %d entities: %w", ErrCommitFailure, i, len(candidates), err)
		}

		entity, err := c.Entity()
		if err != nil {
			skip(i, c.Name, err)
			continue
		}
		cells, err := enc.Encode(entity.Location)
		if err != nil {
			return report, fmt.Errorf("entity %d (%q): %w", i, c.Name, err)
		}
		rec, err := AssembleRecord(entity, cells)
		if err != nil {
			return report, fmt.Errorf("entity %d (%q): %w", i, c.Name, err)
		}

		res, err := sess.Add(rec)
		if err != nil {
			return report, fmt.Errorf("entity %d (%q): %w", i, c.Name, err)
		}
		if res.Status == Skipped {
			if cfg.Mode == ModeStrict {
				return report, fmt.Errorf("entity %d (%q): %w", i, c.Name, res.Reason)
			}
			skip(i, c.Name, res.Reason)
			continue
		}
		report.Added++
	}

	if err := sess.Commit(ctx); err != nil {
		return report, err
	}
	committed = true

	log.Info().
		Str("dest", report.Dest).
		Int("total", report.Total).
		Int("added", report.Added).
		Int("skipped", len(report.Skipped)).
		Dur("took", time.Since(start)).
		Msg("Index build complete")
	return report, nil
}
