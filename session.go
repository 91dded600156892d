package spatialindexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateCommitted
	StateAborted
	// StateFailed means a flush or commit failed. The session can only be
	// aborted; the destination keeps its previous content.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AddStatus is the outcome of a single Add.
type AddStatus int

const (
	Added AddStatus = iota
	Skipped
)

func (s AddStatus) String() string {
	if s == Added {
		return "added"
	}
	return "skipped"
}

// AddResult reports what happened to one record. Reason is set for skipped
// records and wraps ErrAddFailure.
type AddResult struct {
	Status AddStatus
	ID     uint64
	Reason error
}

// Session writes one index build. Records go to a private staging store next
// to the destination and become visible only when Commit publishes them;
// until then the destination keeps its previous content.
//
// A destination has at most one open session at a time, enforced by an
// exclusive lock on <parent>/.<base>.lock. A Session is not safe for
// concurrent use.
type Session struct {
	cfg     *Config
	log     zerolog.Logger
	dest    string
	parent  string
	staging string
	buildID string

	lock *bolt.DB // held from Open until the session ends
	db   *bolt.DB // staging store
	tx   *bolt.Tx

	state   State
	pending int
	added   int
}

// Open acquires the destination and prepares an empty staging store.
//
// Open waits for the destination lock for at most the configured lock
// timeout or until ctx's deadline, whichever comes first. Any previous
// destination content is replaced on Commit, never appended to. On failure
// the error wraps ErrOpenFailure and nothing is left open.
func Open(ctx context.Context, dest string, opts ...Option) (*Session, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %w", ErrOpenFailure, dest, err)
	}
	parent, base := filepath.Dir(abs), filepath.Base(abs)
	if base == string(filepath.Separator) || base == "." {
		return nil, fmt.Errorf("%w: %s is not a usable destination", ErrOpenFailure, dest)
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating parent directory: %w", ErrOpenFailure, err)
	}

	timeout := cfg.LockTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailure, context.DeadlineExceeded)
	}

	s := &Session{
		cfg:     cfg,
		dest:    abs,
		parent:  parent,
		staging: filepath.Join(parent, "."+base+".staging"),
		buildID: uuid.NewString(),
	}
	s.log = cfg.Logger.With().Str("dest", abs).Str("build_id", s.buildID).Logger()

	lockPath := filepath.Join(parent, "."+base+".lock")
	s.lock, err = openLockStore(lockPath, timeout)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: destination %s is locked by another build: %w", ErrOpenFailure, abs, err)
		}
		return nil, fmt.Errorf("%w: opening lock %s: %w", ErrOpenFailure, lockPath, err)
	}

	if err := s.prepare(); err != nil {
		s.release()
		return nil, fmt.Errorf("%w: %w", ErrOpenFailure, err)
	}

	s.state = StateOpen
	s.log.Debug().Str("staging", s.staging).Msg("Session opened")
	return s, nil
}

// prepare replaces any leftover staging directory with a fresh store and
// begins the first write transaction. Runs with the lock held.
func (s *Session) prepare() error {
	if err := os.RemoveAll(s.staging); err != nil {
		return fmt.Errorf("clearing staging directory: %w", err)
	}
	if err := os.Mkdir(s.staging, 0o755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(s.staging, indexFile), 0o644, &bolt.Options{
		Timeout:        s.cfg.LockTimeout,
		NoSync:         true,
		NoFreelistSync: true,
	})
	if err != nil {
		return fmt.Errorf("opening staging store: %w", err)
	}
	s.db = db

	tx, err := db.Begin(true)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	s.tx = tx
	if err := resetBuckets(tx); err != nil {
		return err
	}
	return s.journal("building")
}

// journal records the build's progress in the lock file.
func (s *Session) journal(state string) error {
	return s.lock.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketJournal)
		if err != nil {
			return err
		}
		for k, v := range map[string]string{
			"build_id":   s.buildID,
			"state":      state,
			"staging":    s.staging,
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		} {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// release closes the stores and removes staging. It is safe to call on a
// partially opened session.
func (s *Session) release() error {
	var errs []error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil && !errors.Is(err, bolt.ErrTxClosed) {
			errs = append(errs, fmt.Errorf("rolling back: %w", err))
		}
		s.tx = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing staging store: %w", err))
		}
		s.db = nil
	}
	if err := os.RemoveAll(s.staging); err != nil {
		errs = append(errs, fmt.Errorf("removing staging directory: %w", err))
	}
	if s.lock != nil {
		if err := s.lock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing lock: %w", err))
		}
		s.lock = nil
	}
	return errors.Join(errs...)
}

// checkRecord rejects records the store cannot hold, before anything is
// written, so a rejected record never leaves partial postings behind.
func checkRecord(r Record) error {
	if err := r.validate(); err != nil {
		return err
	}
	for _, cell := range r.Cells() {
		if len(cell)+postingOverhead > bolt.MaxKeySize {
			return fmt.Errorf("cell token of %d bytes exceeds key limit", len(cell))
		}
	}
	for _, term := range r.Terms() {
		if len(term)+postingOverhead > bolt.MaxKeySize {
			return fmt.Errorf("term of %d bytes exceeds key limit %d", len(term), bolt.MaxKeySize)
		}
	}
	if len(r.Name())+len(r.Coords()) >= bolt.MaxValueSize/2 {
		return fmt.Errorf("stored fields of %d bytes exceed value limit", len(r.Name())+len(r.Coords()))
	}
	return nil
}

// Add writes one record into the staging store.
//
// A record the store cannot accept is skipped: the result carries the reason
// and the session stays open. A write error after the record was accepted,
// or a failed batch flush, fails the session.
func (s *Session) Add(r Record) (AddResult, error) {
	if s.state != StateOpen {
		return AddResult{}, fmt.Errorf("%w: add on %s session", ErrSessionState, s.state)
	}

	if err := checkRecord(r); err != nil {
		reason := fmt.Errorf("%w: %w", ErrAddFailure, err)
		s.log.Warn().Str("name", truncate(r.Name(), 64)).Err(err).Msg("Record rejected")
		return AddResult{Status: Skipped, Reason: reason}, nil
	}

	id, err := s.put(r)
	if err != nil {
		s.fail()
		return AddResult{}, fmt.Errorf("%w: %w", ErrAddFailure, err)
	}
	s.added++
	s.pending++

	if s.pending >= s.cfg.BatchSize {
		if err := s.flush(); err != nil {
			s.fail()
			return AddResult{}, fmt.Errorf("%w: flushing batch: %w", ErrCommitFailure, err)
		}
	}
	return AddResult{Status: Added, ID: id}, nil
}

func (s *Session) put(r Record) (uint64, error) {
	records := s.tx.Bucket(bucketRecords)
	cells := s.tx.Bucket(bucketCells)
	terms := s.tx.Bucket(bucketTerms)

	id, err := records.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("allocating record id: %w", err)
	}
	val, err := encodeGob(storedRecord{Name: r.Name(), Coords: r.Coords()})
	if err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	if err := records.Put(idKey(id), val); err != nil {
		return 0, fmt.Errorf("storing record %d: %w", id, err)
	}
	for _, cell := range r.Cells() {
		if err := cells.Put(postingKey(cell, id), []byte{}); err != nil {
			return 0, fmt.Errorf("indexing cell %s: %w", cell, err)
		}
	}
	for _, term := range r.Terms() {
		if err := terms.Put(postingKey(term, id), []byte{}); err != nil {
			return 0, fmt.Errorf("indexing term %q: %w", truncate(term, 64), err)
		}
	}
	return id, nil
}

// flush commits the current staging transaction and begins the next one.
func (s *Session) flush() error {
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return err
	}
	next, err := s.db.Begin(true)
	if err != nil {
		return err
	}
	s.tx = next
	s.log.Debug().Int("records", s.added).Msg("Batch flushed")
	s.pending = 0
	return nil
}

func (s *Session) fail() {
	s.state = StateFailed
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if s.lock != nil {
		_ = s.journal("failed")
	}
}

// Commit makes every added record durable and publishes the staging store
// as the destination, replacing whatever was there. It is irreversible and
// valid only once.
//
// If ctx is done before anything is written, Commit fails and the session
// stays open. Any later failure leaves the session failed with the previous
// destination in place. Once the staging store has been renamed over the
// destination the commit succeeds; a failed sync of the parent directory
// after that point is only logged.
func (s *Session) Commit(ctx context.Context) error {
	if s.state != StateOpen {
		return fmt.Errorf("%w: commit on %s session", ErrSessionState, s.state)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitFailure, err)
	}

	if err := s.seal(); err != nil {
		s.fail()
		return fmt.Errorf("%w: %w", ErrCommitFailure, err)
	}
	if err := ctx.Err(); err != nil {
		s.fail()
		return fmt.Errorf("%w: not published: %w", ErrCommitFailure, err)
	}
	if err := s.publish(); err != nil {
		s.fail()
		return fmt.Errorf("%w: %w", ErrCommitFailure, err)
	}

	s.state = StateCommitted
	if err := s.journal("committed"); err != nil {
		s.log.Warn().Err(err).Msg("Failed to update build journal")
	}
	if err := s.lock.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release destination lock")
	}
	s.lock = nil
	s.log.Info().Int("records", s.added).Msg("Index committed")
	return nil
}

// seal writes the metadata, commits the last transaction, syncs the staging
// store to disk and closes it.
func (s *Session) seal() error {
	meta, err := encodeGob(Meta{
		Schema:  schemaVersion,
		Field:   FieldPosition,
		Levels:  s.cfg.Levels,
		Records: s.added,
		BuildID: s.buildID,
		BuiltAt: time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := s.tx.Bucket(bucketMeta).Put(keyMeta, meta); err != nil {
		return fmt.Errorf("storing metadata: %w", err)
	}

	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing staging store: %w", err)
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("syncing staging store: %w", err)
	}
	db := s.db
	s.db = nil
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing staging store: %w", err)
	}
	return nil
}

// publish swaps the staging directory in for the destination. The old
// destination is moved aside first and restored if the swap fails.
func (s *Session) publish() error {
	var aside string
	if _, err := os.Lstat(s.dest); err == nil {
		aside = filepath.Join(s.parent, "."+filepath.Base(s.dest)+".old-"+uuid.NewString())
		if err := os.Rename(s.dest, aside); err != nil {
			return fmt.Errorf("moving previous index aside: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("inspecting destination: %w", err)
	}

	if err := os.Rename(s.staging, s.dest); err != nil {
		if aside != "" {
			if rerr := os.Rename(aside, s.dest); rerr != nil {
				return fmt.Errorf("publishing index: %w (previous index left at %s: %v)", err, aside, rerr)
			}
		}
		return fmt.Errorf("publishing index: %w", err)
	}
	// The new index is live from here on; a failed directory sync is only
	// logged.
	if err := syncDir(s.parent); err != nil {
		s.log.Warn().Str("path", s.parent).Err(err).Msg("Failed to sync index directory")
	}

	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			s.log.Warn().Str("path", aside).Err(err).Msg("Failed to remove previous index")
		}
	}
	return nil
}

var syncDir = func(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Abort discards everything added in this session and releases the
// destination, which is left exactly as it was before Open. Aborting an
// aborted session is a no-op.
func (s *Session) Abort() error {
	switch s.state {
	case StateAborted:
		return nil
	case StateOpen, StateFailed:
	default:
		return fmt.Errorf("%w: abort on %s session", ErrSessionState, s.state)
	}

	if s.lock != nil {
		if err := s.journal("aborted"); err != nil {
			s.log.Warn().Err(err).Msg("Failed to update build journal")
		}
	}
	err := s.release()
	s.state = StateAborted
	s.log.Info().Int("discarded", s.added).Msg("Index build aborted")
	return err
}

// State returns the session's lifecycle state.
func (s *Session) State() State { return s.state }

// Dest returns the absolute destination path.
func (s *Session) Dest() string { return s.dest }

// Added returns the number of records written so far.
func (s *Session) Added() int { return s.added }

// BuildID identifies this build. It is stored in the index metadata.
func (s *Session) BuildID() string { return s.buildID }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
