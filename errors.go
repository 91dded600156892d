package spatialindexer

import "errors"

// Error taxonomy for an index build. Every error returned by Open, Add,
// Commit and Build wraps one of these, so callers branch with errors.Is.
var (
	// ErrInvalidCoordinate marks input whose longitude or latitude is missing,
	// non-numeric or out of range. Recoverable: the entity is skipped.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrEncodeFailure is an invariant violation inside the geohash encoder.
	// It should not happen for a validated point.
	ErrEncodeFailure = errors.New("encode failure")

	// ErrOpenFailure means the destination could not be acquired for writing.
	ErrOpenFailure = errors.New("open failure")

	// ErrAddFailure means the store rejected a well-formed record.
	ErrAddFailure = errors.New("add failure")

	// ErrCommitFailure means buffered records could not be made durable or
	// published. The session can no longer commit.
	ErrCommitFailure = errors.New("commit failure")

	// ErrSessionState is returned when an operation is not valid in the
	// session's current state, e.g. a second Commit.
	ErrSessionState = errors.New("invalid session state")
)

// Errors from reading a committed index.
var (
	ErrNotFound     = errors.New("not found")
	ErrCorruptIndex = errors.New("corrupt index")
)
