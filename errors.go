package flume

import "errors"

var (
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("flume: log closed")

	// ErrTooLarge is returned when a payload cannot fit in a single page.
	ErrTooLarge = errors.New("flume: payload exceeds page capacity")

	// ErrEmptyPayload is returned for zero-length payloads; a zero length
	// prefix on disk marks the unused tail of a page.
	ErrEmptyPayload = errors.New("flume: empty payload")

	// ErrIteratorDone is returned by Next once the iterator has passed its
	// end address, and by Next on a closed iterator.
	ErrIteratorDone = errors.New("flume: iterator done")

	// ErrDeviceFailed wraps a device write or sync failure. The flush
	// frontier is frozen; the process must restart and recover from the
	// last commit.
	ErrDeviceFailed = errors.New("flume: device failed")

	// ErrCommitFailed wraps a commit-store persistence failure. The
	// committed frontier is not advanced.
	ErrCommitFailed = errors.New("flume: commit failed")

	// ErrInvalidConfig is wrapped by Open when settings are rejected.
	ErrInvalidConfig = errors.New("flume: invalid configuration")
)
