package device

import "errors"

// ErrUnwrittenRange is returned by ReadAt when the requested range lies in a
// segment that was never written (or was removed by truncation).
var ErrUnwrittenRange = errors.New("device: read of unwritten range")

// Device is the block-device surface the log core consumes. Addresses are
// the log's logical addresses; implementations map them onto segments.
type Device interface {
	// WriteAt copies p into the device at addr. The range may span segment
	// boundaries; missing segments are created.
	WriteAt(p []byte, addr int64) error

	// ReadAt fills p from the device at addr.
	ReadAt(p []byte, addr int64) error

	// Sync makes all completed writes durable.
	Sync() error

	// TruncateUntil releases storage for segments that lie entirely below
	// addr. Reads below the released point fail with ErrUnwrittenRange.
	TruncateUntil(addr int64) error

	// Path identifies the device (for FileDevice, its base path).
	Path() string

	Close() error
}
