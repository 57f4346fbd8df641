package flume

import (
	"fmt"

	"github.com/rzbill/flume/internal/commitstore"
	"github.com/rzbill/flume/internal/device"
	"github.com/rzbill/flume/pkg/log"
)

// CommitBackend selects where commit metadata is persisted.
type CommitBackend int

const (
	// CommitBackendFile keeps the commit blob in a sidecar file next to the
	// data, replaced atomically on every commit. The default.
	CommitBackendFile CommitBackend = iota
	// CommitBackendPebble keeps the commit blob in a Pebble database, for
	// embedders that already operate one.
	CommitBackendPebble
)

// Options configures a Log. The zero value is not usable; DataPath (or
// InMemory) is required and everything else has defaults.
type Options struct {
	// DataPath is the base path for segment files ("<path>.0", "<path>.1",
	// ...). Required unless InMemory is set.
	DataPath string

	// InMemory backs the log with a volatile in-memory device. Contents do
	// not survive the process; commits still go to the commit store.
	InMemory bool

	// CommitPath locates commit metadata. Defaults to DataPath+".commit"
	// (a file for CommitBackendFile, a directory for CommitBackendPebble).
	CommitPath string

	// CommitBackend selects the commit store implementation.
	CommitBackend CommitBackend

	// MemorySizeBits sizes the in-memory page ring: 2^N bytes. Default 25
	// (32 MiB).
	MemorySizeBits uint

	// PageSizeBits sizes each page: 2^N bytes. Must be less than
	// MemorySizeBits. Default 22 (4 MiB).
	PageSizeBits uint

	// SegmentSizeBits sizes each device segment file: 2^N bytes. Must be at
	// least PageSizeBits. Default 30 (1 GiB).
	SegmentSizeBits uint

	// MutableFraction is the fraction of the ring kept mutable before pages
	// are marked read-only and flushed. Default 0.9.
	MutableFraction float64

	// GetMemory, when set, supplies buffers for scan outputs. It must
	// return a slice of at least the requested length.
	GetMemory func(n int) []byte

	// Logger receives flush and commit diagnostics. Defaults to a no-op.
	Logger log.Logger

	// test seams; when set they take precedence over DataPath/CommitPath.
	dev   device.Device
	store commitstore.Store
}

func (o Options) withDefaults() Options {
	if o.MemorySizeBits == 0 {
		o.MemorySizeBits = 25
	}
	if o.PageSizeBits == 0 {
		o.PageSizeBits = 22
	}
	if o.SegmentSizeBits == 0 {
		o.SegmentSizeBits = 30
	}
	if o.MutableFraction == 0 {
		o.MutableFraction = 0.9
	}
	if o.CommitPath == "" && o.DataPath != "" {
		o.CommitPath = o.DataPath + ".commit"
	}
	if o.Logger == nil {
		o.Logger = log.NewNop()
	}
	return o
}

func (o Options) validate() error {
	if o.DataPath == "" && !o.InMemory && o.dev == nil {
		return fmt.Errorf("%w: DataPath is required", ErrInvalidConfig)
	}
	if o.PageSizeBits < 9 || o.PageSizeBits > 28 {
		return fmt.Errorf("%w: PageSizeBits %d out of range [9,28]", ErrInvalidConfig, o.PageSizeBits)
	}
	if o.MemorySizeBits <= o.PageSizeBits {
		return fmt.Errorf("%w: MemorySizeBits %d must exceed PageSizeBits %d", ErrInvalidConfig, o.MemorySizeBits, o.PageSizeBits)
	}
	if o.SegmentSizeBits < o.PageSizeBits {
		return fmt.Errorf("%w: SegmentSizeBits %d must be at least PageSizeBits %d", ErrInvalidConfig, o.SegmentSizeBits, o.PageSizeBits)
	}
	if o.MutableFraction <= 0 || o.MutableFraction > 1 {
		return fmt.Errorf("%w: MutableFraction %v out of range (0,1]", ErrInvalidConfig, o.MutableFraction)
	}
	return nil
}
