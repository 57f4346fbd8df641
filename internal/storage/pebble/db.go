package pebblestore

import (
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = pebble.ErrNotFound

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// NoSync skips the WAL fsync on writes. Commit metadata must be durable
	// before it is acknowledged, so leave this unset outside tests and
	// benchmarks.
	NoSync bool
	// PebbleOptions allows advanced tuning of Pebble. If nil, Pebble's
	// defaults are used; the commit workload is one small blob per flush,
	// which they handle fine.
	PebbleOptions *pebble.Options
	// Metrics allows observing read/write latencies and sizes. Optional.
	Metrics MetricsHook
}

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(time.Duration, int) {}
func (NoopMetrics) ObserveRead(time.Duration, int)  {}

// DB wraps a Pebble database in the point-op surface the commit store
// needs. The write durability mode is fixed at open.
type DB struct {
	inner   *pebble.DB
	wo      *pebble.WriteOptions
	metrics MetricsHook
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	wo := pebble.Sync
	if opts.NoSync {
		wo = pebble.NoSync
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &DB{inner: inner, wo: wo, metrics: metrics}, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Set writes a key with the durability mode fixed at open.
func (db *DB) Set(key, value []byte) error {
	start := time.Now()
	if err := db.inner.Set(key, value, db.wo); err != nil {
		return err
	}
	db.metrics.ObserveWrite(time.Since(start), len(value))
	return nil
}

// Delete removes a key with the durability mode fixed at open.
func (db *DB) Delete(key []byte) error {
	return db.inner.Delete(key, db.wo)
}

// Get copies the value for the given key.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}
