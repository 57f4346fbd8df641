package flume

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rzbill/flume/internal/alloc"
	"github.com/rzbill/flume/internal/commitstore"
	"github.com/rzbill/flume/internal/device"
	"github.com/rzbill/flume/internal/epoch"
	"github.com/rzbill/flume/pkg/log"
)

// FirstValidAddress is the address of the first record in an empty log.
const FirstValidAddress = alloc.FirstValidAddress

// Log is a durable append-only log. All methods are safe for concurrent
// use.
type Log struct {
	opts   Options
	logger log.Logger

	ep    *epoch.Protector
	al    *alloc.Allocator
	dev   device.Device
	store commitstore.Store

	// commitMu serializes commit-metadata persistence and the broadcast
	// channel swap.
	commitMu  sync.Mutex
	committed atomic.Int64
	commitErr error
	wake      chan struct{}

	// safeTail bounds uncommitted tailing: every record below it is fully
	// written in page memory.
	safeTail atomic.Int64

	itMu     sync.Mutex
	named    map[string]*Iterator
	restored map[string]int64

	closed atomic.Bool
}

// Open validates opts, restores state from the latest commit metadata (if
// any), and returns a log ready for appends.
func Open(opts Options) (*Log, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	l := &Log{
		opts:     opts,
		logger:   opts.Logger,
		ep:       epoch.New(),
		wake:     make(chan struct{}),
		named:    make(map[string]*Iterator),
		restored: make(map[string]int64),
	}

	dev := opts.dev
	if dev == nil {
		if opts.InMemory {
			dev = device.OpenMem(opts.SegmentSizeBits)
		} else {
			var err error
			dev, err = device.OpenFile(opts.DataPath, opts.SegmentSizeBits)
			if err != nil {
				return nil, fmt.Errorf("flume: open device: %w", err)
			}
		}
	}
	l.dev = dev

	store := opts.store
	if store == nil {
		var err error
		switch {
		case opts.CommitPath == "":
			store = commitstore.NewMemStore()
		case opts.CommitBackend == CommitBackendPebble:
			store, err = commitstore.OpenPebbleStore(opts.CommitPath)
		default:
			store, err = commitstore.OpenFileStore(opts.CommitPath)
		}
		if err != nil {
			_ = dev.Close()
			return nil, fmt.Errorf("flume: open commit store: %w", err)
		}
	}
	l.store = store

	al, err := alloc.New(alloc.Options{
		PageSizeBits:    opts.PageSizeBits,
		MemorySizeBits:  opts.MemorySizeBits,
		SegmentSizeBits: opts.SegmentSizeBits,
		MutableFraction: opts.MutableFraction,
		Device:          dev,
		Epoch:           l.ep,
		Logger:          l.logger.With(log.Component("alloc")),
		OnFlushed:       l.onFlushed,
	})
	if err != nil {
		_ = store.Close()
		_ = dev.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	l.al = al

	if err := l.restore(); err != nil {
		_ = al.Close()
		_ = store.Close()
		_ = dev.Close()
		return nil, err
	}
	return l, nil
}

// Close stops the flusher, releases waiters, and closes the device and
// commit store. Uncommitted in-memory data is lost; call FlushAndCommit
// first if it matters.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.ep.Drain()
	err := l.al.Close()
	l.broadcast()
	if cerr := l.store.Close(); err == nil {
		err = cerr
	}
	if derr := l.dev.Close(); err == nil {
		err = derr
	}
	return err
}

// BeginAddress returns the truncation boundary; scans start no earlier.
func (l *Log) BeginAddress() int64 { return l.al.BeginAddress() }

// HeadAddress returns the lowest address resident in memory.
func (l *Log) HeadAddress() int64 { return l.al.HeadAddress() }

// ReadOnlyAddress returns the mutable boundary.
func (l *Log) ReadOnlyAddress() int64 { return l.al.ReadOnlyAddress() }

// FlushedUntilAddress returns the contiguous flush frontier.
func (l *Log) FlushedUntilAddress() int64 { return l.al.FlushedUntilAddress() }

// CommittedUntilAddress returns the durability frontier: entries below it
// survive a crash.
func (l *Log) CommittedUntilAddress() int64 { return l.committed.Load() }

// TailAddress returns the next address to be assigned.
func (l *Log) TailAddress() int64 { return l.al.TailAddress() }

// Stats is a point-in-time snapshot of the log's boundary addresses.
type Stats struct {
	Begin        int64
	Head         int64
	ReadOnly     int64
	SafeReadOnly int64
	FlushedUntil int64
	Committed    int64
	Tail         int64
}

// Stats returns a snapshot of the boundary addresses. Fields are read
// independently; transient skew between them is possible.
func (l *Log) Stats() Stats {
	return Stats{
		Begin:        l.al.BeginAddress(),
		Head:         l.al.HeadAddress(),
		ReadOnly:     l.al.ReadOnlyAddress(),
		SafeReadOnly: l.al.SafeReadOnlyAddress(),
		FlushedUntil: l.al.FlushedUntilAddress(),
		Committed:    l.committed.Load(),
		Tail:         l.al.TailAddress(),
	}
}

// RefreshUncommitted publishes the current tail to uncommitted-tailing
// iterators. The publication goes through the epoch so every record below
// the captured tail is fully written before a scanner can see it.
func (l *Log) RefreshUncommitted() {
	if l.closed.Load() {
		return
	}
	t := l.al.TailAddress()
	l.ep.BumpWith(func() {
		advanceMax(&l.safeTail, t)
		l.broadcast()
	})
	l.ep.Drain()
}

// TruncateUntil advances BeginAddress to until, releasing device segments
// that fall wholly below it. until is clamped to the committed frontier;
// the new boundary is persisted to the commit store before it returns.
func (l *Log) TruncateUntil(until int64) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if c := l.committed.Load(); until > c {
		until = c
	}
	g := l.ep.Enter()
	l.al.ShiftBegin(until)
	g.Exit()
	l.ep.Drain()
	return l.persistCommit()
}

// persistCommit re-persists commit metadata at the current committed
// frontier. Truncation uses it so the new begin address survives a crash
// even when no flush is outstanding.
func (l *Log) persistCommit() error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	if l.commitErr != nil {
		return l.commitErr
	}
	ri := recoveryInfo{
		Begin:        l.al.BeginAddress(),
		FlushedUntil: l.committed.Load(),
		Iterators:    l.snapshotIterators(),
	}
	if ri.FlushedUntil < ri.Begin {
		ri.FlushedUntil = ri.Begin
	}
	if err := l.store.Persist(ri.encode()); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	return nil
}

// deviceError wraps the allocator's sticky flush failure, if any.
func (l *Log) deviceError() error {
	if err := l.al.FlushError(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceFailed, err)
	}
	return nil
}

func advanceMax(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if v <= cur || a.CompareAndSwap(cur, v) {
			return
		}
	}
}

// broadcast wakes every waiter parked on the watched channel.
func (l *Log) broadcast() {
	l.commitMu.Lock()
	old := l.wake
	l.wake = make(chan struct{})
	l.commitMu.Unlock()
	close(old)
}

// onFlushed runs on the flusher goroutine each time FlushedUntilAddress
// advances. It persists recovery metadata and advances the committed
// frontier; monotonicity is enforced under commitMu so stale callbacks
// never regress it.
func (l *Log) onFlushed(until int64) {
	l.commitMu.Lock()
	if l.commitErr == nil && until > l.committed.Load() {
		ri := recoveryInfo{
			Begin:        l.al.BeginAddress(),
			FlushedUntil: until,
			Iterators:    l.snapshotIterators(),
		}
		if err := l.store.Persist(ri.encode()); err != nil {
			l.commitErr = fmt.Errorf("%w: %v", ErrCommitFailed, err)
			l.logger.Error("commit persist failed", log.Int64("until", until), log.Err(err))
			old := l.wake
			l.wake = make(chan struct{})
			l.commitMu.Unlock()
			close(old)
			return
		}
		l.committed.Store(until)
		advanceMax(&l.safeTail, until)
	}
	old := l.wake
	l.wake = make(chan struct{})
	l.commitMu.Unlock()
	close(old)
}

// restore loads the latest commit blob and reconstructs allocator state.
func (l *Log) restore() error {
	blob, err := l.store.Latest()
	if errors.Is(err, commitstore.ErrNoCommit) {
		l.committed.Store(FirstValidAddress)
		l.safeTail.Store(FirstValidAddress)
		return nil
	}
	if err != nil {
		return fmt.Errorf("flume: read commit metadata: %w", err)
	}
	ri, err := decodeRecoveryInfo(blob)
	if err != nil {
		return err
	}

	pageSize := l.al.PageSize()
	head := ri.FlushedUntil &^ (pageSize - 1)
	if head == 0 {
		head = FirstValidAddress
	}
	if head < ri.Begin {
		head = ri.Begin
	}
	if err := l.al.Restore(ri.Begin, head, ri.FlushedUntil); err != nil {
		return err
	}
	l.committed.Store(ri.FlushedUntil)
	l.safeTail.Store(ri.FlushedUntil)
	for name, addr := range ri.Iterators {
		l.restored[name] = addr
	}
	return nil
}
