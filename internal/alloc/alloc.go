package alloc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rzbill/flume/internal/device"
	"github.com/rzbill/flume/internal/epoch"
	"github.com/rzbill/flume/pkg/log"
)

// FirstValidAddress is where the first record lands. Address 0 is reserved
// so it can mean "unset" in handles and recovery metadata.
const FirstValidAddress = 64

// Kind classifies the outcome of a reservation attempt.
type Kind int

const (
	// KindReady means the reservation succeeded; Address is usable.
	KindReady Kind = iota
	// KindPending means a page turn is in progress or stalled on memory
	// pressure; retry once flushing frees the destination slot.
	KindPending
)

// Result is the outcome of TryAllocate.
type Result struct {
	Kind    Kind
	Address int64
}

// Options configures an Allocator.
type Options struct {
	PageSizeBits    uint
	MemorySizeBits  uint
	SegmentSizeBits uint
	MutableFraction float64
	Device          device.Device
	Epoch           *epoch.Protector
	Logger          log.Logger
	// OnFlushed is invoked from the flusher, in address order, after
	// FlushedUntilAddress has advanced to until.
	OnFlushed func(until int64)
}

type flushRange struct {
	from, to int64
}

// Allocator owns the page ring and every boundary address.
type Allocator struct {
	opts     Options
	pageBits uint
	pageSize int64
	memSize  int64
	segSize  int64
	ringSize int64
	mutable  int64

	pages [][]byte

	// tail packs (page, offset) into one word: page in the high 32 bits,
	// offset in the low 32. Reservations add to the offset; an offset at or
	// beyond pageSize marks the page sealed and parks allocation until a
	// turn installs (page+1, 0).
	tail atomic.Int64

	begin        atomic.Int64
	head         atomic.Int64
	readOnly     atomic.Int64
	safeReadOnly atomic.Int64
	flushedUntil atomic.Int64
	// closedUntil is the address below which ring slots have been reclaimed
	// through the epoch and may be reused.
	closedUntil atomic.Int64

	turnMu sync.Mutex

	flushMu        sync.Mutex
	flushRequested int64
	flushClosed    bool
	flushCh        chan flushRange

	errMu    sync.Mutex
	flushErr error

	wg sync.WaitGroup
}

// New builds an allocator in the fresh state (everything at
// FirstValidAddress) and starts its flusher. Call Restore before the first
// reservation to adopt persisted state instead.
func New(opts Options) (*Allocator, error) {
	if opts.PageSizeBits < 9 || opts.PageSizeBits > 28 {
		return nil, fmt.Errorf("alloc: PageSizeBits %d out of range [9,28]", opts.PageSizeBits)
	}
	if opts.MemorySizeBits <= opts.PageSizeBits {
		return nil, fmt.Errorf("alloc: MemorySizeBits %d must exceed PageSizeBits %d", opts.MemorySizeBits, opts.PageSizeBits)
	}
	if opts.SegmentSizeBits < opts.PageSizeBits {
		return nil, fmt.Errorf("alloc: SegmentSizeBits %d must be at least PageSizeBits %d", opts.SegmentSizeBits, opts.PageSizeBits)
	}
	if opts.MutableFraction <= 0 || opts.MutableFraction > 1 {
		return nil, fmt.Errorf("alloc: MutableFraction %v out of range (0,1]", opts.MutableFraction)
	}
	if opts.Device == nil || opts.Epoch == nil {
		return nil, fmt.Errorf("alloc: Device and Epoch are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}

	a := &Allocator{
		opts:     opts,
		pageBits: opts.PageSizeBits,
		pageSize: int64(1) << opts.PageSizeBits,
		memSize:  int64(1) << opts.MemorySizeBits,
		segSize:  int64(1) << opts.SegmentSizeBits,
		flushCh:  make(chan flushRange, 4096),
	}
	a.ringSize = a.memSize >> a.pageBits
	a.mutable = int64(float64(a.memSize)*opts.MutableFraction) &^ (a.pageSize - 1)
	if a.mutable < a.pageSize {
		a.mutable = a.pageSize
	}
	a.pages = make([][]byte, a.ringSize)

	a.begin.Store(FirstValidAddress)
	a.head.Store(FirstValidAddress)
	a.readOnly.Store(FirstValidAddress)
	a.safeReadOnly.Store(FirstValidAddress)
	a.flushedUntil.Store(FirstValidAddress)
	a.closedUntil.Store(FirstValidAddress)
	a.flushRequested = FirstValidAddress
	a.tail.Store(pack(0, FirstValidAddress))
	a.pages[0] = make([]byte, a.pageSize)

	a.wg.Add(1)
	go a.flusher()
	return a, nil
}

// Close stops the flusher. Pending flush ranges already enqueued are
// written; nothing new is accepted.
func (a *Allocator) Close() error {
	a.flushMu.Lock()
	if !a.flushClosed {
		a.flushClosed = true
		close(a.flushCh)
	}
	a.flushMu.Unlock()
	a.wg.Wait()
	return a.FlushError()
}

func pack(page, off int64) int64 { return page<<32 | off }
func wordPage(w int64) int64     { return w >> 32 }
func wordOff(w int64) int64      { return w & 0xFFFFFFFF }

func (a *Allocator) pageStart(page int64) int64 { return page << a.pageBits }
func (a *Allocator) pageOf(addr int64) int64    { return addr >> a.pageBits }
func (a *Allocator) pageAlign(addr int64) int64 { return addr &^ (a.pageSize - 1) }
func (a *Allocator) slotOf(page int64) int64    { return page & (a.ringSize - 1) }

// PageSize returns the configured page size in bytes.
func (a *Allocator) PageSize() int64 { return a.pageSize }

// BeginAddress returns the truncation boundary.
func (a *Allocator) BeginAddress() int64 { return a.begin.Load() }

// HeadAddress returns the eviction boundary; addresses below it resolve
// only through the device.
func (a *Allocator) HeadAddress() int64 { return a.head.Load() }

// ReadOnlyAddress returns the mutable boundary; writes are legal only at or
// above it.
func (a *Allocator) ReadOnlyAddress() int64 { return a.readOnly.Load() }

// SafeReadOnlyAddress returns the drained read-only boundary; every writer
// below it has left the epoch.
func (a *Allocator) SafeReadOnlyAddress() int64 { return a.safeReadOnly.Load() }

// FlushedUntilAddress returns the contiguous flush frontier.
func (a *Allocator) FlushedUntilAddress() int64 { return a.flushedUntil.Load() }

// TailAddress returns the next address to be reserved.
func (a *Allocator) TailAddress() int64 {
	w := a.tail.Load()
	off := wordOff(w)
	if off > a.pageSize {
		off = a.pageSize
	}
	return a.pageStart(wordPage(w)) + off
}

// FlushError reports the sticky device failure, if any. Once set,
// FlushedUntilAddress is frozen.
func (a *Allocator) FlushError() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.flushErr
}

func (a *Allocator) setFlushError(err error) {
	a.errMu.Lock()
	if a.flushErr == nil {
		a.flushErr = err
	}
	a.errMu.Unlock()
}

// TryAllocate reserves size bytes at the tail. The caller must hold an
// epoch guard. size must not exceed the page size.
func (a *Allocator) TryAllocate(size int64) Result {
	for attempt := 0; attempt < 3; attempt++ {
		w := a.tail.Load()
		if wordOff(w) >= a.pageSize {
			if !a.tryTurn(w) {
				return Result{Kind: KindPending}
			}
			continue
		}

		w = a.tail.Add(size)
		page, end := wordPage(w), wordOff(w)
		start := end - size
		switch {
		case end <= a.pageSize:
			return Result{Kind: KindReady, Address: a.pageStart(page) + start}
		case start <= a.pageSize:
			// This reservation sealed the page; it owns the turn, but any
			// later caller can complete it if this one goes away.
			if a.tryTurn(w) {
				continue
			}
			return Result{Kind: KindPending}
		default:
			return Result{Kind: KindPending}
		}
	}
	return Result{Kind: KindPending}
}

// tryTurn advances the tail from a sealed page to the next one. Returns
// true when the tail no longer points at the sealed page.
func (a *Allocator) tryTurn(w int64) bool {
	page := wordPage(w)
	next := page + 1

	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	cur := a.tail.Load()
	if wordPage(cur) != page {
		return true
	}
	if !a.slotUsable(next) {
		a.makeRoom(next)
		return false
	}
	a.preparePage(next)
	// Adds racing this store observe either the sealed word (and park) or
	// the fresh page; a lost add belongs to a parked caller that retries.
	a.tail.Store(pack(next, 0))
	a.balance(next + 1)
	return true
}

// slotUsable reports whether the ring slot for page can be written: its
// previous occupant must be flushed and closed through the epoch.
func (a *Allocator) slotUsable(page int64) bool {
	needClosed := a.pageStart(page+1) - a.memSize
	if needClosed <= FirstValidAddress {
		return true
	}
	return a.closedUntil.Load() >= needClosed
}

func (a *Allocator) preparePage(page int64) {
	slot := a.slotOf(page)
	if a.pages[slot] == nil {
		a.pages[slot] = make([]byte, a.pageSize)
		return
	}
	clear(a.pages[slot])
}

// makeRoom drives the shifts that will free the ring slot for page: mark
// its predecessor's range read-only so it flushes, then evict up to the
// flushed frontier.
func (a *Allocator) makeRoom(page int64) {
	needClosed := a.pageStart(page+1) - a.memSize
	if needClosed <= FirstValidAddress {
		return
	}
	a.ShiftReadOnly(needClosed)
	target := needClosed
	if limit := a.pageAlign(a.flushedUntil.Load()); target > limit {
		target = limit
	}
	a.advanceHead(target)
}

// balance requests the boundary shifts implied by the tail reaching
// tailPage: keep at most mutable bytes writable and the resident span
// within the ring.
func (a *Allocator) balance(tailPage int64) {
	if ro := a.pageStart(tailPage) - a.mutable; ro > a.readOnly.Load() {
		a.ShiftReadOnly(ro)
	}
	a.tryShiftHead()
}

// ShiftReadOnly advances the mutable boundary to target and, once the
// epoch drains, marks the region safe and schedules its flush.
func (a *Allocator) ShiftReadOnly(target int64) {
	if target > a.TailAddress() {
		target = a.TailAddress()
	}
	for {
		cur := a.readOnly.Load()
		if target <= cur {
			return
		}
		if a.readOnly.CompareAndSwap(cur, target) {
			break
		}
	}
	a.opts.Epoch.BumpWith(func() { a.markSafeReadOnly(target) })
}

// ShiftReadOnlyToTail captures the tail, marks everything below it
// read-only, and returns the captured address.
func (a *Allocator) ShiftReadOnlyToTail() int64 {
	t := a.TailAddress()
	a.ShiftReadOnly(t)
	return t
}

func (a *Allocator) markSafeReadOnly(target int64) {
	for {
		cur := a.safeReadOnly.Load()
		if target <= cur {
			break
		}
		if a.safeReadOnly.CompareAndSwap(cur, target) {
			break
		}
	}
	a.enqueueFlush(target)
}

func (a *Allocator) enqueueFlush(target int64) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	if a.flushClosed || target <= a.flushRequested {
		return
	}
	r := flushRange{from: a.flushRequested, to: target}
	a.flushRequested = target
	a.flushCh <- r
}

// ShiftBegin advances the truncation boundary. Device segments wholly below
// the new boundary are released once the epoch drains.
func (a *Allocator) ShiftBegin(until int64) {
	for {
		cur := a.begin.Load()
		if until <= cur {
			return
		}
		if a.begin.CompareAndSwap(cur, until) {
			break
		}
	}
	a.advanceHead(until)
	a.opts.Epoch.BumpWith(func() {
		if err := a.opts.Device.TruncateUntil(until &^ (a.segSize - 1)); err != nil {
			a.opts.Logger.Error("device truncate failed", log.Int64("until", until), log.Err(err))
		}
	})
}

// tryShiftHead evicts flushed pages when the resident span presses against
// the ring capacity.
func (a *Allocator) tryShiftHead() {
	tailPage := wordPage(a.tail.Load())
	target := a.pageStart(tailPage+1) - a.memSize
	if target <= a.head.Load() {
		return
	}
	limit := a.pageAlign(a.flushedUntil.Load())
	if target > limit {
		target = limit
	}
	a.advanceHead(target)
}

func (a *Allocator) advanceHead(target int64) {
	advanced := false
	for {
		cur := a.head.Load()
		if target <= cur {
			break
		}
		if a.head.CompareAndSwap(cur, target) {
			advanced = true
			break
		}
	}
	if !advanced {
		return
	}
	a.opts.Epoch.BumpWith(func() {
		for {
			cur := a.closedUntil.Load()
			if target <= cur {
				return
			}
			if a.closedUntil.CompareAndSwap(cur, target) {
				return
			}
		}
	})
}

// Resident reports whether addr is backed by ring memory. Callers must
// re-check under an epoch guard before touching page bytes.
func (a *Allocator) Resident(addr int64) bool {
	return addr >= a.head.Load()
}

// WriteResident copies data into page memory at addr. The caller holds an
// epoch guard and owns [addr, addr+len) via a reservation; the range never
// crosses a page boundary.
func (a *Allocator) WriteResident(addr int64, data []byte) {
	slot := a.slotOf(a.pageOf(addr))
	off := addr & (a.pageSize - 1)
	copy(a.pages[slot][off:], data)
}

// ReadResident copies page memory at addr into p. The caller holds an epoch
// guard and has checked Resident(addr); the range never crosses a page
// boundary.
func (a *Allocator) ReadResident(addr int64, p []byte) {
	slot := a.slotOf(a.pageOf(addr))
	off := addr & (a.pageSize - 1)
	copy(p, a.pages[slot][off:])
}

// Restore adopts persisted boundaries during open and reloads the resident
// region [head, flushedUntil) from the device. Must run before the first
// reservation.
func (a *Allocator) Restore(begin, head, flushedUntil int64) error {
	a.begin.Store(begin)
	a.head.Store(head)
	a.readOnly.Store(flushedUntil)
	a.safeReadOnly.Store(flushedUntil)
	a.flushedUntil.Store(flushedUntil)
	a.closedUntil.Store(head)

	a.flushMu.Lock()
	a.flushRequested = flushedUntil
	a.flushMu.Unlock()

	headPage := a.pageOf(head)
	tailPage := a.pageOf(flushedUntil)
	a.tail.Store(pack(tailPage, flushedUntil-a.pageStart(tailPage)))

	for p := headPage; p <= tailPage; p++ {
		slot := a.slotOf(p)
		if a.pages[slot] == nil {
			a.pages[slot] = make([]byte, a.pageSize)
		} else {
			clear(a.pages[slot])
		}
	}

	if flushedUntil > head {
		for p := headPage; p <= tailPage; p++ {
			from := a.pageStart(p)
			to := from + a.pageSize
			if from < head {
				from = head
			}
			if to > flushedUntil {
				to = flushedUntil
			}
			if from >= to {
				continue
			}
			off := from & (a.pageSize - 1)
			slot := a.slotOf(p)
			if err := a.opts.Device.ReadAt(a.pages[slot][off:off+(to-from)], from); err != nil {
				return fmt.Errorf("alloc: restore resident pages: %w", err)
			}
		}
	}
	return nil
}
