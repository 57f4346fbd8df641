package flume

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
)

// BufferingMode controls how many page frames an iterator keeps for reads
// below HeadAddress.
type BufferingMode int

const (
	// NoBuffering issues a device read per record.
	NoBuffering BufferingMode = iota
	// SinglePage keeps one page frame and refills it on page change.
	SinglePage
	// DoublePage keeps two page frames, useful when records interleave
	// across a page boundary crossing.
	DoublePage
)

// ScanOptions configures an iterator.
type ScanOptions struct {
	// Begin is the first address considered; it is raised to BeginAddress
	// and FirstValidAddress as needed.
	Begin int64
	// End bounds the scan exclusively; 0 means unbounded.
	End int64
	// Buffering selects the sub-head read strategy.
	Buffering BufferingMode
	// ScanUncommitted lifts the ceiling from CommittedUntilAddress to the
	// published tail (see RefreshUncommitted).
	ScanUncommitted bool
	// Name registers a persistent cursor: its CompleteUntil address is
	// checkpointed inside commit metadata on every commit.
	Name string
	// Recover starts a named iterator from its checkpointed address.
	Recover bool
}

// Entry is one scanned record.
type Entry struct {
	Payload     []byte
	Length      int
	Address     int64
	NextAddress int64
}

// Iterator is a forward-only positional cursor. It is not safe for
// concurrent use; open one per consumer.
type Iterator struct {
	l           *Log
	addr        int64
	end         int64
	uncommitted bool
	name        string

	completedUntil atomic.Int64

	frames     [][]byte
	framePages []int64
	frameNext  int

	closed bool
}

// Scan opens an iterator over [Begin, End).
func (l *Log) Scan(opts ScanOptions) (*Iterator, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	begin := opts.Begin
	if begin < FirstValidAddress {
		begin = FirstValidAddress
	}
	end := opts.End
	if end <= 0 {
		end = math.MaxInt64
	}

	it := &Iterator{
		l:           l,
		end:         end,
		uncommitted: opts.ScanUncommitted,
		name:        opts.Name,
	}

	nframes := 0
	switch opts.Buffering {
	case SinglePage:
		nframes = 1
	case DoublePage:
		nframes = 2
	}
	if nframes > 0 {
		it.frames = make([][]byte, nframes)
		it.framePages = make([]int64, nframes)
		for i := range it.frames {
			it.frames[i] = make([]byte, l.al.PageSize())
			it.framePages[i] = -1
		}
	}

	if opts.Name != "" {
		l.itMu.Lock()
		if _, dup := l.named[opts.Name]; dup {
			l.itMu.Unlock()
			return nil, fmt.Errorf("flume: iterator %q already open", opts.Name)
		}
		if opts.Recover {
			if v, ok := l.restored[opts.Name]; ok && v > begin {
				begin = v
			}
		}
		it.addr = begin
		it.completedUntil.Store(begin)
		l.named[opts.Name] = it
		l.itMu.Unlock()
		return it, nil
	}

	it.addr = begin
	it.completedUntil.Store(begin)
	return it, nil
}

// ceiling is the exclusive bound records may be yielded under right now.
func (it *Iterator) ceiling() int64 {
	var c int64
	if it.uncommitted {
		c = it.l.safeTail.Load()
	} else {
		c = it.l.committed.Load()
	}
	if c > it.end {
		c = it.end
	}
	return c
}

// Next yields the next record. It blocks while the cursor has caught up
// with the ceiling and more data may still arrive; it returns
// ErrIteratorDone once the end bound is reached.
func (it *Iterator) Next(ctx context.Context) (Entry, error) {
	if it.closed {
		return Entry{}, ErrIteratorDone
	}
	l := it.l
	pageSize := l.al.PageSize()
	for {
		a := it.addr
		if a >= it.end {
			return Entry{}, ErrIteratorDone
		}
		if b := l.BeginAddress(); a < b {
			it.addr = b
			continue
		}
		c := it.ceiling()
		if a >= c {
			if c >= it.end {
				return Entry{}, ErrIteratorDone
			}
			if l.closed.Load() && a >= it.ceiling() {
				return Entry{}, ErrClosed
			}
			if err := l.awaitWake(ctx); err != nil {
				return Entry{}, err
			}
			continue
		}

		// A record never straddles a page; too little room or a zero
		// length prefix marks the sealed gap before the next page.
		rem := pageSize - (a & (pageSize - 1))
		if rem < 8 {
			it.addr = a + rem
			continue
		}
		var hdr [4]byte
		if err := it.readBytes(a, hdr[:]); err != nil {
			return Entry{}, err
		}
		length := int(binary.LittleEndian.Uint32(hdr[:]))
		if length == 0 {
			it.addr = a + rem
			continue
		}
		total := recordSize(length)
		if total > rem {
			return Entry{}, fmt.Errorf("flume: corrupt record at %d: length %d exceeds page remainder", a, length)
		}

		buf := l.getMemory(length)
		if err := it.readBytes(a+4, buf[:length]); err != nil {
			return Entry{}, err
		}
		it.addr = a + total
		return Entry{Payload: buf[:length], Length: length, Address: a, NextAddress: a + total}, nil
	}
}

// readBytes copies [addr, addr+len(dst)) out of page memory when resident,
// else from the device through the configured buffering.
func (it *Iterator) readBytes(addr int64, dst []byte) error {
	l := it.l
	g := l.ep.Enter()
	if l.al.Resident(addr) {
		l.al.ReadResident(addr, dst)
		g.Exit()
		return nil
	}
	g.Exit()

	if len(it.frames) == 0 {
		if err := l.dev.ReadAt(dst, addr); err != nil {
			return fmt.Errorf("flume: read at %d: %w", addr, err)
		}
		return nil
	}

	page := addr >> l.opts.PageSizeBits
	frame, err := it.frame(page)
	if err != nil {
		return err
	}
	off := addr & (l.al.PageSize() - 1)
	copy(dst, frame[off:])
	return nil
}

// frame returns a buffer holding the full page, refilling one of the
// iterator's frames on miss.
func (it *Iterator) frame(page int64) ([]byte, error) {
	for i, p := range it.framePages {
		if p == page {
			return it.frames[i], nil
		}
	}
	i := it.frameNext
	it.frameNext = (it.frameNext + 1) % len(it.frames)
	start := page << it.l.opts.PageSizeBits
	if err := it.l.dev.ReadAt(it.frames[i], start); err != nil {
		it.framePages[i] = -1
		return nil, fmt.Errorf("flume: read page %d: %w", page, err)
	}
	it.framePages[i] = page
	return it.frames[i], nil
}

// CompleteUntil records that everything below addr has been processed. For
// named iterators the checkpoint rides along with the next commit.
func (it *Iterator) CompleteUntil(addr int64) {
	advanceMax(&it.completedUntil, addr)
}

// CompletedUntil returns the current checkpoint.
func (it *Iterator) CompletedUntil() int64 { return it.completedUntil.Load() }

// Close releases the iterator. A named iterator's checkpoint is retained
// and keeps riding along with future commits.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.name != "" {
		l := it.l
		l.itMu.Lock()
		if l.named[it.name] == it {
			delete(l.named, it.name)
			l.restored[it.name] = it.completedUntil.Load()
		}
		l.itMu.Unlock()
	}
	return nil
}

func (l *Log) getMemory(n int) []byte {
	if l.opts.GetMemory != nil {
		if b := l.opts.GetMemory(n); len(b) >= n {
			return b
		}
	}
	return make([]byte, n)
}
