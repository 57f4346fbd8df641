package flume

import (
	"context"
	"encoding/binary"
	"runtime"
	"time"

	"github.com/rzbill/flume/internal/alloc"
)

// AppendOutcome classifies a TryAppend attempt.
type AppendOutcome int

const (
	// AppendDone means the record was reserved and written; the handle
	// carries its address.
	AppendDone AppendOutcome = iota
	// AppendPending means a page turn is stalled on flushing; retry later
	// with the same handle.
	AppendPending
	// AppendRestart means the attempt raced a boundary shift and nothing
	// was reserved; start over with a fresh handle.
	AppendRestart
)

// AppendHandle carries the state of a try-append across attempts. The zero
// value starts a fresh append; after AppendDone, Address reports where the
// record landed.
type AppendHandle struct {
	addr    int64
	pending bool
}

// Address returns the record address after a successful append, or 0.
func (h *AppendHandle) Address() int64 { return h.addr }

// Pending reports whether the handle is waiting on a page turn.
func (h *AppendHandle) Pending() bool { return h.pending }

func align4(n int) int64 { return int64((n + 3) &^ 3) }

// recordSize is the reserved footprint: 4-byte length prefix plus the
// payload padded to a 4-byte boundary.
func recordSize(payloadLen int) int64 { return 4 + align4(payloadLen) }

func (l *Log) checkPayload(payload []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if recordSize(len(payload)) > l.al.PageSize() {
		return ErrTooLarge
	}
	return nil
}

// tryAppendOnce makes a single reservation attempt and, on success, writes
// the record under the epoch guard. The read-only check happens strictly
// before any byte is written; losing that race restarts the append.
func (l *Log) tryAppendOnce(payload []byte) (AppendOutcome, int64) {
	size := recordSize(len(payload))
	g := l.ep.Enter()
	res := l.al.TryAllocate(size)
	if res.Kind == alloc.KindPending {
		g.Exit()
		return AppendPending, 0
	}
	addr := res.Address
	if addr < l.al.ReadOnlyAddress() {
		g.Exit()
		return AppendRestart, 0
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	l.al.WriteResident(addr, hdr[:])
	l.al.WriteResident(addr+4, payload)
	g.Exit()
	return AppendDone, addr
}

// Append writes payload and returns its address, spinning cooperatively
// under backpressure until the reservation succeeds. It does not wait for
// durability; pair with WaitForCommit or use AppendContext.
func (l *Log) Append(payload []byte) (int64, error) {
	if err := l.checkPayload(payload); err != nil {
		return 0, err
	}
	for {
		outcome, addr := l.tryAppendOnce(payload)
		if outcome == AppendDone {
			return addr, nil
		}
		if l.closed.Load() {
			return 0, ErrClosed
		}
		if err := l.deviceError(); err != nil {
			return 0, err
		}
		// Let deferred boundary shifts and flushes progress.
		l.ep.Drain()
		runtime.Gosched()
	}
}

// TryAppend makes one append attempt without blocking. A fresh attempt uses
// a zero-valued handle; AppendPending hands the same handle back for the
// retry, and AppendRestart resets it.
func (l *Log) TryAppend(payload []byte, h *AppendHandle) (AppendOutcome, error) {
	if err := l.checkPayload(payload); err != nil {
		return AppendRestart, err
	}
	outcome, addr := l.tryAppendOnce(payload)
	switch outcome {
	case AppendDone:
		h.addr = addr
		h.pending = false
	case AppendPending:
		h.pending = true
		l.ep.Drain()
	case AppendRestart:
		*h = AppendHandle{}
	}
	return outcome, nil
}

// AppendToMemory appends and returns as soon as the record is in page
// memory, awaiting only allocation backpressure.
func (l *Log) AppendToMemory(ctx context.Context, payload []byte) (int64, error) {
	if err := l.checkPayload(payload); err != nil {
		return 0, err
	}
	for {
		outcome, addr := l.tryAppendOnce(payload)
		if outcome == AppendDone {
			return addr, nil
		}
		if err := l.awaitWake(ctx); err != nil {
			return 0, err
		}
	}
}

// AppendContext appends, requests a flush of the tail, and waits until the
// record is committed. The returned address is durable when the call
// succeeds. Cancelling after the reservation does not unappend: the record
// remains in the log and becomes durable as normal.
func (l *Log) AppendContext(ctx context.Context, payload []byte) (int64, error) {
	addr, err := l.AppendToMemory(ctx, payload)
	if err != nil {
		return 0, err
	}
	l.al.ShiftReadOnlyToTail()
	l.ep.Drain()
	if err := l.WaitForCommit(ctx, addr+recordSize(len(payload))); err != nil {
		return addr, err
	}
	return addr, nil
}

// awaitWake parks until the next commit/refresh broadcast, driving the
// epoch once so deferred shifts are not left waiting on this caller. The
// park is bounded: a drained boundary shift can unblock allocation without
// producing a broadcast.
func (l *Log) awaitWake(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.deviceError(); err != nil {
		return err
	}
	l.commitMu.Lock()
	ch := l.wake
	l.commitMu.Unlock()
	l.ep.Drain()
	t := time.NewTimer(5 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
