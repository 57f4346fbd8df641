package flume

import (
	"context"
	"runtime"
	"time"
)

// WaitForCommit blocks until CommittedUntilAddress reaches until. until==0
// means the tail captured at call time. Waiters woken by the same commit
// all observe the same committed frontier.
func (l *Log) WaitForCommit(ctx context.Context, until int64) error {
	if until == 0 {
		until = l.al.TailAddress()
	}
	for {
		if l.committed.Load() >= until {
			return nil
		}
		l.commitMu.Lock()
		ch := l.wake
		err := l.commitErr
		l.commitMu.Unlock()
		if err != nil {
			return err
		}
		if ferr := l.deviceError(); ferr != nil {
			return ferr
		}
		if l.committed.Load() >= until {
			return nil
		}
		if l.closed.Load() {
			return ErrClosed
		}
		l.ep.Drain()
		// Bounded park: a commit broadcast is the normal wake-up, but a
		// deferred flush can be unblocked by this caller's own drain.
		t := time.NewTimer(10 * time.Millisecond)
		select {
		case <-ch:
			t.Stop()
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// FlushAndCommit marks everything below the current tail read-only,
// schedules its flush, and waits until the captured tail is committed.
// Calling it again with no intervening appends leaves CommittedUntilAddress
// unchanged and only re-persists the current commit metadata.
func (l *Log) FlushAndCommit(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	target := l.al.ShiftReadOnlyToTail()
	l.ep.Drain()
	if target <= l.committed.Load() {
		// Nothing new to flush; re-persist so boundary and iterator
		// checkpoints taken since the last commit still land.
		return l.persistCommit()
	}
	return l.WaitForCommit(ctx, target)
}

// FlushAndCommitSpin is the spin-wait variant: it drives the epoch and
// yields until the captured tail is committed, with no timeout.
func (l *Log) FlushAndCommitSpin() error {
	if l.closed.Load() {
		return ErrClosed
	}
	target := l.al.ShiftReadOnlyToTail()
	if target <= l.committed.Load() {
		return l.persistCommit()
	}
	for l.committed.Load() < target {
		l.commitMu.Lock()
		err := l.commitErr
		l.commitMu.Unlock()
		if err != nil {
			return err
		}
		if ferr := l.deviceError(); ferr != nil {
			return ferr
		}
		if l.closed.Load() {
			return ErrClosed
		}
		l.ep.Drain()
		runtime.Gosched()
	}
	return nil
}

// snapshotIterators merges recovered checkpoints with live named
// iterators. Called with commitMu held.
func (l *Log) snapshotIterators() map[string]int64 {
	l.itMu.Lock()
	defer l.itMu.Unlock()
	if len(l.restored) == 0 && len(l.named) == 0 {
		return nil
	}
	out := make(map[string]int64, len(l.restored)+len(l.named))
	for name, addr := range l.restored {
		out[name] = addr
	}
	for name, it := range l.named {
		out[name] = it.completedUntil.Load()
	}
	return out
}
