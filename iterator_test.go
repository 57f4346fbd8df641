package flume

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/fortytw2/leaktest"
)

// TestNamedIteratorRecovery appends entries, processes half through a named
// iterator, commits its checkpoint, and resumes it in a fresh log instance.
func TestNamedIteratorRecovery(t *testing.T) {
	defer leaktest.Check(t)()
	dir := t.TempDir()
	opts := Options{
		DataPath:        filepath.Join(dir, "log"),
		PageSizeBits:    9,
		MemorySizeBits:  12,
		SegmentSizeBits: 14,
		MutableFraction: 0.5,
	}
	l, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := l.Append([]byte(fmt.Sprintf("entry-%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.FlushAndCommitSpin(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	it, err := l.Scan(ScanOptions{Name: "cursor"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	ctx := context.Background()
	var next int64
	for i := 0; i < 5; i++ {
		e, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if string(e.Payload) != fmt.Sprintf("entry-%d", i) {
			t.Fatalf("entry %d = %q", i, e.Payload)
		}
		next = e.NextAddress
	}
	it.CompleteUntil(next)
	if err := l.FlushAndCommit(ctx); err != nil {
		t.Fatalf("checkpoint commit: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("iterator close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	it2, err := l2.Scan(ScanOptions{Name: "cursor", Recover: true})
	if err != nil {
		t.Fatalf("recover scan: %v", err)
	}
	defer it2.Close()
	e, err := it2.Next(ctx)
	if err != nil {
		t.Fatalf("next after recover: %v", err)
	}
	if string(e.Payload) != "entry-5" {
		t.Fatalf("recovered cursor yielded %q, want entry-5", e.Payload)
	}
}

// TestUncommittedTail scans records published with RefreshUncommitted
// before any commit has happened.
func TestUncommittedTail(t *testing.T) {
	defer leaktest.Check(t)()
	l := newTestLog(t, nil) // 512 B pages
	defer l.Close()

	for i := 0; i < 10; i++ {
		if _, err := l.Append([]byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
		l.RefreshUncommitted()
	}
	if c := l.CommittedUntilAddress(); c != FirstValidAddress {
		t.Fatalf("committed %d before any commit", c)
	}

	it, err := l.Scan(ScanOptions{ScanUncommitted: true, End: l.TailAddress()})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer it.Close()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		e, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if string(e.Payload) != fmt.Sprintf("%d", i) {
			t.Fatalf("entry %d = %q", i, e.Payload)
		}
	}
	if _, err := it.Next(ctx); !errors.Is(err, ErrIteratorDone) {
		t.Fatalf("expected ErrIteratorDone past the published tail, got %v", err)
	}
}

// TestTruncationThenScan truncates at the fifth entry and verifies the scan
// starts there.
func TestTruncationThenScan(t *testing.T) {
	defer leaktest.Check(t)()
	l := newTestLog(t, nil)
	defer l.Close()

	const n = 50
	addrs := make([]int64, n)
	for i := 0; i < n; i++ {
		addr, err := l.Append([]byte(fmt.Sprintf("record-%02d", i)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		addrs[i] = addr
	}
	if err := l.FlushAndCommitSpin(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := l.TruncateUntil(addrs[5]); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if got := l.BeginAddress(); got != addrs[5] {
		t.Fatalf("begin %d, want %d", got, addrs[5])
	}

	entries := drainScan(t, l, 0, n)
	if len(entries) != n-5 {
		t.Fatalf("scanned %d entries, want %d", len(entries), n-5)
	}
	if entries[0].Address != addrs[5] {
		t.Fatalf("first entry at %d, want %d", entries[0].Address, addrs[5])
	}
	for i, e := range entries {
		if want := fmt.Sprintf("record-%02d", i+5); string(e.Payload) != want {
			t.Fatalf("entry %d = %q, want %q", i, e.Payload, want)
		}
	}
}

// TestScanBelowHeadUsesDevice forces eviction and scans the whole log so
// early records come from segment files rather than the ring.
func TestScanBelowHeadUsesDevice(t *testing.T) {
	for _, mode := range []BufferingMode{NoBuffering, SinglePage, DoublePage} {
		mode := mode
		t.Run(fmt.Sprintf("mode-%d", mode), func(t *testing.T) {
			l := newTestLog(t, func(o *Options) {
				o.MemorySizeBits = 11 // 4-page ring forces eviction
			})
			const n = 300
			addrs := make([]int64, n)
			for i := 0; i < n; i++ {
				addr, err := l.Append([]byte(fmt.Sprintf("payload-%03d", i)))
				if err != nil {
					t.Fatalf("append: %v", err)
				}
				addrs[i] = addr
			}
			if err := l.FlushAndCommitSpin(); err != nil {
				t.Fatalf("commit: %v", err)
			}
			if l.HeadAddress() == FirstValidAddress {
				t.Fatalf("head never advanced; test is not exercising device reads")
			}

			it, err := l.Scan(ScanOptions{End: l.TailAddress(), Buffering: mode})
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			defer it.Close()
			ctx := context.Background()
			for i := 0; i < n; i++ {
				e, err := it.Next(ctx)
				if err != nil {
					t.Fatalf("next %d: %v", i, err)
				}
				if e.Address != addrs[i] {
					t.Fatalf("entry %d at %d, want %d", i, e.Address, addrs[i])
				}
				if want := fmt.Sprintf("payload-%03d", i); string(e.Payload) != want {
					t.Fatalf("entry %d = %q, want %q", i, e.Payload, want)
				}
			}
		})
	}
}

func TestScanDuplicateNameRejected(t *testing.T) {
	l := newTestLog(t, nil)
	it, err := l.Scan(ScanOptions{Name: "dup"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer it.Close()
	if _, err := l.Scan(ScanOptions{Name: "dup"}); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}
}

func TestGetMemoryHook(t *testing.T) {
	var handed int
	l := newTestLog(t, func(o *Options) {
		o.GetMemory = func(n int) []byte {
			handed++
			return make([]byte, n+16)
		}
	})
	if _, err := l.Append([]byte("hooked")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.FlushAndCommitSpin(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	entries := drainScan(t, l, 0, 2)
	if len(entries) != 1 || string(entries[0].Payload) != "hooked" {
		t.Fatalf("unexpected scan result: %+v", entries)
	}
	if handed == 0 {
		t.Fatalf("GetMemory hook never used")
	}
}
