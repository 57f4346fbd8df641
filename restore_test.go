package flume

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/fortytw2/leaktest"
)

// TestCrashRecovery commits, drops all in-memory state by reopening, and
// verifies the committed frontier, the scannable entries, and that appends
// continue from the restored tail. Entries appended after the last commit
// do not survive.
func TestCrashRecovery(t *testing.T) {
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

	const n = 50
	addrs := make([]int64, n)
	for i := 0; i < n; i++ {
		addr, err := l.Append([]byte(fmt.Sprintf("persisted-%02d", i)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		addrs[i] = addr
	}
	if err := l.FlushAndCommitSpin(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	committed := l.CommittedUntilAddress()

	// These land in page memory only; the "crash" below discards them.
	for i := 0; i < 3; i++ {
		if _, err := l.Append([]byte("uncommitted")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	if got := l2.CommittedUntilAddress(); got != committed {
		t.Fatalf("restored committed %d, want %d", got, committed)
	}
	if got := l2.TailAddress(); got != committed {
		t.Fatalf("restored tail %d, want committed frontier %d", got, committed)
	}

	entries := drainScan(t, l2, 0, n+5)
	if len(entries) != n {
		t.Fatalf("scanned %d entries after recovery, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.Address != addrs[i] {
			t.Fatalf("entry %d at %d, want %d", i, e.Address, addrs[i])
		}
		if want := fmt.Sprintf("persisted-%02d", i); string(e.Payload) != want {
			t.Fatalf("entry %d = %q, want %q", i, e.Payload, want)
		}
	}

	// Appends continue from the restored tail.
	addr, err := l2.Append([]byte("after-recovery"))
	if err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
	if addr < committed {
		t.Fatalf("new append at %d, below restored tail %d", addr, committed)
	}
	if err := l2.FlushAndCommitSpin(); err != nil {
		t.Fatalf("commit after recovery: %v", err)
	}
	all := drainScan(t, l2, 0, n+5)
	if len(all) != n+1 {
		t.Fatalf("scanned %d entries, want %d", len(all), n+1)
	}
	if string(all[n].Payload) != "after-recovery" {
		t.Fatalf("last entry = %q", all[n].Payload)
	}
}

// TestDurabilityAfterWaitForCommit is the durability property: once
// WaitForCommit covers a record, a reopened log yields it at the same
// address.
func TestDurabilityAfterWaitForCommit(t *testing.T) {
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
	payload := []byte("survives-the-crash")
	addr, err := l.Append(payload)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.FlushAndCommitSpin(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.WaitForCommit(context.Background(), addr+recordSize(len(payload))); err != nil {
		t.Fatalf("wait for commit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	entries := drainScan(t, l2, 0, 2)
	if len(entries) != 1 {
		t.Fatalf("scanned %d entries, want 1", len(entries))
	}
	if entries[0].Address != addr || !bytes.Equal(entries[0].Payload, payload) {
		t.Fatalf("recovered entry addr=%d payload=%q, want addr=%d payload=%q",
			entries[0].Address, entries[0].Payload, addr, payload)
	}
}

func TestReopenWithoutCommitStartsFresh(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		DataPath:        filepath.Join(dir, "log"),
		PageSizeBits:    9,
		MemorySizeBits:  12,
		SegmentSizeBits: 14,
	}
	l, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.Append([]byte("never committed")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	if got := l2.TailAddress(); got != FirstValidAddress {
		t.Fatalf("tail %d after reopen with no commit, want %d", got, FirstValidAddress)
	}
}

func TestRecoveryInfoCodec(t *testing.T) {
	ri := recoveryInfo{
		Begin:        1024,
		FlushedUntil: 74321,
		Iterators:    map[string]int64{"cursor": 2048, "audit": 512},
	}
	got, err := decodeRecoveryInfo(ri.encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Begin != ri.Begin || got.FlushedUntil != ri.FlushedUntil {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Iterators) != 2 || got.Iterators["cursor"] != 2048 || got.Iterators["audit"] != 512 {
		t.Fatalf("iterator table mismatch: %+v", got.Iterators)
	}
}

func TestRecoveryInfoCodecRejectsGarbage(t *testing.T) {
	if _, err := decodeRecoveryInfo(nil); err == nil {
		t.Fatalf("expected error for empty blob")
	}
	if _, err := decodeRecoveryInfo(make([]byte, 10)); err == nil {
		t.Fatalf("expected error for truncated blob")
	}
	blob := recoveryInfo{Begin: 64, FlushedUntil: 128}.encode()
	blob[0] = 9 // unknown version
	if _, err := decodeRecoveryInfo(blob); err == nil {
		t.Fatalf("expected error for unknown version")
	}
	blob = recoveryInfo{Begin: 64, FlushedUntil: 128, Iterators: map[string]int64{"x": 64}}.encode()
	if _, err := decodeRecoveryInfo(blob[:len(blob)-4]); err == nil {
		t.Fatalf("expected error for truncated iterator table")
	}
}
