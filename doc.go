// Package flume implements a durable, high-throughput append-only log over
// a paged, memory-mapped store.
//
// # Overview
//
// Producers append byte payloads and receive a monotonically increasing
// logical address; consumers scan by address range, optionally tailing
// uncommitted data. Entries up to CommittedUntilAddress survive a crash:
// pages flush to a segmented device in address order, and every advance of
// the flush frontier persists recovery metadata through a commit store
// before waiters are released.
//
// API surface
//
//	l, _ := flume.Open(flume.Options{DataPath: "/data/events"})
//	defer l.Close()
//
//	// Append; the address identifies the record forever.
//	addr, _ := l.Append([]byte("payload"))
//
//	// Durability: flush pages and persist commit metadata.
//	_ = l.FlushAndCommit(ctx)
//
//	// Or append and wait for durability in one call.
//	addr, _ = l.AppendContext(ctx, []byte("payload"))
//
//	// Scan committed records in address order.
//	it, _ := l.Scan(flume.ScanOptions{Begin: 0})
//	for {
//		e, err := it.Next(ctx)
//		if err != nil {
//			break
//		}
//		_ = e.Payload
//	}
//
// Records are stored as a little-endian uint32 length prefix followed by
// the payload, padded to a 4-byte boundary. Appends are lock-free via a CAS
// on the tail; page memory and boundary shifts are protected by the epoch
// primitive in internal/epoch.
//
// Named iterators checkpoint their progress inside commit metadata: create
// one with ScanOptions.Name, call CompleteUntil as records are processed,
// and reopen with Recover to resume after a restart.
package flume
