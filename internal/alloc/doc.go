// Package alloc implements the paged allocator at the heart of the log: a
// fixed ring of in-memory pages over which monotonic logical addresses are
// handed out, plus the flush pipeline that moves sealed regions to the
// device.
//
// # Address space
//
// A logical address is a 64-bit offset into the log. Bits split into
// (page, offset) by PageSizeBits; the ring holds 2^(MemorySizeBits-PageSizeBits)
// pages and page p lives in slot p mod ringSize. Address 0 is reserved; the
// first record lands at FirstValidAddress.
//
// # Regions
//
// Five monotonic boundary addresses partition the log:
//
//	begin ≤ head ≤ flushedUntil ≤ safeReadOnly ≤ readOnly ≤ tail
//
// [head, tail) is resident in the ring. [readOnly, tail) is mutable.
// [safeReadOnly, readOnly) has been marked read-only but may still have
// in-flight writers inside the epoch; flushes are issued only for drained
// regions, so flushedUntil never passes safeReadOnly. Addresses below head
// are evicted and served from the device; below begin they are truncated.
//
// # Tail word and page turns
//
// The tail is one atomic word packing (page, offset). Reservations add
// their size to the offset; a result that lands within the page is a
// successful reservation. A result that crosses the page end leaves the
// word inflated, which parks all allocators in the Pending state until a
// turn installs (page+1, 0). Turns are serialized by a mutex (they happen
// once per page) and only proceed when the destination ring slot has been
// flushed and closed through the epoch; otherwise the turner requests the
// boundary shifts that will free it and reports Pending.
//
// The bytes between the last reservation and the page end are never
// written; pages are zeroed before reuse, so scanners detect the gap by a
// zero length prefix and skip to the next page.
package alloc
