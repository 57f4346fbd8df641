// Package device defines the block-device contract the log flushes to and
// reads from, plus the two bundled implementations.
//
// A Device is addressed by the log's own logical addresses. The on-disk
// layout is segmented: logical address space is cut into fixed power-of-two
// segments and each segment lives in its own file named "<base>.<n>".
// FileDevice memory-maps segment files and syncs them with msync, so flushes
// are plain memory copies followed by one Sync per flush batch. MemDevice
// keeps segments in process memory and backs tests and benchmarks.
//
// Devices are safe for concurrent use. Writes for a given address range are
// issued by a single flusher, so implementations only need to make segment
// creation and teardown safe against concurrent readers.
package device
