package alloc

import (
	"github.com/rzbill/flume/pkg/log"
)

// flusher drains flush ranges in address order. Ranges are enqueued with
// contiguous bounds, so storing r.to after each completed write keeps
// FlushedUntilAddress advancing contiguously. After a device failure the
// frontier freezes; later ranges are consumed but never written, since a
// hole must not be committed over.
func (a *Allocator) flusher() {
	defer a.wg.Done()
	for r := range a.flushCh {
		if a.FlushError() != nil {
			continue
		}
		if err := a.writeRange(r); err != nil {
			a.setFlushError(err)
			a.opts.Logger.Error("page flush failed",
				log.Component("flusher"), log.Int64("from", r.from), log.Int64("to", r.to), log.Err(err))
			continue
		}
		if err := a.opts.Device.Sync(); err != nil {
			a.setFlushError(err)
			a.opts.Logger.Error("device sync failed", log.Component("flusher"), log.Err(err))
			continue
		}
		a.flushedUntil.Store(r.to)
		if a.opts.OnFlushed != nil {
			a.opts.OnFlushed(r.to)
		}
		a.tryShiftHead()
	}
}

func (a *Allocator) writeRange(r flushRange) error {
	for addr := r.from; addr < r.to; {
		page := a.pageOf(addr)
		end := a.pageStart(page) + a.pageSize
		if end > r.to {
			end = r.to
		}
		off := addr & (a.pageSize - 1)
		slot := a.slotOf(page)
		if err := a.opts.Device.WriteAt(a.pages[slot][off:off+(end-addr)], addr); err != nil {
			return err
		}
		addr = end
	}
	return nil
}
