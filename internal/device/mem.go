package device

import "sync"

// MemDevice keeps segments in process memory. It backs tests and the bench
// subcommand; contents do not survive the process.
type MemDevice struct {
	segBits uint

	mu    sync.RWMutex
	segs  map[int64][]byte
	first int64
}

// OpenMem returns an empty in-memory device.
func OpenMem(segmentSizeBits uint) *MemDevice {
	return &MemDevice{segBits: segmentSizeBits, segs: make(map[int64][]byte)}
}

func (d *MemDevice) segSize() int64 { return int64(1) << d.segBits }

// Path identifies the device in logs; there is no backing file.
func (d *MemDevice) Path() string { return "mem" }

func (d *MemDevice) segment(n int64, create bool) ([]byte, error) {
	d.mu.RLock()
	seg := d.segs[n]
	d.mu.RUnlock()
	if seg != nil {
		return seg, nil
	}
	if !create {
		return nil, ErrUnwrittenRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if seg = d.segs[n]; seg == nil {
		seg = make([]byte, d.segSize())
		d.segs[n] = seg
	}
	return seg, nil
}

func (d *MemDevice) WriteAt(p []byte, addr int64) error {
	for len(p) > 0 {
		seg, err := d.segment(addr>>d.segBits, true)
		if err != nil {
			return err
		}
		off := addr & (d.segSize() - 1)
		c := copy(seg[off:], p)
		p = p[c:]
		addr += int64(c)
	}
	return nil
}

func (d *MemDevice) ReadAt(p []byte, addr int64) error {
	for len(p) > 0 {
		seg, err := d.segment(addr>>d.segBits, false)
		if err != nil {
			return err
		}
		off := addr & (d.segSize() - 1)
		c := copy(p, seg[off:])
		p = p[c:]
		addr += int64(c)
	}
	return nil
}

func (d *MemDevice) Sync() error { return nil }

func (d *MemDevice) TruncateUntil(addr int64) error {
	keep := addr >> d.segBits
	d.mu.Lock()
	defer d.mu.Unlock()
	for n := d.first; n < keep; n++ {
		delete(d.segs, n)
	}
	if keep > d.first {
		d.first = keep
	}
	return nil
}

func (d *MemDevice) Close() error { return nil }
