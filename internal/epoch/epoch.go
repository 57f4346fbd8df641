package epoch

import (
	"runtime"
	"sync/atomic"
)

const (
	maxSlots      = 128
	drainListSize = 16
	cacheLine     = 64
)

// slot pins the epoch a participant observed at Enter. protected is zero
// while the slot is free. Padded so concurrent participants do not share a
// cache line.
type slot struct {
	protected atomic.Int64
	_         [cacheLine - 8]byte
}

const (
	stateFree int32 = iota
	stateClaimed
	stateReady
	stateRunning
)

type drainEntry struct {
	state  atomic.Int32
	epoch  atomic.Int64
	action func()
}

// Protector is the global epoch table. The zero value is not usable; call New.
type Protector struct {
	current atomic.Int64
	pending atomic.Int32
	slots   [maxSlots]slot
	drain   [drainListSize]drainEntry
}

// New returns a Protector with the global epoch initialized to 1.
func New() *Protector {
	p := &Protector{}
	p.current.Store(1)
	return p
}

// Guard is an occupied slot. It must be released with Exit exactly once.
type Guard struct {
	p   *Protector
	idx int32
}

// Enter claims a slot and pins the current epoch. It spins when all slots
// are taken, which only happens with more simultaneous guards than maxSlots.
func (p *Protector) Enter() Guard {
	for {
		cur := p.current.Load()
		for i := range p.slots {
			s := &p.slots[i]
			if s.protected.Load() == 0 && s.protected.CompareAndSwap(0, cur) {
				// The global epoch may have moved between the load and the
				// claim; republish until the pinned value is current.
				for {
					now := p.current.Load()
					if now == cur {
						return Guard{p: p, idx: int32(i)}
					}
					s.protected.Store(now)
					cur = now
				}
			}
		}
		runtime.Gosched()
	}
}

// Exit releases the guard's slot and opportunistically drains.
func (g Guard) Exit() {
	g.p.slots[g.idx].protected.Store(0)
	if g.p.pending.Load() > 0 {
		g.p.Drain()
	}
}

// Refresh republishes the current epoch into the guard's slot. Long-running
// operations call it between records so boundary shifts are not held up.
func (g Guard) Refresh() {
	g.p.slots[g.idx].protected.Store(g.p.current.Load())
	if g.p.pending.Load() > 0 {
		g.p.Drain()
	}
}

// Bump advances the global epoch.
func (p *Protector) Bump() {
	p.current.Add(1)
}

// BumpWith advances the global epoch and queues action against the prior
// epoch. The action runs, via Drain, once no slot still pins an epoch at or
// below the prior one. When the drain list is full, BumpWith drains in place
// until a list entry frees up.
func (p *Protector) BumpWith(action func()) {
	prior := p.current.Add(1) - 1
	for {
		for i := range p.drain {
			d := &p.drain[i]
			if d.state.Load() == stateFree && d.state.CompareAndSwap(stateFree, stateClaimed) {
				d.action = action
				d.epoch.Store(prior)
				d.state.Store(stateReady)
				p.pending.Add(1)
				p.Drain()
				return
			}
		}
		p.Drain()
		runtime.Gosched()
	}
}

// safeEpoch returns the highest epoch that every participant has left.
func (p *Protector) safeEpoch() int64 {
	safe := p.current.Load() - 1
	for i := range p.slots {
		if e := p.slots[i].protected.Load(); e != 0 && e-1 < safe {
			safe = e - 1
		}
	}
	return safe
}

// Drain runs every queued action whose epoch has quiesced. Callers that
// cannot take a guard (backpressure loops, close paths) call it directly.
func (p *Protector) Drain() {
	if p.pending.Load() == 0 {
		return
	}
	safe := p.safeEpoch()
	for i := range p.drain {
		d := &p.drain[i]
		if d.state.Load() == stateReady && d.epoch.Load() <= safe {
			if d.state.CompareAndSwap(stateReady, stateRunning) {
				action := d.action
				d.action = nil
				d.state.Store(stateFree)
				p.pending.Add(-1)
				action()
			}
		}
	}
}

// Pending reports whether any queued action has not yet run.
func (p *Protector) Pending() bool {
	return p.pending.Load() > 0
}
