// Package epoch implements the safe-reclamation primitive that guards the
// log's in-memory pages and boundary shifts.
//
// # Overview
//
// A Protector maintains a global 64-bit epoch and a fixed table of slots.
// A participant calls Enter before touching protected memory and Exit when
// done; the slot it occupies pins the epoch it observed. BumpWith advances
// the global epoch and queues an action against the prior epoch; the action
// runs only once every slot that could have observed that epoch has exited.
//
// Guards are scoped: take one per memory access, release it before blocking
// or suspending, and re-enter on resume. Guards from the same goroutine are
// independent slots, so overlapping guards are permitted but each must be
// exited exactly once.
//
//	g := p.Enter()
//	// ... read or write page memory ...
//	g.Exit()
//
//	p.BumpWith(func() { /* observes a quiescent state */ })
package epoch
