package session

import (
	"log"
	"sync"
)

// maxGateDepth is the largest number of simultaneous restriction
// causes the protocol is expected to produce: lifetime-expiry-
// waiting-for-rejoin and transmit-rate-limit.
const maxGateDepth = 2

// gate is the transmit gate described in the session model: Open
// when depth is 0, Restricted(depth) otherwise. restrict/unrestrict
// are called by the receiver task (and unrestrict(true) by Close);
// tryAcquire is called by the send path.
//
// depth transitions 0->1 lock the underlying mutex so that tryAcquire
// blocks; depth transitions 1->0 unlock it. The mutex has no owning
// goroutine -- it is used as a two-state latch, not a critical
// section guard.
type gate struct {
	lock sync.Mutex

	dmu   sync.Mutex
	depth int

	log *log.Logger
}

func newGate(logger *log.Logger) *gate { return &gate{log: logger} }

// restrict increments depth, locking the gate on the 0->1 transition.
func (g *gate) restrict() {
	g.dmu.Lock()
	defer g.dmu.Unlock()
	if g.depth == 0 {
		g.lock.Lock()
	}
	if g.depth >= maxGateDepth {
		g.log.Printf("session: transmit gate restrict beyond depth %d ignored (duplicate event delivery?)", maxGateDepth)
		return
	}
	g.depth++
}

// unrestrict decrements depth, unlocking the gate on the 1->0
// transition. force zeros depth unconditionally and releases the
// lock if held, tolerating an already-open gate.
func (g *gate) unrestrict(force bool) {
	g.dmu.Lock()
	defer g.dmu.Unlock()
	if force {
		if g.depth > 0 {
			g.lock.Unlock()
		}
		g.depth = 0
		return
	}
	if g.depth == 0 {
		// The fan-out publisher can redeliver the same logical event to
		// more than one consumer path (e.g. an explicit rejoin and the
		// wire event it produces); treat a redundant release as benign.
		g.log.Printf("session: transmit gate unrestrict at depth 0 ignored (duplicate event delivery?)")
		return
	}
	g.depth--
	if g.depth == 0 {
		g.lock.Unlock()
	}
}

// tryAcquire reports whether the gate is currently open, without
// leaving any lasting side effect.
func (g *gate) tryAcquire() bool {
	if !g.lock.TryLock() {
		return false
	}
	g.lock.Unlock()
	return true
}

func (g *gate) currentDepth() int {
	g.dmu.Lock()
	defer g.dmu.Unlock()
	return g.depth
}
