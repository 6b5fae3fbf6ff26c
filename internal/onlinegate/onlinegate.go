// Package onlinegate implements the process-wide latch described in
// spec.md §4.4 and §9 "Online gate": waiters block while the gate is
// cleared and proceed while it is set; clearing never interrupts work
// already past the wait point. Modeled as a channel that is closed while
// open and replaced while closed — the idiomatic Go stand-in for Python's
// asyncio.Event, following the context.Context cancellation-by-close
// idiom used throughout the teacher's internal/p2p/node.go.
package onlinegate

import "sync"

// Gate is a broadcast-latchable condition: Wait returns immediately while
// the gate is Set, and blocks while it is Clear.
type Gate struct {
	mu   sync.Mutex
	ch   chan struct{}
	open bool
}

// New returns a Gate that starts cleared.
func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Set opens the gate, releasing every current and future waiter until the
// next Clear.
func (g *Gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return
	}
	g.open = true
	close(g.ch)
}

// Clear closes the gate for subsequent waiters; callers already past Wait
// are unaffected.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return
	}
	g.open = false
	g.ch = make(chan struct{})
}

// IsSet reports the gate's current state.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// WaitCh returns the channel to select on: it is closed while (and only
// while) the gate is set at the moment this method is called. Callers
// that need to react to the gate clearing again should re-call WaitCh
// after it unblocks.
func (g *Gate) WaitCh() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// Wait blocks until the gate is set, or ctxDone is closed, whichever
// happens first. Returns false if ctxDone fired first.
func (g *Gate) Wait(ctxDone <-chan struct{}) bool {
	for {
		ch := g.WaitCh()
		select {
		case <-ch:
			if g.IsSet() {
				return true
			}
			// Cleared again between WaitCh() and the select firing; loop.
		case <-ctxDone:
			return false
		}
	}
}
