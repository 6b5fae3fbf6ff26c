// Package pinger implements the adaptive liveness prober described in
// spec.md §4.6: an expiration sweep followed by jittered ping fan-out,
// with a periodic "pulse" that refreshes every contact regardless of its
// last known state.
package pinger

import (
	"context"
	"math/rand"
	"time"
)

// Timing constants (spec.md §3, §4.6, §5).
const (
	PingInterval   = 300 * time.Second
	PingDeadline   = 2 * 60 * time.Second // 2 × DEFAULT_TIMEOUT
	PulseThreshold = 6
	SteadyState    = 1800 * time.Second
)

// Contacts abstracts "every known contact address" without depending on
// addressbook's concrete Entry/Snapshot shape, since the pinger only ever
// needs the address list.
type Contacts interface {
	ExpiredPeers() []string
	OnlinePeers() []string
	AllAddresses() []string
}

// OnlineGate is the subset of onlinegate.Gate the pinger waits on.
type OnlineGate interface {
	Wait(done <-chan struct{}) bool
}

// SendPing sends a single PING to address with the given deadline and
// reports whether a response was received (engine wires this to a
// Sender-independent direct send, since a ping bypasses the per-peer
// queue/retry policy entirely — spec.md §4.6 step 3 gives it its own
// 2×DEFAULT_TIMEOUT deadline, not the sender's 11-attempt policy).
type SendPing func(ctx context.Context, address string) bool

// Hooks are the event callbacks the pinger's expiration sweep drives
// (spec.md §4.6 step 1, §4.7).
type Hooks interface {
	OnContactOffline(name string)
}

// NameOf resolves an address to its local nickname for hook dispatch.
type NameOf func(address string) (string, bool)

// MarkOnline is invoked when a ping response arrives (spec.md §4.6 step 3
// "triggers mark_online").
type MarkOnline func(address string)

// SetOffline flips the address book entry to offline (spec.md §4.6 step 1).
type SetOffline func(address string)

// Pinger runs the liveness cycle for as long as its context lives.
type Pinger struct {
	contacts   Contacts
	gate       OnlineGate
	sendPing   SendPing
	hooks      Hooks
	nameOf     NameOf
	markOnline MarkOnline
	setOffline SetOffline

	startedAt time.Time
	x         int

	// jitter computes the pre-ping delay; overridable in tests so they
	// don't block for up to PingInterval.
	jitter func() time.Duration
}

// New constructs a Pinger. startedAt is the engine's start timestamp,
// used for the "uptime < 1800s" selection rule (spec.md §4.6 step 2).
func New(contacts Contacts, gate OnlineGate, sendPing SendPing, hooks Hooks, nameOf NameOf, markOnline MarkOnline, setOffline SetOffline, startedAt time.Time) *Pinger {
	return &Pinger{
		contacts:   contacts,
		gate:       gate,
		sendPing:   sendPing,
		hooks:      hooks,
		nameOf:     nameOf,
		markOnline: markOnline,
		setOffline: setOffline,
		startedAt:  startedAt,
		jitter:     func() time.Duration { return time.Duration(rand.Int63n(int64(PingInterval))) },
	}
}

// Run executes the liveness cycle until ctx is cancelled (spec.md §4.6).
func (p *Pinger) Run(ctx context.Context) {
	for {
		if !p.gate.Wait(ctx.Done()) {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.sweepExpired()
		p.pingSelection(ctx)

		t := time.NewTimer(PingInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// sweepExpired implements spec.md §4.6 step 1.
func (p *Pinger) sweepExpired() {
	for _, addr := range p.contacts.ExpiredPeers() {
		p.setOffline(addr)
		if name, ok := p.nameOf(addr); ok {
			p.hooks.OnContactOffline(name)
		}
	}
}

// pingSelection implements spec.md §4.6 steps 2-3.
func (p *Pinger) pingSelection(ctx context.Context) {
	online := p.contacts.OnlinePeers()
	uptime := time.Since(p.startedAt)

	var selected []string
	switch {
	case uptime < SteadyState || len(online) == 0:
		selected = p.contacts.AllAddresses()
	case p.x == PulseThreshold:
		selected = p.contacts.AllAddresses()
		p.x = 0
	default:
		selected = online
		p.x++
	}

	for _, addr := range selected {
		addr := addr
		go p.pingOne(ctx, addr)
	}
}

// pingOne sleeps a jittered delay then sends one ping with its own
// deadline (spec.md §4.6 step 3).
func (p *Pinger) pingOne(ctx context.Context, address string) {
	t := time.NewTimer(p.jitter())
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return
	}

	pctx, cancel := context.WithTimeout(ctx, PingDeadline)
	defer cancel()

	if p.sendPing(pctx, address) {
		p.markOnline(address)
	}
}
