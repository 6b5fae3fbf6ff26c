// Package dedup implements the bounded inbound UUID de-duplication ring
// described in spec.md §3 "UUID de-duplication log" and §4.5 step 5-6.
package dedup

import (
	"sync"

	"github.com/google/uuid"

	"github.com/l-n-s/kote-go/internal/util"
)

// Capacity is the number of most-recently-seen UUIDs retained (spec.md §3).
const Capacity = 50

// Ring is a fixed-capacity, append-only set of recently observed message
// UUIDs. Seen reports membership in O(1); Add both records membership and
// evicts the oldest UUID once full (the ring alone only gives eviction
// order, so a side-set gives the O(1) lookup).
type Ring struct {
	mu   sync.Mutex
	ring *util.RingBuffer[uuid.UUID]
	set  map[uuid.UUID]struct{}
}

// New returns an empty dedup ring.
func New() *Ring {
	return &Ring{
		ring: util.NewRingBuffer[uuid.UUID](Capacity),
		set:  make(map[uuid.UUID]struct{}, Capacity),
	}
}

// Seen reports whether id has already been recorded.
func (r *Ring) Seen(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[id]
	return ok
}

// Add records id as seen, evicting the oldest entry if the ring is full.
// Returns true if id was newly added, false if it was already present.
func (r *Ring) Add(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[id]; ok {
		return false
	}

	evicted, ok := r.ring.PushEvicted(id)
	if ok {
		delete(r.set, evicted)
	}
	r.set[id] = struct{}{}
	return true
}
