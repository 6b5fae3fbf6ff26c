// Package stash implements the bounded per-code message stash a per-peer
// sender falls back to when every delivery attempt has failed (spec.md §3
// Per-peer sender state, §4.3).
package stash

import (
	"sync"

	"github.com/l-n-s/kote-go/internal/protocol"
	"github.com/l-n-s/kote-go/internal/util"
)

// Capacities for each stashable code (spec.md §3).
const (
	PrivateCapacity       = 1000
	PublicCapacity        = 100
	AuthorizationCapacity = 10
)

// Stash holds undelivered messages for one peer, bucketed by code, each
// bucket bounded and evicting its oldest entry on overflow.
type Stash struct {
	mu      sync.Mutex
	private *util.RingBuffer[protocol.Message]
	public  *util.RingBuffer[protocol.Message]
	auth    *util.RingBuffer[protocol.Message]
}

// New returns an empty stash with the capacities from spec.md §3.
func New() *Stash {
	return &Stash{
		private: util.NewRingBuffer[protocol.Message](PrivateCapacity),
		public:  util.NewRingBuffer[protocol.Message](PublicCapacity),
		auth:    util.NewRingBuffer[protocol.Message](AuthorizationCapacity),
	}
}

func (s *Stash) bucket(code protocol.Code) *util.RingBuffer[protocol.Message] {
	switch code {
	case protocol.PRIVATE:
		return s.private
	case protocol.PUBLIC:
		return s.public
	case protocol.AUTHORIZATION:
		return s.auth
	default:
		return nil
	}
}

// Put stores m in the bucket for its code, evicting the oldest entry if
// full. Codes other than PRIVATE/PUBLIC/AUTHORIZATION are discarded
// (spec.md §4.3 step 5).
func (s *Stash) Put(m protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.bucket(m.Code); b != nil {
		b.Push(m)
	}
}

// DrainAll removes and returns every stashed message across all buckets,
// in the fixed replay order PRIVATE → PUBLIC → AUTHORIZATION (spec.md
// §4.3 "Stash replay").
func (s *Stash) DrainAll() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, 0, s.private.Len()+s.public.Len()+s.auth.Len())
	out = append(out, s.private.PopAll()...)
	out = append(out, s.public.PopAll()...)
	out = append(out, s.auth.PopAll()...)
	return out
}

// Len returns the total number of messages currently stashed, across all
// buckets.
func (s *Stash) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.private.Len() + s.public.Len() + s.auth.Len()
}
