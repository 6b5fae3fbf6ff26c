package pinger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeContacts struct {
	expired []string
	online  []string
	all     []string
}

func (c fakeContacts) ExpiredPeers() []string { return c.expired }
func (c fakeContacts) OnlinePeers() []string  { return c.online }
func (c fakeContacts) AllAddresses() []string { return c.all }

type fakeGate struct{}

func (fakeGate) Wait(done <-chan struct{}) bool { return true }

type fakeHooks struct {
	mu      sync.Mutex
	offline []string
}

func (h *fakeHooks) OnContactOffline(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offline = append(h.offline, name)
}

func TestSweepExpiredFiresOfflineHookOnce(t *testing.T) {
	contacts := fakeContacts{expired: []string{"destA"}}
	hooks := &fakeHooks{}

	var offlined []string
	var mu sync.Mutex
	p := New(contacts, fakeGate{}, func(ctx context.Context, addr string) bool { return false },
		hooks,
		func(addr string) (string, bool) { return "alice", true },
		func(addr string) {},
		func(addr string) {
			mu.Lock()
			offlined = append(offlined, addr)
			mu.Unlock()
		},
		time.Now(),
	)

	p.sweepExpired()

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	require.Equal(t, []string{"alice"}, hooks.offline)
	require.Equal(t, []string{"destA"}, offlined)
}

func TestPingSelectionUsesAllContactsDuringStartup(t *testing.T) {
	contacts := fakeContacts{all: []string{"destA", "destB"}, online: []string{}}
	var pinged []string
	var mu sync.Mutex

	p := New(contacts, fakeGate{}, func(ctx context.Context, addr string) bool {
		mu.Lock()
		pinged = append(pinged, addr)
		mu.Unlock()
		return true
	}, &fakeHooks{}, func(addr string) (string, bool) { return "", false }, func(addr string) {}, func(addr string) {}, time.Now())
	p.jitter = func() time.Duration { return 0 }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.pingSelection(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pinged) == 2
	}, 500*time.Millisecond, 5*time.Millisecond)
}
