package gateway

import (
	"context"
	"sync"
)

// DestinationCache memoizes gateway destination lookups. Entries are
// monotonically additive; nothing is ever evicted (spec.md §5 "Shared
// resources": "the destination-lookup cache is monotonically additive").
type DestinationCache struct {
	client Client

	mu      sync.Mutex
	entries map[string]Destination
}

// NewDestinationCache wraps client, populating on miss via
// client.DestinationLookup.
func NewDestinationCache(client Client) *DestinationCache {
	return &DestinationCache{client: client, entries: make(map[string]Destination)}
}

// Resolve returns the resolved base32 identity for address, looking it up
// through the gateway on cache miss (spec.md §4.3 step 3).
func (c *DestinationCache) Resolve(ctx context.Context, address string) (string, error) {
	c.mu.Lock()
	if d, ok := c.entries[address]; ok {
		c.mu.Unlock()
		return d.Base32, nil
	}
	c.mu.Unlock()

	// spec.md §6: destination_lookup(base32 + ".b32.i2p", gateway_addr).
	d, err := c.client.DestinationLookup(ctx, address+".b32.i2p")
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[address] = d
	c.mu.Unlock()
	return d.Base32, nil
}
