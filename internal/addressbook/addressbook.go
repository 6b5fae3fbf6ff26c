// Package addressbook implements the name↔address bijection of known
// contacts, their online/last-seen state, and the expiry sweep described
// in spec.md §3/§4.2.
package addressbook

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/l-n-s/kote-go/internal/kerr"
)

// MaxIdle is the duration after which an online peer with no traffic is
// considered expired (spec.md §3, MAX_IDLE).
const MaxIdle = 1800 * time.Second

// validAddress matches a 52-character base32 destination (spec.md §3).
var validAddress = regexp.MustCompile(`^[A-Za-z0-9]{52}$`)

// IsValidAddress reports whether s is a syntactically valid destination.
func IsValidAddress(s string) bool {
	return validAddress.MatchString(s)
}

// Entry is one address book record (spec.md §3 Address book entry).
type Entry struct {
	Name     string
	Address  string
	LastSeen time.Time
	Online   bool
}

// Event describes a change to the book, delivered to Subscribe channels.
type Event struct {
	Type  string // "online", "offline", "insert", "remove"
	Entry Entry
}

// Book is the engine's bidirectional, mutex-guarded contact directory.
// It has no internal concurrency of its own; every exported method locks
// for the duration of a single composite operation, satisfying spec.md
// §5's "guard the composite operations" requirement for a parallel-thread
// host language.
type Book struct {
	mu          sync.Mutex
	byName      map[string]*Entry
	byAddress   map[string]*Entry
	listeners   []chan Event
}

// New returns an empty address book.
func New() *Book {
	return &Book{
		byName:    make(map[string]*Entry),
		byAddress: make(map[string]*Entry),
	}
}

// Insert adds a new bijection name↔address. It fails with kerr.ErrInvalidAddress
// if address is not well-formed, and kerr.ErrDuplicate if either side is
// already present (spec.md §4.2).
func (b *Book) Insert(name, address string) error {
	if !IsValidAddress(address) {
		return fmt.Errorf("insert %q: %w", address, kerr.ErrInvalidAddress)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byName[name]; ok {
		return fmt.Errorf("insert %q: %w", name, kerr.ErrDuplicate)
	}
	if _, ok := b.byAddress[address]; ok {
		return fmt.Errorf("insert %q: %w", address, kerr.ErrDuplicate)
	}

	e := &Entry{Name: name, Address: address}
	b.byName[name] = e
	b.byAddress[address] = e
	b.notify(Event{Type: "insert", Entry: *e})
	return nil
}

// Remove deletes both indexes and all state for name, if present.
func (b *Book) Remove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byName[name]
	if !ok {
		return
	}
	delete(b.byName, e.Name)
	delete(b.byAddress, e.Address)
	b.notify(Event{Type: "remove", Entry: *e})
}

// LookupByName returns the address for a known nickname.
func (b *Book) LookupByName(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byName[name]
	if !ok {
		return "", false
	}
	return e.Address, true
}

// LookupByAddress returns the nickname for a known address.
func (b *Book) LookupByAddress(address string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byAddress[address]
	if !ok {
		return "", false
	}
	return e.Name, true
}

// SetOnline stamps last_seen=now and online=true for address, if known.
func (b *Book) SetOnline(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byAddress[address]
	if !ok {
		return
	}
	e.LastSeen = time.Now()
	e.Online = true
	b.notify(Event{Type: "online", Entry: *e})
}

// SetOffline sets online=false for address, preserving last_seen.
func (b *Book) SetOffline(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byAddress[address]
	if !ok {
		return
	}
	e.Online = false
	b.notify(Event{Type: "offline", Entry: *e})
}

// IsOnline reports whether address is currently flagged online.
func (b *Book) IsOnline(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byAddress[address]
	return ok && e.Online
}

// OnlinePeers returns every address currently flagged online.
func (b *Book) OnlinePeers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for addr, e := range b.byAddress {
		if e.Online {
			out = append(out, addr)
		}
	}
	return out
}

// ExpiredPeers returns online addresses whose last_seen predates MaxIdle.
func (b *Book) ExpiredPeers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var out []string
	for addr, e := range b.byAddress {
		if e.Online && now.Sub(e.LastSeen) > MaxIdle {
			out = append(out, addr)
		}
	}
	return out
}

// AllAddresses returns every known contact address, online or not, used
// by the pinger's "select all contacts" path (spec.md §4.6 step 2).
func (b *Book) AllAddresses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.byAddress))
	for addr := range b.byAddress {
		out = append(out, addr)
	}
	return out
}

// Humans returns addresses whose nickname does not end in the bot-naming
// convention ("Bot" or "_bot"), used to exclude bots from public broadcast
// (spec.md §4.2, GLOSSARY "Humans").
func (b *Book) Humans() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for name, e := range b.byName {
		if strings.HasSuffix(name, "Bot") || strings.HasSuffix(name, "_bot") {
			continue
		}
		out = append(out, e.Address)
	}
	return out
}

// LastSeenHuman renders "<duration> ago", or "never" if address has no
// last_seen timestamp, matching the original Python's timedelta rendering
// (SPEC_FULL.md §5) rather than Go's default Duration.String().
func (b *Book) LastSeenHuman(address string) string {
	b.mu.Lock()
	e, ok := b.byAddress[address]
	b.mu.Unlock()
	if !ok || e.LastSeen.IsZero() {
		return "never"
	}
	return formatTimedelta(time.Since(e.LastSeen)) + " ago"
}

// formatTimedelta renders d the way Python's datetime.timedelta does:
// "H:MM:SS" (no leading zero on hours, days prefixed as "1 day, " or
// "D days, ").
func formatTimedelta(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)

	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int64(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := int64(d / time.Second)

	core := fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	if days == 0 {
		return core
	}
	unit := "day"
	if days != 1 {
		unit = "days"
	}
	return fmt.Sprintf("%d %s, %s", days, unit, core)
}

// Get returns a copy of the entry for address, if known.
func (b *Book) Get(address string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byAddress[address]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns a copy of every entry, keyed by name.
func (b *Book) Snapshot() map[string]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Entry, len(b.byName))
	for name, e := range b.byName {
		out[name] = *e
	}
	return out
}

// Subscribe registers a channel that receives every subsequent Event.
func (b *Book) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 16)
	b.listeners = append(b.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a channel registered with Subscribe.
func (b *Book) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l == ch {
			close(l)
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// notify fans Event out to every subscriber without blocking; slow
// consumers drop events (same non-blocking-send discipline as the
// teacher's PeerTable.notifyListeners).
func (b *Book) notify(evt Event) {
	for _, ch := range b.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
