// Package engine composes the protocol, addressbook, senders, session
// loop, receiver, and pinger into the single facade described in spec.md
// §4.7: contact management, message sending, lifecycle, and the seven
// event hooks.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/l-n-s/kote-go/internal/addressbook"
	"github.com/l-n-s/kote-go/internal/dedup"
	"github.com/l-n-s/kote-go/internal/gateway"
	"github.com/l-n-s/kote-go/internal/gateway/samv3"
	"github.com/l-n-s/kote-go/internal/onlinegate"
	"github.com/l-n-s/kote-go/internal/pinger"
	"github.com/l-n-s/kote-go/internal/protocol"
	"github.com/l-n-s/kote-go/internal/receiver"
	"github.com/l-n-s/kote-go/internal/sender"
	"github.com/l-n-s/kote-go/internal/sessionloop"
	"github.com/l-n-s/kote-go/internal/stats"
	"github.com/l-n-s/kote-go/internal/store"
)

var log = logging.Logger("kote/engine")

// Hooks are the seven event callbacks of spec.md §4.7, each with a no-op
// default so implementers only override what they need — "Event hook
// polymorphism" per spec.md §9 Design notes.
type Hooks interface {
	OnAuthorization(m protocol.Message)
	OnPing(m protocol.Message)
	OnPrivateMessage(m protocol.Message)
	OnPublicMessage(m protocol.Message)
	OnUnauthorized(m protocol.Message)
	OnContactOnline(name string)
	OnContactOffline(name string)
}

// NoopHooks implements Hooks with every method a no-op; embed it to
// override only the hooks you care about.
type NoopHooks struct{}

func (NoopHooks) OnAuthorization(protocol.Message) {}
func (NoopHooks) OnPing(protocol.Message)          {}
func (NoopHooks) OnPrivateMessage(protocol.Message) {}
func (NoopHooks) OnPublicMessage(protocol.Message)  {}
func (NoopHooks) OnUnauthorized(protocol.Message)   {}
func (NoopHooks) OnContactOnline(name string)       {}
func (NoopHooks) OnContactOffline(name string)      {}

// Config carries the engine's runtime configuration (SPEC_FULL.md §2.3).
type Config struct {
	DataDir            string
	GatewayAddr        string
	SessionNamePrefix  string
	IgnoreUnauthorized bool
	StatsDBPath        string
}

// Engine is the composed messaging engine (spec.md §2, §4.7).
type Engine struct {
	cfg   Config
	hooks Hooks

	client gateway.Client
	book   *addressbook.Book
	cache  *gateway.DestinationCache
	gate   *onlinegate.Gate
	loop   *sessionloop.Loop
	dedup  *dedup.Ring

	dest        gateway.Destination
	sessionName string
	startedAt   time.Time
	stats       *stats.Store

	sendersMu sync.Mutex
	senders   map[string]*sender.Sender

	watcher *store.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine whose gateway client talks SAM v3 to
// cfg.GatewayAddr. It does not start any background work; call Start for
// that.
func New(cfg Config, hooks Hooks) *Engine {
	return NewWithClient(cfg, hooks, samv3.NewClient(cfg.GatewayAddr))
}

// NewWithClient constructs an Engine against an arbitrary gateway.Client,
// letting tests substitute a fake gateway without a running SAM daemon.
func NewWithClient(cfg Config, hooks Hooks, client gateway.Client) *Engine {
	if cfg.SessionNamePrefix == "" {
		cfg.SessionNamePrefix = "kote"
	}
	return &Engine{
		cfg:     cfg,
		hooks:   hooks,
		client:  client,
		book:    addressbook.New(),
		gate:    onlinegate.New(),
		dedup:   dedup.New(),
		senders: make(map[string]*sender.Sender),
	}
}

// Start loads or creates the local destination, loads contacts, spins up
// one sender per contact, and starts the receiver/pinger/session-loop
// tasks (spec.md §4.7 "Start").
func (e *Engine) Start(parent context.Context) error {
	e.ctx, e.cancel = context.WithCancel(parent)
	e.startedAt = time.Now()

	statsPath := e.cfg.StatsDBPath
	if statsPath == "" {
		statsPath = filepath.Join(e.cfg.DataDir, "stats.db")
	}
	statsStore, err := stats.Open(statsPath)
	if err != nil {
		return fmt.Errorf("engine start: open stats store: %w", err)
	}
	e.stats = statsStore

	dest, err := e.loadOrCreateDestination()
	if err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	e.dest = dest
	e.cache = gateway.NewDestinationCache(e.client)

	contacts, err := store.LoadContacts(e.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("engine start: load contacts: %w", err)
	}
	for name, addr := range contacts {
		if err := e.book.Insert(name, addr); err != nil {
			log.Warnw("skipping invalid stored contact", "name", name, "err", err)
			continue
		}
		e.spawnSender(name, addr)
	}

	e.sessionName = samv3.GenSessionName(e.cfg.SessionNamePrefix)
	e.loop = sessionloop.New(e.client, e.sessionName, e.dest, e.gate)

	rcv := receiver.New(e.loop, e.gate, e.book, e.dedup, e, e.MarkOnline, e.cfg.IgnoreUnauthorized)
	png := pinger.New(e.book, e.gate, e.sendPing, e, e.nameOf, e.MarkOnline, e.book.SetOffline, e.startedAt)

	e.runTask(e.loop.Run)
	e.runTask(rcv.Run)
	e.runTask(png.Run)

	watcher, err := store.NewWatcher(e.cfg.DataDir, e.reloadContacts)
	if err != nil {
		log.Warnw("contacts watcher disabled", "err", err)
	} else {
		e.watcher = watcher
	}

	return nil
}

func (e *Engine) runTask(fn func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// Stop clears the online gate, stops every per-peer sender, then cancels
// the receiver/pinger/session-loop tasks. Contacts are never cleared
// (spec.md §4.7 "Stop").
func (e *Engine) Stop() {
	e.gate.Clear()

	e.sendersMu.Lock()
	for _, s := range e.senders {
		s.Stop()
	}
	e.sendersMu.Unlock()

	if e.watcher != nil {
		e.watcher.Close()
	}

	e.cancel()
	e.wg.Wait()

	if e.stats != nil {
		if err := e.stats.Close(); err != nil {
			log.Warnw("stats store close failed", "err", err)
		}
	}
}

// Stats exposes the delivery-statistics store for read-only inspection
// (e.g. a CLI "stats" subcommand or the monitor feed).
func (e *Engine) Stats() *stats.Store {
	return e.stats
}

// AddContact implements spec.md §4.7 add_contact.
func (e *Engine) AddContact(name, address, yourName string) error {
	if address == e.dest.Base32 {
		return fmt.Errorf("engine: cannot add own destination as a contact")
	}
	if err := e.book.Insert(name, address); err != nil {
		return err
	}

	contacts := e.book.Snapshot()
	flat := make(map[string]string, len(contacts))
	for n, entry := range contacts {
		flat[n] = entry.Address
	}
	if err := store.SaveContacts(e.cfg.DataDir, flat); err != nil {
		return fmt.Errorf("engine: persist contacts: %w", err)
	}

	s := e.spawnSender(name, address)
	s.Enqueue(protocol.New(protocol.AUTHORIZATION, yourName, address))
	return nil
}

// RemoveContact implements spec.md §4.7 remove_contact.
func (e *Engine) RemoveContact(name string) {
	e.sendersMu.Lock()
	addr, ok := e.book.LookupByName(name)
	if ok {
		if s, exists := e.senders[addr]; exists {
			s.Stop()
			delete(e.senders, addr)
		}
	}
	e.sendersMu.Unlock()

	e.book.Remove(name)

	contacts := e.book.Snapshot()
	flat := make(map[string]string, len(contacts))
	for n, entry := range contacts {
		flat[n] = entry.Address
	}
	_ = store.SaveContacts(e.cfg.DataDir, flat)
}

// SendMessage implements spec.md §4.7 send_message: if the destination is
// online, enqueue to its sender's queue; otherwise stash directly,
// skipping the queue entirely.
func (e *Engine) SendMessage(m protocol.Message) error {
	e.sendersMu.Lock()
	s, ok := e.senders[m.Destination]
	e.sendersMu.Unlock()
	if !ok {
		return fmt.Errorf("engine: send_message: %s is not a contact", m.Destination)
	}

	if e.book.IsOnline(m.Destination) {
		s.Enqueue(m)
	} else {
		s.Stash(m)
	}
	return nil
}

// MarkOnline implements spec.md §4.7 mark_online: if the peer was
// previously offline, fire on_contact_online, replay its stash, then set
// it online — ensuring replayed messages are visible before downstream
// observers act on the online transition.
func (e *Engine) MarkOnline(address string) {
	wasOnline := e.book.IsOnline(address)
	if !wasOnline {
		if name, ok := e.book.LookupByAddress(address); ok {
			e.hooks.OnContactOnline(name)
		}
		e.sendersMu.Lock()
		s, ok := e.senders[address]
		e.sendersMu.Unlock()
		if ok {
			s.Replay()
		}
	}
	e.book.SetOnline(address)
}

func (e *Engine) spawnSender(name, address string) *sender.Sender {
	s := sender.New(address, name, func() sender.Session { return e.loop.Session() }, e.cache, e.gate, e)

	e.sendersMu.Lock()
	e.senders[address] = s
	e.sendersMu.Unlock()

	e.runTask(s.Run)
	return s
}

func (e *Engine) nameOf(address string) (string, bool) {
	return e.book.LookupByAddress(address)
}

func (e *Engine) reloadContacts(contacts map[string]string) {
	for name, addr := range contacts {
		if _, ok := e.book.LookupByName(name); ok {
			continue
		}
		if err := e.book.Insert(name, addr); err != nil {
			continue
		}
		e.spawnSender(name, addr)
	}
}

// sendPing is the pinger's direct-send path: a PING bypasses the sender's
// queue/retry policy entirely and uses its own deadline (spec.md §4.6
// step 3).
func (e *Engine) sendPing(ctx context.Context, address string) bool {
	sess := e.loop.Session()
	if sess == nil {
		return false
	}
	dest, err := e.cache.Resolve(ctx, address)
	if err != nil {
		return false
	}
	conn, err := sess.StreamConnect(ctx, dest)
	if err != nil {
		return false
	}
	defer conn.Close()

	wire, err := protocol.Encode(protocol.New(protocol.PING, "", address))
	if err != nil {
		return false
	}
	if _, err := conn.Write(wire); err != nil {
		return false
	}

	buf := make([]byte, protocol.MaxMessageLength)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	_, err = protocol.Decode(buf[:n], address)
	return err == nil
}

// loadOrCreateDestination implements spec.md §4.7 "Load or create local
// destination".
func (e *Engine) loadOrCreateDestination() (gateway.Destination, error) {
	key, ok, err := store.LoadDestinationKey(e.cfg.DataDir)
	if err != nil {
		return gateway.Destination{}, err
	}
	if ok {
		return gateway.Destination{PrivateKey: key}, nil
	}

	dest, err := e.client.NewDestination(e.ctx)
	if err != nil {
		return gateway.Destination{}, fmt.Errorf("allocate destination: %w", err)
	}
	if err := store.SaveDestinationKey(e.cfg.DataDir, dest.PrivateKey); err != nil {
		return gateway.Destination{}, fmt.Errorf("save destination key: %w", err)
	}
	return dest, nil
}

// Hooks passthrough: Engine implements receiver.Hooks, sender.Hooks and
// pinger.Hooks by forwarding to the configured Hooks. OnContactOnline has
// no passthrough; MarkOnline calls it on the configured Hooks directly.

func (e *Engine) OnAuthorization(m protocol.Message)  { e.hooks.OnAuthorization(m) }
func (e *Engine) OnPing(m protocol.Message)           { e.hooks.OnPing(m) }
func (e *Engine) OnPrivateMessage(m protocol.Message) { e.hooks.OnPrivateMessage(m) }
func (e *Engine) OnPublicMessage(m protocol.Message)  { e.hooks.OnPublicMessage(m) }
func (e *Engine) OnUnauthorized(m protocol.Message)   { e.hooks.OnUnauthorized(m) }
func (e *Engine) OnContactOffline(name string)        { e.hooks.OnContactOffline(name) }

// OnAttempt records one delivery attempt's outcome in the stats store
// (SPEC_FULL.md §3 internal/stats); it is not part of the seven
// user-facing Hooks and is driven directly by internal/sender.
func (e *Engine) OnAttempt(address string, success bool) {
	if e.stats == nil {
		return
	}
	if err := e.stats.RecordAttempt(address, success); err != nil {
		log.Warnw("record attempt failed", "address", address, "err", err)
	}
}
