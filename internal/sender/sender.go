// Package sender implements the per-peer outbound sender described in
// spec.md §4.3: a FIFO queue buffered to 4096 messages (Enqueue blocks
// while it is full), bounded retry policy, and a
// bounded stash for offline replay. The request/response-over-a-fresh-
// stream shape is grounded on internal/mq/manager.go's Send/handleIncoming
// pattern in the teacher, generalized from JSON+ack to the binary wire
// format of spec.md §4.1.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/l-n-s/kote-go/internal/gateway"
	"github.com/l-n-s/kote-go/internal/protocol"
	"github.com/l-n-s/kote-go/internal/stash"
)

var log = logging.Logger("kote/sender")

// Retry policy (spec.md §3, §4.3, §5).
const (
	SendRetries    = 11
	DefaultTimeout = 60 * time.Second
	BackoffDelay   = DefaultTimeout / 2
)

// Session is the subset of gateway.Session a Sender needs to open
// outbound streams.
type Session interface {
	StreamConnect(ctx context.Context, targetDestination string) (gateway.StreamConn, error)
}

// DestinationResolver resolves a base32 address to itself via the
// gateway's lookup cache (spec.md §4.3 step 3 "resolve destination via
// cache").
type DestinationResolver interface {
	Resolve(ctx context.Context, address string) (string, error)
}

// Hooks are the subset of engine event callbacks a Sender drives directly
// (spec.md §4.3 step 4, §4.7). OnAttempt is an ambient addition beyond
// spec.md so the delivery-statistics store (SPEC_FULL.md §3
// internal/stats) can count sends without the sender depending on it
// directly.
type Hooks interface {
	OnUnauthorized(m protocol.Message)
	OnAttempt(address string, success bool)
}

// OnlineGate is the subset of onlinegate.Gate a Sender waits on.
type OnlineGate interface {
	Wait(done <-chan struct{}) bool
}

// Sender owns one contact's outbound queue and offline stash, and runs
// its own delivery loop for the lifetime of the contact (spec.md §4.3).
type Sender struct {
	address  string
	name     string
	resolver DestinationResolver
	gate     OnlineGate
	hooks    Hooks

	queue chan protocol.Message
	stash *stash.Stash

	session sessionBox

	stop   chan struct{}
	done   chan struct{}
}

// sessionBox is a tiny box so Sender can be handed a live Session after
// construction, whenever the session loop re-establishes one, without a
// full restart of the sender goroutine.
type sessionBox struct {
	get func() Session
}

// New constructs a Sender for address/name. getSession is called fresh on
// every delivery attempt so the sender always uses the session loop's
// current session (spec.md §4.4 "restart on failure").
func New(address, name string, getSession func() Session, resolver DestinationResolver, gate OnlineGate, hooks Hooks) *Sender {
	return &Sender{
		address:   address,
		name:      name,
		resolver:  resolver,
		gate:      gate,
		hooks:     hooks,
		queue:     make(chan protocol.Message, 4096),
		stash:     stash.New(),
		session:   sessionBox{get: getSession},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Enqueue adds m to the FIFO queue. Callers on a full queue block; in
// practice the queue is large enough that this never happens for a
// messaging workload (spec.md describes it as unbounded).
func (s *Sender) Enqueue(m protocol.Message) {
	select {
	case s.queue <- m:
	case <-s.stop:
	}
}

// Stash stores m directly in the offline stash, bypassing the queue
// (spec.md §4.7 send_message: "otherwise stash directly").
func (s *Sender) Stash(m protocol.Message) {
	s.stash.Put(m)
}

// StashLen reports how many messages are currently stashed.
func (s *Sender) StashLen() int {
	return s.stash.Len()
}

// Replay drains the stash and re-queues every message for delivery, in
// the fixed order PRIVATE → PUBLIC → AUTHORIZATION (spec.md §4.3 "Stash
// replay").
func (s *Sender) Replay() {
	for _, m := range s.stash.DrainAll() {
		s.Enqueue(m)
	}
}

// Run consumes the queue until Stop is called. It must run in its own
// goroutine; the engine owns exactly one per contact (spec.md §3
// "Ownership").
func (s *Sender) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case m := <-s.queue:
			if !s.gate.Wait(s.stop) {
				return
			}
			s.deliver(ctx, m)
		}
	}
}

// Stop cancels the sender's delivery loop; queued-but-undelivered
// messages are discarded (spec.md §4.3 "Stop").
func (s *Sender) Stop() {
	close(s.stop)
	<-s.done
}

// deliver attempts m up to SendRetries times, each with a fresh
// resolve+connect+write+read cycle, sleeping BackoffDelay between
// failures (spec.md §4.3 steps 2-4).
func (s *Sender) deliver(ctx context.Context, m protocol.Message) {
	for attempt := 0; attempt < SendRetries; attempt++ {
		select {
		case <-s.stop:
			return
		default:
		}

		resp, err := s.attempt(ctx, m)
		if err != nil {
			log.Debugw("send attempt failed", "address", s.address, "attempt", attempt, "err", err)
			s.hooks.OnAttempt(s.address, false)
			if attempt == SendRetries-1 {
				break
			}
			select {
			case <-time.After(BackoffDelay):
			case <-s.stop:
				return
			}
			continue
		}

		s.hooks.OnAttempt(s.address, true)
		s.handleResponse(m, resp)
		return
	}

	// Every attempt failed to produce a response: stash for replay
	// (spec.md §4.3 step 5).
	s.stash.Put(m)
}

// attempt performs one resolve/connect/write/read cycle.
func (s *Sender) attempt(parent context.Context, m protocol.Message) (protocol.Message, error) {
	ctx, cancel := context.WithTimeout(parent, DefaultTimeout)
	defer cancel()

	sess := s.session.get()
	if sess == nil {
		return protocol.Message{}, errors.New("sender: no active session")
	}

	dest, err := s.resolver.Resolve(ctx, s.address)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("resolve %s: %w", s.address, err)
	}

	conn, err := sess.StreamConnect(ctx, dest)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("connect %s: %w", s.address, err)
	}
	defer conn.Close()

	wire, err := protocol.Encode(m)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("encode: %w", err)
	}
	if _, err := conn.Write(wire); err != nil {
		return protocol.Message{}, fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, protocol.MaxMessageLength)
	n, err := readWithDeadline(ctx, conn, buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return protocol.Message{}, fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		// A successful write followed by an empty read is treated as a
		// retryable failure by the outer loop (spec.md §9 note 2: "zero-byte
		// read ... consuming retries silently" — behavior preserved).
		return protocol.Message{}, errors.New("sender: empty response")
	}

	resp, decErr := protocol.Decode(buf[:n], s.address)
	if decErr != nil {
		// Response bytes failed to parse: treated as a successful send per
		// spec.md §4.3 step 4 ("log and treat as a successful send").
		log.Warnw("response failed to parse, treating as delivered", "address", s.address, "err", decErr)
		return protocol.Message{}, nil
	}
	return resp, nil
}

// handleResponse implements spec.md §4.3 step 4's response interpretation.
func (s *Sender) handleResponse(sent protocol.Message, resp protocol.Message) {
	switch resp.Code {
	case protocol.OK:
		log.Debugw("delivered", "address", s.address, "uuid", sent.UUID)
	case protocol.UNAUTHORIZED:
		resp.Name = s.name
		s.hooks.OnUnauthorized(resp)
	default:
		log.Debugw("delivered (unparsed or other response)", "address", s.address, "uuid", sent.UUID)
	}
}

func readWithDeadline(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
