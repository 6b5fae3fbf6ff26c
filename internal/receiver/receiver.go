// Package receiver implements the inbound accept loop and per-connection
// message handler described in spec.md §4.5.
package receiver

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/l-n-s/kote-go/internal/dedup"
	"github.com/l-n-s/kote-go/internal/gateway"
	"github.com/l-n-s/kote-go/internal/protocol"
	"github.com/l-n-s/kote-go/internal/sessionloop"
)

var log = logging.Logger("kote/receiver")

// ReadTimeout bounds a single inbound message read (spec.md §5 "Inbound
// read: 60 s").
const ReadTimeout = 60 * time.Second

// Hooks are the event callbacks the inbound handler dispatches to
// (spec.md §4.5 step 7, §4.7).
type Hooks interface {
	OnPing(m protocol.Message)
	OnAuthorization(m protocol.Message)
	OnPrivateMessage(m protocol.Message)
	OnPublicMessage(m protocol.Message)
	OnUnauthorized(m protocol.Message)
}

// Addressbook is the subset of addressbook.Book the inbound handler
// consults.
type Addressbook interface {
	LookupByAddress(address string) (string, bool)
}

// MarkOnline is called on any successful receive from a known peer
// (spec.md §4.5 step 8, §4.7 mark_online).
type MarkOnline func(address string)

// OnlineGate is the subset of onlinegate.Gate a Receiver waits on.
type OnlineGate interface {
	Wait(done <-chan struct{}) bool
}

// Receiver accepts inbound streams through the session loop's current
// session and dispatches each to a handler (spec.md §4.5).
type Receiver struct {
	loop               *sessionloop.Loop
	gate               OnlineGate
	book               Addressbook
	dedup              *dedup.Ring
	hooks              Hooks
	markOnline         MarkOnline
	ignoreUnauthorized bool
}

// New constructs a Receiver.
func New(loop *sessionloop.Loop, gate OnlineGate, book Addressbook, dd *dedup.Ring, hooks Hooks, markOnline MarkOnline, ignoreUnauthorized bool) *Receiver {
	return &Receiver{
		loop:               loop,
		gate:               gate,
		book:               book,
		dedup:              dd,
		hooks:              hooks,
		markOnline:         markOnline,
		ignoreUnauthorized: ignoreUnauthorized,
	}
}

// Run accepts inbound streams until ctx is cancelled, spawning one handler
// goroutine per connection (spec.md §4.5 "spawns a fresh handler task and
// returns to accept").
func (r *Receiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !r.gate.Wait(ctx.Done()) {
			return
		}

		sess := r.loop.Session()
		if sess == nil {
			if !sleepOrDone(ctx, sessionloop.RestartTimeout) {
				return
			}
			continue
		}

		reader, conn, err := sess.StreamAccept(ctx)
		if err != nil {
			log.Warnw("accept failed, restarting", "err", err)
			if !sleepOrDone(ctx, sessionloop.RestartTimeout) {
				return
			}
			continue
		}

		go r.handle(ctx, reader, conn)
	}
}

// handle implements the per-connection inbound pipeline (spec.md §4.5).
func (r *Receiver) handle(ctx context.Context, reader *bufio.Reader, conn gateway.StreamConn) {
	defer conn.Close()

	destLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	destination := strings.TrimSpace(destLine)

	name, known := r.book.LookupByAddress(destination)
	if !known && r.ignoreUnauthorized {
		return
	}

	buf := make([]byte, protocol.MaxMessageLength)
	n, err := readWithTimeout(reader, buf, ReadTimeout)
	if err != nil {
		return
	}

	m, err := protocol.Decode(buf[:n], destination)
	if err != nil {
		log.Debugw("invalid inbound message", "address", destination, "err", err)
		return
	}
	if known {
		m.Name = name
	}

	if r.dedup.Seen(m.UUID) {
		r.reply(conn, protocol.OK)
		return
	}
	r.dedup.Add(m.UUID)

	switch m.Code {
	case protocol.PING:
		r.reply(conn, protocol.OK)
		conn.Close()
		r.hooks.OnPing(m)
	case protocol.AUTHORIZATION:
		r.reply(conn, protocol.OK)
		conn.Close()
		r.hooks.OnAuthorization(m)
	case protocol.PRIVATE, protocol.PUBLIC, protocol.UNAUTHORIZED:
		if !known {
			r.reply(conn, protocol.UNAUTHORIZED)
			return
		}
		r.reply(conn, protocol.OK)
		conn.Close()
		switch m.Code {
		case protocol.PRIVATE:
			r.hooks.OnPrivateMessage(m)
		case protocol.PUBLIC:
			r.hooks.OnPublicMessage(m)
		case protocol.UNAUTHORIZED:
			r.hooks.OnUnauthorized(m)
		}
	default:
		return
	}

	if known {
		r.markOnline(destination)
	}
}

func (r *Receiver) reply(conn gateway.StreamConn, code protocol.Code) {
	wire, err := protocol.Encode(protocol.New(code, "", ""))
	if err != nil {
		return
	}
	_, _ = conn.Write(wire)
}

func readWithTimeout(r io.Reader, buf []byte, timeout time.Duration) (int, error) {
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
	case <-time.After(timeout):
		return 0, context.DeadlineExceeded
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
