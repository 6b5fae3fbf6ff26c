// Package sessionloop runs the self-healing overlay session described in
// spec.md §4.4: create a session, flip the online gate open while it
// lives, flip it closed and retry after a back-off once it dies.
package sessionloop

import (
	"context"
	"errors"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/l-n-s/kote-go/internal/gateway"
	"github.com/l-n-s/kote-go/internal/kerr"
	"github.com/l-n-s/kote-go/internal/onlinegate"
)

var log = logging.Logger("kote/sessionloop")

// RestartTimeout is the back-off after a failed or dead session before
// retrying (spec.md §3 SESSION_RESTART_TIMEOUT).
const RestartTimeout = 30 * time.Second

// Loop owns the single long-lived overlay session for the engine. Senders,
// the receiver and the pinger all read Session() concurrently while Run
// replaces it on every restart, so access is mutex-guarded (spec.md §5:
// a parallel-thread host must guard structures single-threaded Python
// left unguarded).
type Loop struct {
	client      gateway.Client
	sessionName string
	dest        gateway.Destination
	gate        *onlinegate.Gate

	mu      sync.Mutex
	current gateway.Session
}

// New constructs a Loop. dest is the local destination the session binds
// to; sessionName is the stable per-process session identifier
// (spec.md §3 "session name").
func New(client gateway.Client, sessionName string, dest gateway.Destination, gate *onlinegate.Gate) *Loop {
	return &Loop{client: client, sessionName: sessionName, dest: dest, gate: gate}
}

// Session returns the currently live session, or nil if none is up.
func (l *Loop) Session() gateway.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Loop) setSession(s gateway.Session) {
	l.mu.Lock()
	l.current = s
	l.mu.Unlock()
}

// Run blocks until ctx is cancelled, maintaining the session (spec.md §4.4).
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if s := l.Session(); s != nil {
				s.Close()
			}
			l.gate.Clear()
			return
		default:
		}

		sess, err := l.client.CreateSession(ctx, l.sessionName, l.dest)
		if err != nil {
			if errors.Is(err, kerr.ErrDuplicatedDestination) {
				log.Warnw("duplicated destination, retrying", "name", l.sessionName)
			} else {
				log.Warnw("session create failed, retrying", "err", err)
			}
			if !sleepOrDone(ctx, RestartTimeout) {
				return
			}
			continue
		}

		l.setSession(sess)
		l.gate.Set()
		log.Infow("session online", "name", l.sessionName)

		select {
		case <-sess.Done():
			log.Warnw("session died, restarting")
		case <-ctx.Done():
			sess.Close()
			l.gate.Clear()
			return
		}

		l.gate.Clear()
		l.setSession(nil)

		if !sleepOrDone(ctx, RestartTimeout) {
			return
		}
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
