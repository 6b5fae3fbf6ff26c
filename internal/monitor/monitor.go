// Package monitor is the domain-stack local event feed (SPEC_FULL.md §3,
// §4 "internal/monitor"): a loopback HTTP+WebSocket server that lets an
// operator or bridge process observe contact online/offline transitions
// and received messages (private, public, authorization, unauthorized)
// live, grounded on the
// internal/viewer/routes/call.go websocket.Upgrader pattern and
// internal/mq/manager.go's non-blocking listener fan-out.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("kote/monitor")

// Event is one line of the monitor feed.
type Event struct {
	Type      string    `json:"type"`
	Address   string    `json:"address,omitempty"`
	Name      string    `json:"name,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts WebSocket connections on a loopback address and fans out
// every Publish call to all currently connected clients.
type Server struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event

	httpServer *http.Server
}

// New constructs a Server bound to addr (e.g. "127.0.0.1:9191"). It does
// not start listening until Start is called.
func New(addr string) *Server {
	s := &Server{clients: make(map[*websocket.Conn]chan Event)}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWS)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in a background goroutine. Errors after startup
// are logged, not returned, matching the fire-and-forget style of the
// teacher's viewer HTTP server.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("monitor server stopped", "err", err)
		}
	}()
}

// Stop tears down the HTTP server.
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// Publish fans evt out to every connected client, non-blocking: a slow
// client drops events rather than stalling the engine.
func (s *Server) Publish(evt Event) {
	evt.Timestamp = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "err", err)
		return
	}

	ch := make(chan Event, 32)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	for evt := range ch {
		b, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
