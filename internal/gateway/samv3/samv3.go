// Package samv3 is a minimal client for the SAM v3 text control protocol
// spoken by local anonymous-overlay gateway daemons, implementing the
// gateway.Client/gateway.Session contract (spec.md §6). No example in the
// retrieval pack ships an I2P/SAM client to ground this on — the gateway
// SDK is explicitly named an external collaborator whose contract is
// assumed (spec.md §1) — so this talks the wire protocol directly over
// net/bufio rather than depending on a SAM library; its only third-party
// imports are the shared logger and golang.org/x/crypto/blake2s for
// address derivation (see DESIGN.md).
package samv3

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/crypto/blake2s"

	"github.com/l-n-s/kote-go/internal/gateway"
	"github.com/l-n-s/kote-go/internal/kerr"
)

var log = logging.Logger("kote/samv3")

// Client is a gateway.Client backed by a SAM v3 control socket.
type Client struct {
	addr string
}

// NewClient returns a Client that dials addr (host:port) for every control
// operation.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) dial(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("samv3: dial %s: %w: %v", c.addr, kerr.ErrConnection, err)
	}
	r := bufio.NewReader(conn)
	if _, err := conn.Write([]byte("HELLO VERSION MIN=3.0 MAX=3.3\n")); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("samv3: hello: %w: %v", kerr.ErrConnection, err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("samv3: hello reply: %w: %v", kerr.ErrConnection, err)
	}
	if !strings.Contains(line, "RESULT=OK") {
		conn.Close()
		return nil, nil, fmt.Errorf("samv3: hello rejected: %q: %w", strings.TrimSpace(line), kerr.ErrGateway)
	}
	return conn, r, nil
}

// NewDestination allocates a fresh keypair from the gateway (DEST GENERATE).
func (c *Client) NewDestination(ctx context.Context) (gateway.Destination, error) {
	conn, r, err := c.dial(ctx)
	if err != nil {
		return gateway.Destination{}, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("DEST GENERATE SIGNATURE_TYPE=EdDSA_SHA512_Ed25519\n")); err != nil {
		return gateway.Destination{}, fmt.Errorf("samv3: dest generate: %w: %v", kerr.ErrConnection, err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return gateway.Destination{}, fmt.Errorf("samv3: dest generate reply: %w: %v", kerr.ErrConnection, err)
	}
	fields := parseFields(line)
	priv := fields["PRIV"]
	pub := fields["PUB"]
	if priv == "" || pub == "" {
		return gateway.Destination{}, fmt.Errorf("samv3: dest generate: malformed reply %q: %w", strings.TrimSpace(line), kerr.ErrGateway)
	}

	return gateway.Destination{
		Base32:     b32FromPublic(pub),
		PrivateKey: []byte(priv),
	}, nil
}

// DestinationLookup resolves name (a base32 address, optionally with the
// ".b32.i2p" suffix) to a full Destination via NAMING LOOKUP.
func (c *Client) DestinationLookup(ctx context.Context, name string) (gateway.Destination, error) {
	conn, r, err := c.dial(ctx)
	if err != nil {
		return gateway.Destination{}, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "NAMING LOOKUP NAME=%s\n", name); err != nil {
		return gateway.Destination{}, fmt.Errorf("samv3: naming lookup: %w: %v", kerr.ErrConnection, err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return gateway.Destination{}, fmt.Errorf("samv3: naming lookup reply: %w: %v", kerr.ErrConnection, err)
	}
	fields := parseFields(line)
	if res := fields["RESULT"]; res != "" && res != "OK" {
		switch res {
		case "KEY_NOT_FOUND":
			return gateway.Destination{}, fmt.Errorf("samv3: lookup %s: %w", name, kerr.ErrKeyNotFound)
		case "INVALID_KEY":
			return gateway.Destination{}, fmt.Errorf("samv3: lookup %s: %w", name, kerr.ErrInvalidKey)
		default:
			return gateway.Destination{}, fmt.Errorf("samv3: lookup %s: %s: %w", name, res, kerr.ErrGateway)
		}
	}
	value := fields["VALUE"]
	if value == "" {
		return gateway.Destination{}, fmt.Errorf("samv3: lookup %s: empty VALUE: %w", name, kerr.ErrGateway)
	}
	return gateway.Destination{Base32: b32FromPublic(value)}, nil
}

// CreateSession opens a SESSION CREATE bound to dest under sessionName.
func (c *Client) CreateSession(ctx context.Context, sessionName string, dest gateway.Destination) (gateway.Session, error) {
	conn, r, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	destField := "TRANSIENT"
	if len(dest.PrivateKey) > 0 {
		destField = string(dest.PrivateKey)
	}

	cmd := fmt.Sprintf("SESSION CREATE STYLE=STREAM ID=%s DESTINATION=%s\n", sessionName, destField)
	if _, err := conn.Write([]byte(cmd)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("samv3: session create: %w: %v", kerr.ErrConnection, err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("samv3: session create reply: %w: %v", kerr.ErrConnection, err)
	}
	fields := parseFields(line)
	if res := fields["RESULT"]; res != "" && res != "OK" {
		conn.Close()
		if res == "DUPLICATED_DEST" {
			return nil, fmt.Errorf("samv3: %w", kerr.ErrDuplicatedDestination)
		}
		return nil, fmt.Errorf("samv3: session create: %s: %w", res, kerr.ErrGateway)
	}

	log.Infow("session created", "name", sessionName)

	s := &session{
		client:      c,
		name:        sessionName,
		ctrl:        conn,
		ctrlReader:  r,
		done:        make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

// session is a gateway.Session backed by a SAM v3 control socket.
type session struct {
	client     *Client
	name       string
	ctrl       net.Conn
	ctrlReader *bufio.Reader

	closeOnce sync.Once
	done      chan struct{}
}

// watch blocks on the control connection until it yields EOF or an error,
// then closes done — the session loop (internal/sessionloop) treats that
// as session death (spec.md §4.4).
func (s *session) watch() {
	buf := make([]byte, 1)
	for {
		if _, err := s.ctrlReader.Read(buf); err != nil {
			s.closeOnce.Do(func() { close(s.done) })
			return
		}
	}
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

func (s *session) Close() error {
	err := s.ctrl.Close()
	s.closeOnce.Do(func() { close(s.done) })
	return err
}

// StreamConnect opens a fresh outbound connection through the gateway to
// targetDestination (STREAM CONNECT, spec.md §6).
func (s *session) StreamConnect(ctx context.Context, targetDestination string) (gateway.StreamConn, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", s.client.addr)
	if err != nil {
		return nil, fmt.Errorf("samv3: stream connect dial: %w: %v", kerr.ErrConnection, err)
	}
	r := bufio.NewReader(conn)
	if _, err := conn.Write([]byte("HELLO VERSION MIN=3.0 MAX=3.3\n")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("samv3: stream connect hello: %w: %v", kerr.ErrConnection, err)
	}
	if _, err := r.ReadString('\n'); err != nil {
		conn.Close()
		return nil, fmt.Errorf("samv3: stream connect hello reply: %w: %v", kerr.ErrConnection, err)
	}

	cmd := fmt.Sprintf("STREAM CONNECT ID=%s DESTINATION=%s SILENT=false\n", s.name, targetDestination)
	if _, err := conn.Write([]byte(cmd)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("samv3: stream connect: %w: %v", kerr.ErrConnection, err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("samv3: stream connect reply: %w: %v", kerr.ErrConnection, err)
	}
	fields := parseFields(line)
	if res := fields["RESULT"]; res != "" && res != "OK" {
		conn.Close()
		switch res {
		case "CANT_REACH_PEER":
			return nil, fmt.Errorf("samv3: %w", kerr.ErrCantReachPeer)
		case "TIMEOUT":
			return nil, fmt.Errorf("samv3: %w", kerr.ErrTimeout)
		case "INVALID_KEY":
			return nil, fmt.Errorf("samv3: %w", kerr.ErrInvalidKey)
		default:
			return nil, fmt.Errorf("samv3: stream connect: %s: %w", res, kerr.ErrGateway)
		}
	}

	return &streamConn{conn: conn, reader: r}, nil
}

// StreamAccept blocks for one inbound stream through the gateway (STREAM
// ACCEPT, spec.md §6).
func (s *session) StreamAccept(ctx context.Context) (*bufio.Reader, gateway.StreamConn, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", s.client.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("samv3: stream accept dial: %w: %v", kerr.ErrConnection, err)
	}
	r := bufio.NewReader(conn)
	if _, err := conn.Write([]byte("HELLO VERSION MIN=3.0 MAX=3.3\n")); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("samv3: stream accept hello: %w: %v", kerr.ErrConnection, err)
	}
	if _, err := r.ReadString('\n'); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("samv3: stream accept hello reply: %w: %v", kerr.ErrConnection, err)
	}

	cmd := fmt.Sprintf("STREAM ACCEPT ID=%s SILENT=false\n", s.name)
	if _, err := conn.Write([]byte(cmd)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("samv3: stream accept: %w: %v", kerr.ErrConnection, err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("samv3: stream accept reply: %w: %v", kerr.ErrConnection, err)
	}
	fields := parseFields(line)
	if res := fields["RESULT"]; res != "" && res != "OK" {
		conn.Close()
		return nil, nil, fmt.Errorf("samv3: stream accept: %s: %w", res, kerr.ErrGateway)
	}

	// The remote destination arrives as the first newline-terminated line
	// on the now-promoted data stream (spec.md §4.5, §6).
	return r, &streamConn{conn: conn, reader: r}, nil
}

// streamConn adapts a net.Conn + its pre-read buffer into gateway.StreamConn.
type streamConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (s *streamConn) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *streamConn) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *streamConn) Close() error                { return s.conn.Close() }

// GenSessionName produces an 11-character identifier "kote-<6 hex>"
// (spec.md §3 "Engine state").
func GenSessionName(prefix string) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s-%02x%02x%02x", prefix, b[0], b[1], b[2])
}

// parseFields splits a SAM reply line of the form
// "TOKEN TOKEN KEY=VALUE KEY=VALUE ...\n" into a KEY->VALUE map.
func parseFields(line string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Fields(strings.TrimSpace(line)) {
		if i := strings.IndexByte(tok, '='); i >= 0 {
			out[tok[:i]] = tok[i+1:]
		}
	}
	return out
}

// b32FromPublic derives the 52-character base32 destination id from a
// base64-encoded destination blob, the way I2P clients compute it: the
// lowercase, unpadded base32 of a 256-bit digest of the raw destination
// bytes. Hashed with blake2s rather than sha256 — the same hash family the
// pack's wireguard-go device package (cookie.go, noise-protocol.go) uses
// for its own key material. Every base32 address this client returns
// (DEST GENERATE and NAMING LOOKUP replies alike) is derived here.
func b32FromPublic(pub string) string {
	raw, err := base64.StdEncoding.DecodeString(pub)
	if err != nil {
		raw = []byte(pub)
	}
	sum := blake2s.Sum256(raw)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(sum[:]))
}
