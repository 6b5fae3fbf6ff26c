package receiver

import (
	"bufio"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l-n-s/kote-go/internal/dedup"
	"github.com/l-n-s/kote-go/internal/protocol"
)

type fakeConn struct {
	in  *bytes.Buffer
	out bytes.Buffer
}

func (c *fakeConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *fakeConn) Write(p []byte) (int, error) { return c.out.Write(p) }
func (c *fakeConn) Close() error                { return nil }

type fakeBook struct {
	known map[string]string
}

func (b fakeBook) LookupByAddress(address string) (string, bool) {
	name, ok := b.known[address]
	return name, ok
}

type recordingHooks struct {
	private []protocol.Message
	unauth  []protocol.Message
	ping    []protocol.Message
	auth    []protocol.Message
	public  []protocol.Message
}

func (h *recordingHooks) OnPing(m protocol.Message)          { h.ping = append(h.ping, m) }
func (h *recordingHooks) OnAuthorization(m protocol.Message) { h.auth = append(h.auth, m) }
func (h *recordingHooks) OnPrivateMessage(m protocol.Message) {
	h.private = append(h.private, m)
}
func (h *recordingHooks) OnPublicMessage(m protocol.Message) { h.public = append(h.public, m) }
func (h *recordingHooks) OnUnauthorized(m protocol.Message)  { h.unauth = append(h.unauth, m) }

func newHandlerFixture(known map[string]string, ignoreUnauthorized bool) (*Receiver, *recordingHooks, []string) {
	hooks := &recordingHooks{}
	var markedOnline []string
	r := New(nil, nil, fakeBook{known: known}, dedup.New(), hooks, func(addr string) {
		markedOnline = append(markedOnline, addr)
	}, ignoreUnauthorized)
	return r, hooks, markedOnline
}

func sendFrame(t *testing.T, r *Receiver, destLine string, m protocol.Message) *fakeConn {
	t.Helper()
	wire, err := protocol.Encode(m)
	require.NoError(t, err)
	in := bytes.NewBufferString(destLine + "\n")
	in.Write(wire)
	conn := &fakeConn{in: in}
	r.handle(context.Background(), bufio.NewReader(in), conn)
	return conn
}

func TestKnownPeerPrivateMessageDispatches(t *testing.T) {
	r, hooks, _ := newHandlerFixture(map[string]string{"destA": "alice"}, false)
	sendFrame(t, r, "destA", protocol.New(protocol.PRIVATE, "hi", ""))
	require.Len(t, hooks.private, 1)
	require.Equal(t, "hi", hooks.private[0].Content)
	require.Equal(t, "alice", hooks.private[0].Name)
}

func TestUnknownPeerPrivateMessageGetsUnauthorized(t *testing.T) {
	r, hooks, _ := newHandlerFixture(map[string]string{}, false)
	conn := sendFrame(t, r, "destX", protocol.New(protocol.PRIVATE, "hi", ""))
	require.Empty(t, hooks.private)

	resp, err := protocol.Decode(conn.out.Bytes(), "")
	require.NoError(t, err)
	require.Equal(t, protocol.UNAUTHORIZED, resp.Code)
}

func TestIgnoreUnauthorizedClosesSilently(t *testing.T) {
	r, hooks, _ := newHandlerFixture(map[string]string{}, true)
	conn := sendFrame(t, r, "destX", protocol.New(protocol.PRIVATE, "hi", ""))
	require.Empty(t, hooks.private)
	require.Equal(t, 0, conn.out.Len())
}

func TestDuplicateUUIDDispatchesOnce(t *testing.T) {
	r, hooks, _ := newHandlerFixture(map[string]string{"destA": "alice"}, false)
	m := protocol.New(protocol.PRIVATE, "hi", "")

	sendFrame(t, r, "destA", m)
	sendFrame(t, r, "destA", m)

	require.Len(t, hooks.private, 1)
}

func TestPingFromUnknownPeerDispatches(t *testing.T) {
	r, hooks, _ := newHandlerFixture(map[string]string{}, false)
	conn := sendFrame(t, r, "destX", protocol.New(protocol.PING, "", ""))
	require.Len(t, hooks.ping, 1)

	resp, err := protocol.Decode(conn.out.Bytes(), "")
	require.NoError(t, err)
	require.Equal(t, protocol.OK, resp.Code)
}
