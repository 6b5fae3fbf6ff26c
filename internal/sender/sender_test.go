package sender

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l-n-s/kote-go/internal/gateway"
	"github.com/l-n-s/kote-go/internal/protocol"
)

type fakeConn struct {
	*bytes.Buffer
	response []byte
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if len(f.response) == 0 {
		return 0, nil
	}
	n := copy(p, f.response)
	f.response = f.response[n:]
	return n, nil
}
func (f *fakeConn) Close() error { return nil }

type fakeSession struct {
	response []byte
}

func (s *fakeSession) StreamConnect(ctx context.Context, dest string) (gateway.StreamConn, error) {
	return &fakeConn{Buffer: &bytes.Buffer{}, response: s.response}, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, address string) (string, error) {
	return address, nil
}

type fakeGate struct{}

func (fakeGate) Wait(done <-chan struct{}) bool { return true }

type fakeHooks struct {
	unauthorized []protocol.Message
	attempts     []bool
}

func (h *fakeHooks) OnUnauthorized(m protocol.Message) {
	h.unauthorized = append(h.unauthorized, m)
}

func (h *fakeHooks) OnAttempt(address string, success bool) {
	h.attempts = append(h.attempts, success)
}

func TestDeliverSuccessDoesNotStash(t *testing.T) {
	ok := protocol.New(protocol.OK, "", "")
	wire, err := protocol.Encode(ok)
	require.NoError(t, err)

	sess := &fakeSession{response: wire}
	hooks := &fakeHooks{}
	s := New("dest", "alice", func() Session { return sess }, fakeResolver{}, fakeGate{}, hooks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	s.Enqueue(protocol.New(protocol.PRIVATE, "hi", "dest"))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, s.StashLen())
}

func TestDeliverUnauthorizedInvokesHook(t *testing.T) {
	unauth := protocol.New(protocol.UNAUTHORIZED, "", "")
	wire, err := protocol.Encode(unauth)
	require.NoError(t, err)

	sess := &fakeSession{response: wire}
	hooks := &fakeHooks{}
	s := New("dest", "alice", func() Session { return sess }, fakeResolver{}, fakeGate{}, hooks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	s.Enqueue(protocol.New(protocol.PRIVATE, "hi", "dest"))
	time.Sleep(50 * time.Millisecond)
	require.Len(t, hooks.unauthorized, 1)
	require.Equal(t, "alice", hooks.unauthorized[0].Name)
}

func TestReplayDrainsStash(t *testing.T) {
	ok := protocol.New(protocol.OK, "", "")
	wire, err := protocol.Encode(ok)
	require.NoError(t, err)

	sess := &fakeSession{response: wire}
	hooks := &fakeHooks{}
	s := New("dest", "alice", func() Session { return sess }, fakeResolver{}, fakeGate{}, hooks)

	s.Stash(protocol.New(protocol.PRIVATE, "x1", "dest"))
	require.Equal(t, 1, s.StashLen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	s.Replay()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, s.StashLen())
}
