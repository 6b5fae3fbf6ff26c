package sessionloop

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l-n-s/kote-go/internal/gateway"
	"github.com/l-n-s/kote-go/internal/onlinegate"
)

type fakeSession struct {
	done chan struct{}
}

func (s *fakeSession) StreamConnect(ctx context.Context, dest string) (gateway.StreamConn, error) {
	return nil, nil
}
func (s *fakeSession) StreamAccept(ctx context.Context) (*bufio.Reader, gateway.StreamConn, error) {
	return nil, nil, nil
}
func (s *fakeSession) Done() <-chan struct{} { return s.done }
func (s *fakeSession) Close() error          { return nil }

type fakeClient struct {
	sessions chan *fakeSession
}

func (c *fakeClient) CreateSession(ctx context.Context, name string, dest gateway.Destination) (gateway.Session, error) {
	s := &fakeSession{done: make(chan struct{})}
	c.sessions <- s
	return s, nil
}
func (c *fakeClient) DestinationLookup(ctx context.Context, name string) (gateway.Destination, error) {
	return gateway.Destination{Base32: name}, nil
}
func (c *fakeClient) NewDestination(ctx context.Context) (gateway.Destination, error) {
	return gateway.Destination{}, nil
}

func TestLoopSetsGateOnSessionCreate(t *testing.T) {
	client := &fakeClient{sessions: make(chan *fakeSession, 4)}
	gate := onlinegate.New()
	loop := New(client, "kote-abc123", gateway.Destination{}, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	sess := <-client.sessions
	require.Eventually(t, gate.IsSet, time.Second, 5*time.Millisecond)

	close(sess.done)
	require.Eventually(t, func() bool { return !gate.IsSet() }, time.Second, 5*time.Millisecond)
}
