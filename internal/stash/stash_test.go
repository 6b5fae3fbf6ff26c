package stash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l-n-s/kote-go/internal/protocol"
)

func TestStashCapacityBoundsAndEviction(t *testing.T) {
	s := New()
	for i := 0; i < PrivateCapacity+5; i++ {
		s.Put(protocol.New(protocol.PRIVATE, "x", "dest"))
	}
	require.LessOrEqual(t, s.Len(), PrivateCapacity)
}

func TestStashDiscardsUnstashableCodes(t *testing.T) {
	s := New()
	s.Put(protocol.New(protocol.OK, "x", "dest"))
	s.Put(protocol.New(protocol.UNAUTHORIZED, "x", "dest"))
	require.Equal(t, 0, s.Len())
}

func TestDrainAllOrderPrivatePublicAuthorization(t *testing.T) {
	s := New()
	pub := protocol.New(protocol.PUBLIC, "pub", "dest")
	priv := protocol.New(protocol.PRIVATE, "priv", "dest")
	auth := protocol.New(protocol.AUTHORIZATION, "auth", "dest")

	s.Put(pub)
	s.Put(priv)
	s.Put(auth)

	drained := s.DrainAll()
	require.Len(t, drained, 3)
	require.Equal(t, protocol.PRIVATE, drained[0].Code)
	require.Equal(t, protocol.PUBLIC, drained[1].Code)
	require.Equal(t, protocol.AUTHORIZATION, drained[2].Code)
	require.Equal(t, 0, s.Len())
}

func TestDrainAllPreservesFIFOWithinBucket(t *testing.T) {
	s := New()
	m1 := protocol.New(protocol.PRIVATE, "x1", "dest")
	m2 := protocol.New(protocol.PRIVATE, "x2", "dest")
	s.Put(m1)
	s.Put(m2)

	drained := s.DrainAll()
	require.Len(t, drained, 2)
	require.Equal(t, "x1", drained[0].Content)
	require.Equal(t, "x2", drained[1].Content)
}
