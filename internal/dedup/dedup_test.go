package dedup

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAddThenSeen(t *testing.T) {
	r := New()
	id := uuid.New()
	require.False(t, r.Seen(id))
	require.True(t, r.Add(id))
	require.True(t, r.Seen(id))
}

func TestAddTwiceReturnsFalseSecondTime(t *testing.T) {
	r := New()
	id := uuid.New()
	require.True(t, r.Add(id))
	require.False(t, r.Add(id))
}

func TestEvictionDropsOldestFromSet(t *testing.T) {
	r := New()
	first := uuid.New()
	r.Add(first)
	for i := 0; i < Capacity; i++ {
		r.Add(uuid.New())
	}
	require.False(t, r.Seen(first))
}
