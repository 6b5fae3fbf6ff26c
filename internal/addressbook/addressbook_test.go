package addressbook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l-n-s/kote-go/internal/kerr"
)

const addrA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const addrB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestIsValidAddress(t *testing.T) {
	require.True(t, IsValidAddress(addrA))
	require.False(t, IsValidAddress(addrA[:51]))
	require.False(t, IsValidAddress(addrA+"!"))
}

func TestInsertLookupBijection(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert("alice", addrA))

	addr, ok := b.LookupByName("alice")
	require.True(t, ok)
	require.Equal(t, addrA, addr)

	name, ok := b.LookupByAddress(addr)
	require.True(t, ok)
	require.Equal(t, "alice", name)
}

func TestInsertRejectsDuplicateNameOrAddress(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert("alice", addrA))

	err := b.Insert("alice", addrB)
	require.ErrorIs(t, err, kerr.ErrDuplicate)

	err = b.Insert("alice2", addrA)
	require.ErrorIs(t, err, kerr.ErrDuplicate)
}

func TestInsertRejectsInvalidAddress(t *testing.T) {
	b := New()
	err := b.Insert("alice", "short")
	require.ErrorIs(t, err, kerr.ErrInvalidAddress)
}

func TestOnlineOfflineAndExpiry(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert("bob", addrB))

	require.False(t, b.IsOnline(addrB))
	b.SetOnline(addrB)
	require.True(t, b.IsOnline(addrB))
	require.Contains(t, b.OnlinePeers(), addrB)
	require.Empty(t, b.ExpiredPeers())

	b.SetOffline(addrB)
	require.False(t, b.IsOnline(addrB))
}

func TestHumansExcludesBotSuffix(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert("alice", addrA))
	require.NoError(t, b.Insert("weatherBot", addrB))

	humans := b.Humans()
	require.Contains(t, humans, addrA)
	require.NotContains(t, humans, addrB)
}

func TestLastSeenHuman(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert("bob", addrB))
	require.Equal(t, "never", b.LastSeenHuman(addrB))

	b.SetOnline(addrB)
	require.Regexp(t, `^0:00:0`, b.LastSeenHuman(addrB))
}

func TestRemoveDropsBothIndexes(t *testing.T) {
	b := New()
	require.NoError(t, b.Insert("alice", addrA))
	b.Remove("alice")

	_, ok := b.LookupByName("alice")
	require.False(t, ok)
	_, ok = b.LookupByAddress(addrA)
	require.False(t, ok)
}
