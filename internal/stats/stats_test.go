package stats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAttemptAccumulates(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordAttempt("destA", true))
	require.NoError(t, s.RecordAttempt("destA", false))
	require.NoError(t, s.RecordAttempt("destA", true))

	c, ok, err := s.Get("destA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), c.Attempts)
	require.Equal(t, int64(2), c.Successes)
	require.Equal(t, int64(1), c.Failures)
}

func TestGetUnknownAddressReturnsFalse(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get("unknown")
	require.NoError(t, err)
	require.False(t, ok)
}
