package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/l-n-s/kote-go/internal/kerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := New(PRIVATE, "hi", "dest")
	b, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(b, "dest")
	require.NoError(t, err)
	require.Equal(t, m.Code, got.Code)
	require.Equal(t, m.UUID, got.UUID)
	require.Equal(t, m.Content, got.Content)
}

func TestEncodeThenDecodeIsIdentity(t *testing.T) {
	b, err := Encode(New(OK, "", ""))
	require.NoError(t, err)

	m, err := Decode(b, "")
	require.NoError(t, err)

	b2, err := Encode(m)
	require.NoError(t, err)
	require.Equal(t, b, b2)
}

func TestDecodeBoundaries(t *testing.T) {
	id := uuid.New()
	idBytes, _ := id.MarshalBinary()

	t.Run("length 16 is too short", func(t *testing.T) {
		data := append([]byte{byte(OK)}, idBytes[:15]...)
		_, err := Decode(data, "")
		require.ErrorIs(t, err, kerr.ErrInvalidSize)
	})

	t.Run("length 17 with empty content is ok", func(t *testing.T) {
		data := append([]byte{byte(OK)}, idBytes...)
		m, err := Decode(data, "")
		require.NoError(t, err)
		require.Equal(t, "", m.Content)
	})

	t.Run("length 1024 is ok", func(t *testing.T) {
		content := strings.Repeat("a", MaxMessageLength-17)
		data := append([]byte{byte(OK)}, idBytes...)
		data = append(data, []byte(content)...)
		require.Len(t, data, MaxMessageLength)
		_, err := Decode(data, "")
		require.NoError(t, err)
	})

	t.Run("length 1025 is too long", func(t *testing.T) {
		content := strings.Repeat("a", MaxMessageLength-17+1)
		data := append([]byte{byte(OK)}, idBytes...)
		data = append(data, []byte(content)...)
		_, err := Decode(data, "")
		require.ErrorIs(t, err, kerr.ErrInvalidSize)
	})

	t.Run("code 0 is invalid", func(t *testing.T) {
		data := append([]byte{0}, idBytes...)
		_, err := Decode(data, "")
		require.ErrorIs(t, err, kerr.ErrInvalidCode)
	})

	t.Run("code 7 is invalid", func(t *testing.T) {
		data := append([]byte{7}, idBytes...)
		_, err := Decode(data, "")
		require.ErrorIs(t, err, kerr.ErrInvalidCode)
	})

	t.Run("non utf8 body is invalid", func(t *testing.T) {
		data := append([]byte{byte(PRIVATE)}, idBytes...)
		data = append(data, 0xff, 0xfe)
		_, err := Decode(data, "")
		require.ErrorIs(t, err, kerr.ErrInvalidUTF8)
		require.True(t, errors.Is(err, kerr.ErrInvalidUTF8))
	})
}
