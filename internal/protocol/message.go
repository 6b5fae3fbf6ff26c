// Package protocol implements the kote wire message: its typed codes, the
// fixed binary layout, and encode/decode with the validation rules from
// spec.md §4.1.
package protocol

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/l-n-s/kote-go/internal/kerr"
)

// Code identifies the kind of a Message, carried in the first wire byte.
type Code byte

const (
	AUTHORIZATION Code = 1
	PING          Code = 2
	PRIVATE       Code = 3
	PUBLIC        Code = 4
	OK            Code = 5
	UNAUTHORIZED  Code = 6
)

func (c Code) String() string {
	switch c {
	case AUTHORIZATION:
		return "AUTHORIZATION"
	case PING:
		return "PING"
	case PRIVATE:
		return "PRIVATE"
	case PUBLIC:
		return "PUBLIC"
	case OK:
		return "OK"
	case UNAUTHORIZED:
		return "UNAUTHORIZED"
	default:
		return fmt.Sprintf("Code(%d)", byte(c))
	}
}

func validCode(c Code) bool {
	switch c {
	case AUTHORIZATION, PING, PRIVATE, PUBLIC, OK, UNAUTHORIZED:
		return true
	default:
		return false
	}
}

// MaxMessageLength is the maximum encoded wire size of a Message, in bytes.
const MaxMessageLength = 1024

// MinMessageLength is the minimum encoded wire size: 1 code byte + 16 UUID
// bytes, empty content.
const MinMessageLength = 17

// Message is the engine's application-level unit of exchange (spec.md §3).
type Message struct {
	Code Code
	UUID uuid.UUID
	// Content is the UTF-8 payload, possibly empty.
	Content string
	// Destination is the base32 peer id this message is to/from. It is
	// supplied out-of-band by the transport, never encoded on the wire.
	Destination string
	// Name is the local nickname of the sender, populated only on
	// received messages when the sender is a known contact.
	Name string
}

// New constructs a Message with a freshly generated UUID.
func New(code Code, content, destination string) Message {
	return Message{
		Code:        code,
		UUID:        uuid.New(),
		Content:     content,
		Destination: destination,
	}
}

// Encode serializes m to its wire form: 1 byte code, 16 bytes raw UUID,
// then UTF-8 content bytes. It fails with kerr.ErrInvalidCode for an
// unknown code and kerr.ErrInvalidSize when the result would exceed
// MaxMessageLength.
func Encode(m Message) ([]byte, error) {
	if !validCode(m.Code) {
		return nil, fmt.Errorf("encode: %w: %v", kerr.ErrInvalidCode, m.Code)
	}
	content := []byte(m.Content)
	out := make([]byte, 0, 17+len(content))
	out = append(out, byte(m.Code))
	idBytes, err := m.UUID.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode: marshal uuid: %w", err)
	}
	out = append(out, idBytes...)
	out = append(out, content...)
	if len(out) > MaxMessageLength {
		return nil, fmt.Errorf("encode: %w: %d bytes", kerr.ErrInvalidSize, len(out))
	}
	return out, nil
}

// Decode parses raw wire bytes into a Message, attributing destination
// (supplied by the transport out-of-band) to the result on success.
func Decode(data []byte, destination string) (Message, error) {
	n := len(data)
	if n < MinMessageLength || n > MaxMessageLength {
		return Message{}, fmt.Errorf("decode: %w: %d bytes", kerr.ErrInvalidSize, n)
	}

	code := Code(data[0])
	if !validCode(code) {
		return Message{}, fmt.Errorf("decode: %w: %d", kerr.ErrInvalidCode, data[0])
	}

	var id uuid.UUID
	if err := id.UnmarshalBinary(data[1:17]); err != nil {
		return Message{}, fmt.Errorf("decode: unmarshal uuid: %w", err)
	}

	content := data[17:]
	if !utf8.Valid(content) {
		return Message{}, fmt.Errorf("decode: %w", kerr.ErrInvalidUTF8)
	}

	return Message{
		Code:        code,
		UUID:        id,
		Content:     string(content),
		Destination: destination,
	}, nil
}
