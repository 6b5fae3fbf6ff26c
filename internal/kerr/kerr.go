// Package kerr defines the sentinel errors shared across the engine, so
// callers can test error kinds with errors.Is rather than matching on
// wrapped string content.
package kerr

import "errors"

// Protocol/codec errors (spec.md §4.1, §7 Validation).
var (
	ErrInvalidSize    = errors.New("kote: invalid message size")
	ErrInvalidCode    = errors.New("kote: invalid message code")
	ErrInvalidUTF8    = errors.New("kote: invalid utf-8 content")
)

// Address book errors (spec.md §4.2, §7 Validation).
var (
	ErrDuplicate      = errors.New("kote: duplicate name or address")
	ErrInvalidAddress = errors.New("kote: address is not a valid base32 destination")
	ErrUnknownPeer    = errors.New("kote: unknown peer")
)

// Transport-kind errors surfaced by the gateway SDK contract (spec.md §6).
var (
	ErrDuplicatedDestination = errors.New("kote: duplicated destination")
	ErrCantReachPeer         = errors.New("kote: cannot reach peer")
	ErrInvalidKey            = errors.New("kote: invalid key")
	ErrTimeout               = errors.New("kote: timeout")
	ErrKeyNotFound           = errors.New("kote: key not found")
	ErrPeerNotFound          = errors.New("kote: peer not found")
	ErrGateway               = errors.New("kote: gateway error")
	ErrConnection            = errors.New("kote: connection error")
)
