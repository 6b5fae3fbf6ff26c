// Package gateway defines the contract the engine consumes from the local
// overlay gateway daemon (spec.md §6 "Gateway SDK (consumed)"). The
// gateway/overlay SDK itself is explicitly out of scope (spec.md §1); this
// package only names the seam. internal/gateway/samv3 provides one
// concrete implementation.
package gateway

import (
	"bufio"
	"context"
	"io"
)

// Destination is a long-lived cryptographic identity on the overlay
// (GLOSSARY "Destination"): its base32 form is also its transport address.
type Destination struct {
	// Base32 is the 52-character public identifier.
	Base32 string
	// PrivateKey is the raw private key material as persisted to disk
	// (spec.md §6 "Persisted state").
	PrivateKey []byte
}

// StreamConn is a single request/response connection opened through a
// Session, used for exactly one outbound send or one inbound message
// (spec.md §6 "Wire (per peer connection)").
type StreamConn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Session is a per-process control channel to the local overlay gateway,
// bound to a session name and a Destination (GLOSSARY "Session").
type Session interface {
	// StreamConnect opens an outbound stream to targetDestination.
	StreamConnect(ctx context.Context, targetDestination string) (StreamConn, error)

	// StreamAccept blocks until one inbound stream arrives. The returned
	// reader's first line (newline-terminated) is the remote peer's base32
	// destination, as required by spec.md §4.5 step "reads the remote
	// destination line ... provided by the transport".
	StreamAccept(ctx context.Context) (*bufio.Reader, StreamConn, error)

	// Done is closed when the underlying control connection dies,
	// signalling the session loop to clear the online gate and restart
	// (spec.md §4.4).
	Done() <-chan struct{}

	// Close tears down the session's control connection.
	Close() error
}

// Client is the gateway operations a Session is created from (spec.md §6).
type Client interface {
	// CreateSession opens a new control session bound to dest under
	// sessionName.
	CreateSession(ctx context.Context, sessionName string, dest Destination) (Session, error)

	// DestinationLookup resolves a base32 (or "<b32>.b32.i2p") name to a
	// full Destination record.
	DestinationLookup(ctx context.Context, name string) (Destination, error)

	// NewDestination allocates a fresh Destination from the gateway.
	NewDestination(ctx context.Context) (Destination, error)
}
