// Package transport carries the Chum wire protocol (§6): "transport
// delivers text and binary frames; BLOB streaming uses binary frames until a
// zero-length terminator." Session is the carrier-agnostic abstraction
// internal/chum drives; two concrete carriers are provided (libp2p streams,
// a gorilla/websocket listener) matching spec.md's "transport-agnostic" note
// on §4.8/§4.9 and the supplemented need for something runnable end to end.
package transport

import "context"

// Session is one peer connection, carrying alternating text (JSON request/
// response frames) and binary (BLOB chunk) frames in either direction.
type Session interface {
	// ReadFrame blocks for the next frame. binary reports whether it was a
	// binary-opcode frame; a zero-length binary frame is BLOB streaming's
	// terminator.
	ReadFrame(ctx context.Context) (payload []byte, binary bool, err error)
	WriteText(ctx context.Context, payload []byte) error
	WriteBinary(ctx context.Context, payload []byte) error
	Close() error

	// RemoteID identifies the peer for access-filter lookups and logging.
	RemoteID() string
}

// Listener accepts inbound Sessions (the exporter side of one Chum
// connection per accepted peer).
type Listener interface {
	Accept(ctx context.Context) (Session, error)
	Close() error
	Addr() string
}

// Dialer opens outbound Sessions (the importer side).
type Dialer interface {
	Dial(ctx context.Context, addr string) (Session, error)
}
