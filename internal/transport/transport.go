// Package transport defines the seam between the gossip core and the
// network: dialing a peer, writing a
// PDU to its socket, and closing it. The core depends only on these
// interfaces; internal/transport/tcp.go is the plain-TCP implementation
// used today, and a Tor/onion dialer can satisfy Dialer without either
// internal/discovery or internal/contacttable changing.
package transport

import "context"

// Dialer opens a connection to a peer's listening onion address and port,
// returning an opaque file-descriptor-like handle identifying it.
type Dialer interface {
	Dial(ctx context.Context, onionID string, port int) (fd int, err error)
}

// Writer writes a complete PDU to fd.
type Writer interface {
	WritePDU(fd int, pdu []byte) (n int, err error)
}

// Closer closes fd. Called at most once per fd by contacttable.DelContact.
type Closer interface {
	Close(fd int) error
}

// Transport bundles the three seams a Dialer/Writer/Closer implementation
// provides together, as most real transports (TCP, onion-routed) do.
type Transport interface {
	Dialer
	Writer
	Closer
}

// ErrTransport wraps a dial, write, or close failure reported to the
// caller: the recipient contact's slot is the caller's to
// delete, not this package's.
type ErrTransport struct {
	Op  string
	Err error
}

func (e *ErrTransport) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }

func (e *ErrTransport) Unwrap() error { return e.Err }
