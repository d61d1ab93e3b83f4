package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// TCP is a plain-TCP Transport. It maps the opaque integer fd handles the
// core operates on to real net.Conn values; fd 0 is never issued (it is
// the contacttable sentinel for "empty slot").
type TCP struct {
	mu      sync.Mutex
	conns   map[int]net.Conn
	readers map[int]*bufio.Reader
	next    int64
}

// NewTCP constructs an empty TCP transport.
func NewTCP() *TCP {
	return &TCP{
		conns:   make(map[int]net.Conn),
		readers: make(map[int]*bufio.Reader),
	}
}

// Adopt registers an already-open net.Conn (e.g. one accepted by a
// listener) and returns the fd handle the core should use for it.
func (t *TCP) Adopt(conn net.Conn) int {
	fd := int(atomic.AddInt64(&t.next, 1))
	t.mu.Lock()
	t.conns[fd] = conn
	t.mu.Unlock()
	return fd
}

// Conn returns the net.Conn behind fd, if any.
func (t *TCP) Conn(fd int) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[fd]
	return c, ok
}

// Dial opens a TCP connection to onionID:port and adopts it. Despite the
// onion-shaped address, this dialer resolves it as a plain hostname,
// which is enough for local testing; swap this Transport for one backed
// by a SOCKS5 Tor dialer (see tor.go) to actually route over Tor.
func (t *TCP) Dial(ctx context.Context, onionID string, port int) (int, error) {
	var d net.Dialer
	addr := fmt.Sprintf("%s:%d", onionID, port)
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, &ErrTransport{Op: "dial " + addr, Err: err}
	}
	return t.Adopt(conn), nil
}

// WritePDU writes the full pdu to fd's connection.
func (t *TCP) WritePDU(fd int, pdu []byte) (int, error) {
	conn, ok := t.Conn(fd)
	if !ok {
		return 0, &ErrTransport{Op: "write", Err: fmt.Errorf("unknown fd %d", fd)}
	}
	n, err := conn.Write(pdu)
	if err != nil {
		return n, &ErrTransport{Op: "write", Err: err}
	}
	return n, nil
}

// Close closes fd's connection and forgets it. Closing an unknown fd is a
// no-op, matching contacttable's already-empty-slot semantics.
func (t *TCP) Close(fd int) error {
	t.mu.Lock()
	conn, ok := t.conns[fd]
	delete(t.conns, fd)
	delete(t.readers, fd)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if err := conn.Close(); err != nil {
		return &ErrTransport{Op: "close", Err: err}
	}
	return nil
}

// Reader returns the buffered reader over fd's connection used for
// line-oriented PDU reassembly, creating and caching it on first use so
// repeated calls see previously buffered-but-unread bytes.
func (t *TCP) Reader(fd int) (*bufio.Reader, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.readers[fd]; ok {
		return r, true
	}
	conn, ok := t.conns[fd]
	if !ok {
		return nil, false
	}
	r := bufio.NewReader(conn)
	t.readers[fd] = r
	return r, true
}

var _ Transport = (*TCP)(nil)
