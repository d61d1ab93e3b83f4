package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// TorTCP is a Transport that dials peers through a local Tor client's
// SOCKS5 port instead of resolving the onion address directly, so peers
// are actually reached over Tor rather than treated as plain hostnames
// (the fallback tcp.go uses for local testing). Everything past Dial
// (adoption, write, close, buffered reassembly) is identical to TCP, so
// TorTCP embeds it.
type TorTCP struct {
	*TCP
	dialer proxy.Dialer
}

// NewTorTCP constructs a Transport that reaches peers via the SOCKS5 proxy
// at socksAddr (typically Tor's default, "127.0.0.1:9050").
func NewTorTCP(socksAddr string) (*TorTCP, error) {
	d, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("transport: build SOCKS5 dialer: %w", err)
	}
	return &TorTCP{TCP: NewTCP(), dialer: d}, nil
}

// Dial opens a connection to onionID:port through the SOCKS5 proxy and
// adopts it under the embedded TCP transport's fd bookkeeping.
func (t *TorTCP) Dial(ctx context.Context, onionID string, port int) (int, error) {
	addr := fmt.Sprintf("%s:%d", onionID, port)

	type dialResult struct {
		conn net.Conn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := t.dialer.Dial("tcp", addr)
		done <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return 0, &ErrTransport{Op: "dial " + addr, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return 0, &ErrTransport{Op: "dial " + addr, Err: res.err}
		}
		return t.Adopt(res.conn), nil
	}
}

var _ Transport = (*TorTCP)(nil)
