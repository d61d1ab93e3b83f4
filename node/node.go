// Package node wires the gossip core into one runnable process: a TCP
// listener accepting inbound peers, an outbound dial of the configured
// bootstrap contact, and a per-connection read loop that feeds incoming
// bytes through internal/discoverpdu and internal/discovery and resolves
// simultaneous-connect races through internal/dupresolve. It is the
// single place that owns the contact table and drives its mutations.
package node

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dchatmesh/dchat-core/config"
	"github.com/dchatmesh/dchat-core/internal/chatwire"
	"github.com/dchatmesh/dchat-core/internal/contacttable"
	"github.com/dchatmesh/dchat-core/internal/discoverpdu"
	"github.com/dchatmesh/dchat-core/internal/discovery"
	"github.com/dchatmesh/dchat-core/internal/dupresolve"
	"github.com/dchatmesh/dchat-core/internal/metrics"
	"github.com/dchatmesh/dchat-core/internal/transport"
	"github.com/dchatmesh/dchat-core/internal/ui"
	"github.com/dchatmesh/dchat-core/pkg/dlog"
	"github.com/dchatmesh/dchat-core/pkg/stop"
)

// fullTransport is the subset of internal/transport a Node actually needs:
// the Dialer/Writer/Closer seam, plus adopting an already-open net.Conn
// (for inbound accepts) and handing back a buffered reader for a given fd
// (for PDU reassembly). *transport.TCP and *transport.TorTCP both satisfy
// it.
type fullTransport interface {
	transport.Transport
	Adopt(conn net.Conn) int
	Reader(fd int) (*bufio.Reader, bool)
}

// Node owns one process's contact table, transport, and logging sink.
// All table mutations are serialized behind mu, since the accept and
// per-connection read loops run on separate goroutines.
type Node struct {
	mu    sync.Mutex
	table *contacttable.Table
	tr    fullTransport
	log   *dlog.Sink
	self  discoverpdu.SelfDescriptor

	listenAddr    string
	bootstrapAddr string
	metricsAddr   string

	listener net.Listener
	started  map[int]bool
	stopG    *stop.Group
}

// New constructs a Node from a parsed configuration file and a logging
// sink. It does not yet listen or dial; call Run for that.
func New(cfg *config.File, log *dlog.Sink) (*Node, error) {
	self := discoverpdu.SelfDescriptor{
		OnionID: cfg.Node.Me.OnionID,
		LPort:   cfg.Node.Me.LPort,
		Name:    cfg.Node.Me.Name,
	}
	me := contacttable.Contact{OnionID: self.OnionID, LPort: self.LPort}

	discoverpdu.OnionAddrLen = cfg.OnionAddressLen()

	tr, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}

	initContacts := cfg.Node.InitContacts
	if initContacts < 1 {
		initContacts = config.DefaultInitContacts
	}

	return &Node{
		table:         contacttable.New(initContacts, me),
		tr:            tr,
		log:           log,
		self:          self,
		listenAddr:    cfg.Node.ListenAddr,
		bootstrapAddr: cfg.Node.BootstrapAddr,
		metricsAddr:   cfg.Node.MetricsAddr,
		started:       make(map[int]bool),
		stopG:         stop.NewGroup(),
	}, nil
}

func buildTransport(cfg *config.File) (fullTransport, error) {
	switch cfg.Node.Transport.Type {
	case "", "tcp":
		return transport.NewTCP(), nil
	case "tor":
		return transport.NewTorTCP(cfg.Node.Transport.SocksAddr)
	default:
		return nil, fmt.Errorf("node: unknown transport type %q", cfg.Node.Transport.Type)
	}
}

// Run starts the listener and, if configured, dials the bootstrap
// contact, then blocks until ctx is cancelled or the listener fails.
func (n *Node) Run(ctx context.Context) error {
	if n.metricsAddr != "" {
		ms := metrics.NewServer(n.metricsAddr, n.log)
		n.stopG.AddFunc(ms.Stop)
	}

	ln, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return errors.Wrapf(err, "node: listen %s", n.listenAddr)
	}
	n.listener = ln
	n.stopG.AddFunc(func() <-chan error {
		c := make(chan error, 1)
		c <- ln.Close()
		close(c)
		return c
	})

	go n.acceptLoop(ctx)

	if n.bootstrapAddr != "" {
		go n.dialBootstrap(ctx)
	}

	<-ctx.Done()
	return nil
}

// Stop tears down the listener and every open contact socket, in that
// order, mirroring del_contact's guarantee that every fd is closed on
// every path.
func (n *Node) Stop() []error {
	errs := n.stopG.Stop()

	n.mu.Lock()
	defer n.mu.Unlock()
	// Re-snapshot after every deletion: DelContact may shrink the table,
	// which invalidates every other index captured in an earlier
	// snapshot.
	for {
		snap := n.table.Snapshot()
		if len(snap) == 0 {
			break
		}
		if err := n.table.DelContact(snap[0].Index, n.tr.Close); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errs
}

// Bootstrap dial retry tunables. A node joining the mesh while its
// bootstrap contact is itself mid-churn would otherwise be stranded by a
// single refused dial.
var (
	bootstrapWaitTime   = 2 * time.Second
	maxBootstrapRetries = 5
)

func (n *Node) dialBootstrap(ctx context.Context) {
	onion, portStr, err := net.SplitHostPort(n.bootstrapAddr)
	if err != nil {
		n.log.Log(dlog.Error, "invalid bootstrap_addr", dlog.Fields{"addr": n.bootstrapAddr, "error": err.Error()})
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		n.log.Log(dlog.Error, "invalid bootstrap_addr port", dlog.Fields{"addr": n.bootstrapAddr, "error": err.Error()})
		return
	}

	wait := bootstrapWaitTime
	for attempt := 1; ; attempt++ {
		fd, err := n.tr.Dial(ctx, onion, port)
		if err == nil {
			n.handleNewConnection(ctx, fd, false)
			return
		}
		wrapped := errors.Wrapf(err, "dial bootstrap contact %s", n.bootstrapAddr)
		if attempt >= maxBootstrapRetries {
			n.log.Log(dlog.Error, "giving up on bootstrap contact", dlog.Fields{
				"addr":     n.bootstrapAddr,
				"attempts": attempt,
				"error":    wrapped.Error(),
			})
			return
		}
		n.log.Log(dlog.Warning, "bootstrap dial failed, retrying", dlog.Fields{
			"addr":    n.bootstrapAddr,
			"attempt": attempt,
			"error":   wrapped.Error(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			wrapped := errors.Wrap(err, "node: accept")
			n.log.Log(dlog.Error, "accept failed", dlog.Fields{"error": wrapped.Error()})
			return
		}
		fd := n.tr.Adopt(conn)
		n.handleNewConnection(ctx, fd, true)
	}
}

// handleNewConnection registers a freshly opened socket as a temporary
// contact slot, immediately announces our identity and current table to
// it (a newly-opened socket gets the current table on first contact,
// whichever side opened it), and starts reading PDUs from it.
func (n *Node) handleNewConnection(ctx context.Context, fd int, accepted bool) {
	n.mu.Lock()
	idx, err := n.table.AddContact(fd, accepted)
	if err != nil {
		n.mu.Unlock()
		_ = n.tr.Close(fd)
		// OutOfMemory is fatal: the table cannot grow and there is no
		// meaningful recovery, so the process terminates rather than
		// limping on with a contact silently dropped.
		n.log.Log(dlog.Crit, "out of memory growing contact table", dlog.Fields{"error": err.Error()})
		ui.Fatal("out of memory growing contact table: " + err.Error())
		return
	}
	metrics.ObserveTable(n.table.Used(), n.table.Len())
	n.started[fd] = true
	n.mu.Unlock()

	// Start reading before sending: a large enough table could otherwise
	// fill the connection's send buffer and block this call forever
	// waiting for a peer whose own first write is stuck the same way.
	go n.readLoop(ctx, fd)

	n.mu.Lock()
	n.sendContactsLocked(ctx, idx)
	n.mu.Unlock()
}

// readLoop consumes framed PDUs from fd until the connection closes or a
// duplicate resolution removes it, dispatching each one by its
// Content-Type to either the discovery fold-in or the chat handler.
func (n *Node) readLoop(ctx context.Context, fd int) {
	r, ok := n.tr.Reader(fd)
	if !ok {
		return
	}
	for {
		raw, err := readFramedPDU(r)
		if err != nil {
			if err != io.EOF {
				n.log.Log(dlog.Warning, "connection read failed", dlog.Fields{"error": err.Error()})
			}
			n.dropByFD(fd)
			return
		}
		if n.handlePDU(ctx, fd, raw) {
			return
		}
	}
}

// handlePDU dispatches one received frame by its Content-Type header. A
// control/discover frame applies to the table as described below; a
// chat/message frame is handled by handleChat instead and never affects
// the table. It returns true if fd's own slot was removed (by duplicate
// resolution), meaning the caller should stop reading.
func (n *Node) handlePDU(ctx context.Context, fd int, raw []byte) (removed bool) {
	parsed, err := discoverpdu.Parse(raw)
	if err != nil {
		n.log.Log(dlog.Warning, "malformed frame", dlog.Fields{"error": err.Error()})
		return false
	}

	switch parsed.ContentType {
	case chatwire.ContentType:
		n.handleChat(raw)
		return false
	case discoverpdu.ContentType:
		// handled below
	default:
		n.log.Log(dlog.Warning, "unknown content type", dlog.Fields{"content_type": parsed.ContentType})
		return false
	}

	// A control/discover frame applies to the contact table: on first
	// contact it fills in the sender's identity and runs duplicate
	// resolution, then folds the payload's contact lines in via
	// internal/discovery, dialing anything unknown.
	n.mu.Lock()
	idx := n.indexOfFDLocked(fd)
	if idx < 0 {
		n.mu.Unlock()
		return true
	}

	c, _ := n.table.Get(idx)
	if c.Temporary() {
		_ = n.table.SetIdentity(idx, parsed.Sender.OnionID, parsed.Sender.LPort, parsed.Sender.Name)
	}

	toDelete, dup := dupresolve.CheckDuplicates(n.table, idx)
	if dup {
		_ = n.table.DelContact(toDelete, n.tr.Close)
		metrics.DuplicateResolved()
		metrics.ObserveTable(n.table.Used(), n.table.Len())
	}
	selfWasRemoved := dup && toDelete == idx
	n.mu.Unlock()

	if selfWasRemoved {
		return true
	}

	// The table is logically owned by a single event loop with dial and
	// write as the only suspension points; on a goroutine-per-connection
	// runtime that means holding one mutex across the whole fold-in,
	// dials included, not just the pure table mutations.
	n.mu.Lock()
	newCount, rcErr := discovery.ReceiveContacts(ctx, n.table, raw, n.tr, n.log)
	metrics.ObserveTable(n.table.Used(), n.table.Len())
	n.mu.Unlock()

	metrics.ContactsReceived(newCount)
	if rcErr != nil {
		n.log.Log(dlog.Warning, "some gossiped contacts could not be applied", dlog.Fields{"error": rcErr.Error()})
	}

	n.startReadersForNewContacts(ctx)
	return false
}

// handleChat parses a received chat/message frame and surfaces it through
// the external UI sink, layered on the same framing discipline as
// control/discover without ever touching the contact table. The mesh is
// fully connected, so every peer hears a message directly from its origin;
// frames carry no dedup id, and relaying a copy onward would echo it
// around the mesh forever.
func (n *Node) handleChat(raw []byte) {
	msg, err := chatwire.Parse(raw)
	if err != nil {
		n.log.Log(dlog.Warning, "malformed chat frame", dlog.Fields{"error": err.Error()})
		return
	}

	name := msg.SenderName
	if name == "" {
		name = msg.SenderOnionID
	}
	ui.Log("chat", fmt.Sprintf("<%s> %s", name, msg.Text))
}

// SendChat encodes text as a chat/message frame from this node's own
// identity and floods it to every established contact (chat is broadcast
// to everyone known).
func (n *Node) SendChat(text string) error {
	pdu, err := chatwire.Encode(n.self.OnionID, n.self.Name, text)
	if err != nil {
		return err
	}
	n.floodChat(pdu)
	return nil
}

// floodChat writes pdu to every established contact. Write failures are
// logged per-recipient and do not stop the flood.
func (n *Node) floodChat(pdu []byte) {
	n.mu.Lock()
	var targets []int
	for _, ic := range n.table.Snapshot() {
		if ic.Contact.Established() {
			targets = append(targets, ic.Contact.FD)
		}
	}
	n.mu.Unlock()

	for _, fd := range targets {
		if _, err := n.tr.WritePDU(fd, pdu); err != nil {
			n.log.Log(dlog.Warning, "failed to relay chat message", dlog.Fields{"error": err.Error()})
		}
	}
}

// sendContactsLocked sends our current table to toIndex. A transport
// failure means the recipient's connection is unusable, so its slot is
// deleted here, per the caller-deletes-on-transport-error contract
// internal/discovery documents. Callers must hold mu.
func (n *Node) sendContactsLocked(ctx context.Context, toIndex int) {
	sent := 0
	for _, ic := range n.table.Snapshot() {
		if ic.Index != toIndex && ic.Contact.Established() {
			sent++
		}
	}

	if _, err := discovery.SendContacts(ctx, n.table, n.self, toIndex, n.tr, n.log); err != nil {
		n.log.Log(dlog.Warning, "failed to send contacts, dropping recipient", dlog.Fields{"error": err.Error()})
		if delErr := n.table.DelContact(toIndex, n.tr.Close); delErr != nil {
			n.log.Log(dlog.Warning, "failed to delete contact", dlog.Fields{"error": delErr.Error()})
		}
		metrics.ObserveTable(n.table.Used(), n.table.Len())
		return
	}
	metrics.ContactsSent(sent)
}

// startReadersForNewContacts claims every table slot whose fd has no
// goroutine yet — the contacts internal/discovery dialed while folding in
// a gossiped payload — starting a readLoop for each and then announcing our
// identity and table to it, the same read-before-send handshake
// handleNewConnection runs for accepted and bootstrap connections.
func (n *Node) startReadersForNewContacts(ctx context.Context) {
	n.mu.Lock()
	var fresh []int
	for _, ic := range n.table.Snapshot() {
		if ic.Contact.FD != 0 && !n.started[ic.Contact.FD] {
			n.started[ic.Contact.FD] = true
			fresh = append(fresh, ic.Contact.FD)
		}
	}
	n.mu.Unlock()

	for _, fd := range fresh {
		go n.readLoop(ctx, fd)
	}
	for _, fd := range fresh {
		n.mu.Lock()
		// Re-resolve by fd each time: the previous send may have deleted a
		// slot (and shrunk the table) on a transport failure.
		if idx := n.indexOfFDLocked(fd); idx >= 0 {
			n.sendContactsLocked(ctx, idx)
		}
		n.mu.Unlock()
	}
}

// dropByFD deletes the slot currently holding fd, if any.
func (n *Node) dropByFD(fd int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx := n.indexOfFDLocked(fd)
	if idx < 0 {
		return
	}
	if err := n.table.DelContact(idx, n.tr.Close); err != nil {
		n.log.Log(dlog.Warning, "failed to delete contact", dlog.Fields{"error": err.Error()})
	}
	metrics.ObserveTable(n.table.Used(), n.table.Len())
}

// indexOfFDLocked scans the table for the slot currently holding fd.
// Callers must hold mu. Returns -1 if not found (e.g. the slot was
// already deleted by a racing duplicate resolution).
func (n *Node) indexOfFDLocked(fd int) int {
	for i := 0; i < n.table.Len(); i++ {
		c, ok := n.table.Get(i)
		if ok && c.FD == fd {
			return i
		}
	}
	return -1
}

// readFramedPDU reads one full header-then-payload frame from a streaming
// connection — control/discover or chat/message alike, since both share
// the same framing grammar — up to and including the blank-line
// terminator, then exactly Content-Length content bytes. Unlike
// discoverpdu.Parse, which operates on an already-fully-buffered slice
// (as frontend/udp does for a single datagram), this reassembles a frame
// off a byte stream one line at a time.
func readFramedPDU(r *bufio.Reader) ([]byte, error) {
	var header strings.Builder
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		header.WriteString(line)
		if line == "\n" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			n, convErr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:")))
			if convErr == nil {
				contentLength = n
			}
		}
	}
	if contentLength < 0 {
		return nil, discoverpdu.ErrMalformedFrame
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, err
	}

	out := make([]byte, 0, header.Len()+len(content))
	out = append(out, header.String()...)
	out = append(out, content...)
	return out, nil
}
