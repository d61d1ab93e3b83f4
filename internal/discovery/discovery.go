// Package discovery implements the gossip half of the core: advertising a
// node's known contacts to a peer, and folding a peer's advertisement back
// into the local table, dialing anything not already known.
package discovery

import (
	"context"

	"github.com/dchatmesh/dchat-core/internal/contacttable"
	"github.com/dchatmesh/dchat-core/internal/discoverpdu"
	"github.com/dchatmesh/dchat-core/internal/metrics"
	"github.com/dchatmesh/dchat-core/internal/transport"
	"github.com/dchatmesh/dchat-core/internal/ui"
	"github.com/dchatmesh/dchat-core/pkg/dlog"
)

// Logger is the subset of *dlog.Sink discovery needs; tests can supply a
// no-op implementation instead of a real sink.
type Logger interface {
	Log(level dlog.Level, msg string, fielders ...dlog.Fielder)
}

// SendContacts builds a control/discover PDU advertising self plus every
// established slot in t except toIndex, and writes it to toIndex's
// connection via w. It returns the number of bytes written. A per-contact
// serialize failure (invalid onion/port) is logged and the contact is
// omitted from the payload; it never aborts the send. A write failure is
// returned as *transport.ErrTransport, with toIndex left for the caller to
// delete — SendContacts never mutates t itself.
func SendContacts(ctx context.Context, t *contacttable.Table, self discoverpdu.SelfDescriptor, toIndex int, w transport.Writer, log Logger) (int, error) {
	var lines []discoverpdu.ContactLine
	for _, ic := range t.Snapshot() {
		if ic.Index == toIndex {
			continue
		}
		if !ic.Contact.Established() {
			continue
		}
		lines = append(lines, discoverpdu.ContactLine{OnionID: ic.Contact.OnionID, LPort: ic.Contact.LPort})
	}

	onSkip := func(c discoverpdu.ContactLine, err error) {
		if log != nil {
			log.Log(dlog.Warning, "skipping unadvertisable contact", dlog.Fields{
				"onion_id": c.OnionID,
				"lport":    c.LPort,
				"error":    err.Error(),
			})
		}
	}

	pdu, err := discoverpdu.Encode(self, lines, onSkip)
	if err != nil {
		return 0, err
	}

	recipient, ok := t.Get(toIndex)
	if !ok {
		return 0, &transport.ErrTransport{Op: "send contacts", Err: contacttable.ErrIndexOutOfBounds}
	}

	n, err := w.WritePDU(recipient.FD, pdu)
	if err != nil {
		return n, err
	}
	return n, nil
}

// ReceiveContacts parses pdu as a control/discover message and folds its
// contact lines into t, dialing any peer not already known. Lines are
// processed strictly in order: dial and table update for line k complete
// before line k+1 begins.
// A malformed line is logged at Warning and counted but does not stop
// iteration. A contact already present (or matching self) is skipped and
// does not count toward newCount. Dial failures are logged and counted; the contact is
// left out of the table so a later PDU can retry it. Applying the same PDU
// a second time — once every contact it names is already known — returns
// newCount == 0.
func ReceiveContacts(ctx context.Context, t *contacttable.Table, pdu []byte, dialer transport.Dialer, log Logger) (newCount int, err error) {
	parsed, err := discoverpdu.Parse(pdu)
	if err != nil {
		return 0, err
	}

	var malformed int
	start := 0
	for start < parsed.ContentLength {
		end, raw, lineErr := discoverpdu.GetContentPart(parsed, start, '\n')
		if lineErr != nil {
			// No trailing delimiter on the final line: treat the remainder
			// as the last line and stop after processing it.
			raw = parsed.Content[start:parsed.ContentLength]
			end = parsed.ContentLength
		}
		start = end + 1

		if len(raw) == 0 {
			continue
		}

		line, parseErr := discoverpdu.LineToContact(string(raw))
		if parseErr != nil {
			malformed++
			if log != nil {
				log.Log(dlog.Warning, "skipping malformed contact line", dlog.Fields{
					"line":  string(raw),
					"error": parseErr.Error(),
				})
			}
			continue
		}

		candidate := contacttable.Contact{OnionID: line.OnionID, LPort: line.LPort}
		found := t.FindContact(candidate, 0)
		if found != contacttable.NotFound {
			continue
		}

		fd, dialErr := dialer.Dial(ctx, line.OnionID, line.LPort)
		if dialErr != nil {
			malformed++
			metrics.DialFailure()
			if log != nil {
				log.Log(dlog.Warning, "dial failed, deferring contact", dlog.Fields{
					"onion_id": line.OnionID,
					"lport":    line.LPort,
					"error":    dialErr.Error(),
				})
			}
			continue
		}

		idx, addErr := t.AddContact(fd, false)
		if addErr != nil {
			// OutOfMemory is fatal: AddContact only ever fails
			// when the table cannot grow, and there is no recovery from
			// that, so the process terminates rather than dropping the
			// dialed contact and continuing in a half-grown state.
			if log != nil {
				log.Log(dlog.Crit, "out of memory growing contact table", dlog.Fields{
					"onion_id": line.OnionID,
					"lport":    line.LPort,
					"error":    addErr.Error(),
				})
			}
			ui.Fatal("out of memory growing contact table: " + addErr.Error())
			return newCount, addErr
		}
		if setErr := t.SetIdentity(idx, line.OnionID, line.LPort, ""); setErr != nil {
			malformed++
			continue
		}
		newCount++
	}

	if malformed > 0 {
		return newCount, errMalformedLines(malformed)
	}
	return newCount, nil
}

type errMalformedLines int

func (e errMalformedLines) Error() string {
	if e == 1 {
		return "discovery: 1 contact line could not be applied"
	}
	return "discovery: contact lines could not be applied"
}
