// Package discoverpdu implements the wire codec for the control/discover
// PDU: a small header-then-payload text framing carrying a sender's
// self-identity and a list of "<onion_id> <port>\n" contact lines.
//
// The grammar:
//
//	Version: 1.0
//	Content-Type: control/discover
//	Onion-ID: <sender onion_id>
//	Listen-Port: <sender lport>
//	Nickname: <sender name>
//	Content-Length: <N>
//
//	<N bytes of payload>
package discoverpdu

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dchatmesh/dchat-core/internal/validate"
)

const (
	// Version is the discover PDU protocol version this codec emits.
	Version = "1.0"
	// ContentType identifies a discover PDU on the wire.
	ContentType = "control/discover"

	headerDelim = '\n'
)

var (
	// ErrInvalidContact is returned when a contact fails onion/port
	// validation during encoding.
	ErrInvalidContact = errors.New("discoverpdu: invalid contact")
	// ErrMalformedFrame is returned when a PDU is truncated or missing a
	// required header.
	ErrMalformedFrame = errors.New("discoverpdu: malformed frame")
	// ErrMalformedContactLine is returned by LineToContact; wrap with a
	// specific subreason via fmt.Errorf("%w: ...", ErrMalformedContactLine).
	ErrMalformedContactLine = errors.New("discoverpdu: malformed contact line")
)

// SelfDescriptor is the subset of a contact identity a node advertises
// about itself in a discover PDU's header.
type SelfDescriptor struct {
	OnionID string
	LPort   int
	Name    string
}

// ContactLine is the minimal shape of a single payload entry: identity
// only, no name or socket — the payload never carries display names or
// live fds, just enough to dial.
type ContactLine struct {
	OnionID string
	LPort   int
}

// PDU is a parsed discover message.
type PDU struct {
	Version       string
	ContentType   string
	Sender        SelfDescriptor
	ContentLength int
	Content       []byte
}

// OnionAddrLen is the configured onion address length (including suffix)
// this codec's validator enforces. It defaults to the v2 length and can be
// overridden (e.g. by config) for v3 deployments.
var OnionAddrLen = validate.V2AddressLen

// ContactToLine renders c as "<onion_id> <port>\n". It fails with
// ErrInvalidContact if either field does not pass validation; the caller
// is expected to log and skip, not abort the surrounding encode.
func ContactToLine(c ContactLine) (string, error) {
	if !validate.IsValidOnion(c.OnionID, OnionAddrLen) || !validate.IsValidPort(c.LPort) {
		return "", ErrInvalidContact
	}
	return c.OnionID + " " + strconv.Itoa(c.LPort) + "\n", nil
}

// LineToContact parses a single "<onion_id> <port>" line (no trailing
// newline expected here; callers split lines first). It does not mutate
// its input. Fails with a wrapped ErrMalformedContactLine describing the
// specific subreason.
func LineToContact(line string) (ContactLine, error) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return ContactLine{}, fmt.Errorf("%w: missing port", ErrMalformedContactLine)
	}
	onion := line[:sp]
	portStr := line[sp+1:]
	if onion == "" {
		return ContactLine{}, fmt.Errorf("%w: missing onion", ErrMalformedContactLine)
	}
	if portStr == "" {
		return ContactLine{}, fmt.Errorf("%w: missing port", ErrMalformedContactLine)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ContactLine{}, fmt.Errorf("%w: bad port %q", ErrMalformedContactLine, portStr)
	}
	if !validate.IsValidPort(port) {
		return ContactLine{}, fmt.Errorf("%w: bad port %q", ErrMalformedContactLine, portStr)
	}
	if !validate.IsValidOnion(onion, OnionAddrLen) {
		return ContactLine{}, fmt.Errorf("%w: bad onion %q", ErrMalformedContactLine, onion)
	}
	return ContactLine{OnionID: onion, LPort: port}, nil
}

// SkipFunc is called for each contact that fails validation during
// Encode; it is non-fatal (the contact is skipped).
type SkipFunc func(c ContactLine, err error)

// Encode assembles a control/discover PDU advertising self and carrying
// one line per entry in contacts, in iteration order (the payload is not
// sorted). Entries that fail validation are reported to onSkip, if
// non-nil, and omitted from the payload rather than aborting the encode.
func Encode(self SelfDescriptor, contacts []ContactLine, onSkip SkipFunc) ([]byte, error) {
	var payload bytes.Buffer
	for _, c := range contacts {
		line, err := ContactToLine(c)
		if err != nil {
			if onSkip != nil {
				onSkip(c, err)
			}
			continue
		}
		payload.WriteString(line)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "Version: %s\n", Version)
	fmt.Fprintf(&out, "Content-Type: %s\n", ContentType)
	fmt.Fprintf(&out, "Onion-ID: %s\n", self.OnionID)
	fmt.Fprintf(&out, "Listen-Port: %d\n", self.LPort)
	fmt.Fprintf(&out, "Nickname: %s\n", self.Name)
	fmt.Fprintf(&out, "Content-Length: %d\n", payload.Len())
	out.WriteByte('\n')
	out.Write(payload.Bytes())
	return out.Bytes(), nil
}

// Parse reads a full discover PDU: the header block, the blank-line
// separator, then exactly ContentLength bytes of payload.
func Parse(data []byte) (*PDU, error) {
	headerEnd := bytes.Index(data, []byte("\n\n"))
	if headerEnd < 0 {
		return nil, fmt.Errorf("%w: no header terminator", ErrMalformedFrame)
	}
	header := string(data[:headerEnd])
	rest := data[headerEnd+2:]

	fields := map[string]string{}
	for _, line := range strings.Split(header, "\n") {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformedFrame, line)
		}
		key := strings.TrimSpace(line[:colon])
		val := strings.TrimSpace(line[colon+1:])
		fields[key] = val
	}

	pdu := &PDU{}
	pdu.Version = fields["Version"]
	pdu.ContentType = fields["Content-Type"]
	pdu.Sender.OnionID = fields["Onion-ID"]
	pdu.Sender.Name = fields["Nickname"]

	if fields["Listen-Port"] != "" {
		p, err := strconv.Atoi(fields["Listen-Port"])
		if err != nil {
			return nil, fmt.Errorf("%w: bad Listen-Port", ErrMalformedFrame)
		}
		pdu.Sender.LPort = p
	}

	lenStr, ok := fields["Content-Length"]
	if !ok {
		return nil, fmt.Errorf("%w: missing Content-Length", ErrMalformedFrame)
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad Content-Length", ErrMalformedFrame)
	}
	if len(rest) < n {
		return nil, fmt.Errorf("%w: truncated payload", ErrMalformedFrame)
	}
	pdu.ContentLength = n
	pdu.Content = rest[:n]
	return pdu, nil
}

// GetContentPart returns the position of the next delim byte at or after
// start within pdu.Content, and the slice [start, end) with the delimiter
// excluded. It fails with ErrMalformedFrame if no delimiter appears before
// the declared content length.
func GetContentPart(pdu *PDU, start int, delim byte) (end int, slice []byte, err error) {
	if start < 0 || start > pdu.ContentLength {
		return 0, nil, fmt.Errorf("%w: start out of range", ErrMalformedFrame)
	}
	idx := bytes.IndexByte(pdu.Content[start:pdu.ContentLength], delim)
	if idx < 0 {
		return 0, nil, fmt.Errorf("%w: delimiter not found", ErrMalformedFrame)
	}
	end = start + idx
	return end, pdu.Content[start:end], nil
}
