package discovery

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/dchatmesh/dchat-core/internal/contacttable"
	"github.com/dchatmesh/dchat-core/internal/discoverpdu"
	"github.com/dchatmesh/dchat-core/internal/transport"
	"github.com/dchatmesh/dchat-core/pkg/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	written map[int][]byte
	failFD  int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{written: map[int][]byte{}}
}

func (w *fakeWriter) WritePDU(fd int, pdu []byte) (int, error) {
	if fd == w.failFD {
		return 0, &transport.ErrTransport{Op: "write", Err: errors.New("broken pipe")}
	}
	w.written[fd] = pdu
	return len(pdu), nil
}

type fakeDialer struct {
	nextFD int
	fail   map[string]bool
	dialed []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{nextFD: 100, fail: map[string]bool{}}
}

func (d *fakeDialer) Dial(ctx context.Context, onionID string, port int) (int, error) {
	d.dialed = append(d.dialed, onionID)
	if d.fail[onionID] {
		return 0, &transport.ErrTransport{Op: "dial", Err: errors.New("refused")}
	}
	d.nextFD++
	return d.nextFD, nil
}

func self() discoverpdu.SelfDescriptor {
	return discoverpdu.SelfDescriptor{OnionID: "aaaaaaaaaaaaaaaa.onion", LPort: 9000, Name: "me"}
}

func establish(t *testing.T, tbl *contacttable.Table, onion string, lport int, accepted bool) int {
	t.Helper()
	i, err := tbl.AddContact(len(onion)+lport, accepted)
	require.NoError(t, err)
	require.NoError(t, tbl.SetIdentity(i, onion, lport, ""))
	return i
}

func meContact() contacttable.Contact {
	return contacttable.Contact{OnionID: "aaaaaaaaaaaaaaaa.onion", LPort: 9000}
}

// Gossip advertises every established peer except the recipient.
func TestSendContactsExcludesRecipientAndTemporary(t *testing.T) {
	tbl := contacttable.New(4, meContact())
	recipient := establish(t, tbl, "bbbbbbbbbbbbbbbb.onion", 6001, false)
	other := establish(t, tbl, "cccccccccccccccc.onion", 6002, false)

	tmpFD, err := tbl.AddContact(999, true)
	require.NoError(t, err)

	w := newFakeWriter()
	lg := &countingLogger{}
	n, err := SendContacts(context.Background(), tbl, self(), recipient, w, lg)
	require.NoError(t, err)
	require.True(t, n > 0)
	// A temporary slot handed to the encoder would be reported as skipped.
	assert.Zero(t, lg.n, "temporary slot must not be offered for advertisement")

	recipientContact, _ := tbl.Get(recipient)
	payload := w.written[recipientContact.FD]
	pdu, err := discoverpdu.Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, self().OnionID, pdu.Sender.OnionID)

	body := string(pdu.Content[:pdu.ContentLength])
	otherContact, _ := tbl.Get(other)
	assert.Contains(t, body, otherContact.OnionID)
	recipC, _ := tbl.Get(recipient)
	assert.NotContains(t, body, recipC.OnionID)
	assert.Equal(t, "cccccccccccccccc.onion 6002\n", body)
	_ = tmpFD
}

// countingLogger counts every Log call it receives.
type countingLogger struct{ n int }

func (l *countingLogger) Log(level dlog.Level, msg string, fielders ...dlog.Fielder) { l.n++ }

func TestSendContactsReportsTransportFailure(t *testing.T) {
	tbl := contacttable.New(4, meContact())
	recipient := establish(t, tbl, "bbbbbbbbbbbbbbbb.onion", 6001, false)
	recipContact, _ := tbl.Get(recipient)

	w := newFakeWriter()
	w.failFD = recipContact.FD

	_, err := SendContacts(context.Background(), tbl, self(), recipient, w, nil)
	require.Error(t, err)
	var terr *transport.ErrTransport
	assert.ErrorAs(t, err, &terr)
}

// A discover PDU naming an unknown peer dials and adds it.
func TestReceiveContactsDialsUnknown(t *testing.T) {
	tbl := contacttable.New(4, meContact())
	pdu, err := discoverpdu.Encode(self(), []discoverpdu.ContactLine{
		{OnionID: "dddddddddddddddd.onion", LPort: 7000},
	}, nil)
	require.NoError(t, err)

	d := newFakeDialer()
	n, err := ReceiveContacts(context.Background(), tbl, pdu, d, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, d.dialed, "dddddddddddddddd.onion")
	assert.Equal(t, 1, tbl.Used())
}

// Self-advertisement in a discover PDU is not dialed.
func TestReceiveContactsSkipsSelf(t *testing.T) {
	tbl := contacttable.New(4, meContact())
	pdu, err := discoverpdu.Encode(self(), []discoverpdu.ContactLine{
		{OnionID: meContact().OnionID, LPort: meContact().LPort},
	}, nil)
	require.NoError(t, err)

	d := newFakeDialer()
	n, err := ReceiveContacts(context.Background(), tbl, pdu, d, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, d.dialed)
	assert.Equal(t, 0, tbl.Used())
}

// Applying the same PDU twice yields newCount == 0 the
// second time.
func TestReceiveContactsIdempotent(t *testing.T) {
	tbl := contacttable.New(4, meContact())
	pdu, err := discoverpdu.Encode(self(), []discoverpdu.ContactLine{
		{OnionID: "eeeeeeeeeeeeeeee.onion", LPort: 7100},
		{OnionID: "ffffffffffffffff.onion", LPort: 7200},
	}, nil)
	require.NoError(t, err)

	d := newFakeDialer()
	n1, err := ReceiveContacts(context.Background(), tbl, pdu, d, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n1)

	n2, err := ReceiveContacts(context.Background(), tbl, pdu, d, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n2)
}

// A malformed line is skipped, not fatal to the rest of the PDU.
func TestReceiveContactsSkipsMalformedLine(t *testing.T) {
	tbl := contacttable.New(4, meContact())
	goodLine := "gggggggggggggggg.onion 7300\n"
	header := "Version: 1.0\nContent-Type: control/discover\nOnion-ID: " + self().OnionID +
		"\nListen-Port: 9000\nNickname: me\n"
	payload := "not-a-valid-line\n" + goodLine
	raw := header + "Content-Length: " + strconv.Itoa(len(payload)) + "\n\n" + payload

	d := newFakeDialer()
	n, err := ReceiveContacts(context.Background(), tbl, []byte(raw), d, nil)
	require.Error(t, err) // malformed count reported, non-fatal
	assert.Equal(t, 1, n)
	assert.Contains(t, d.dialed, "gggggggggggggggg.onion")
}

func TestReceiveContactsDialFailureIsNonFatal(t *testing.T) {
	tbl := contacttable.New(4, meContact())
	pdu, err := discoverpdu.Encode(self(), []discoverpdu.ContactLine{
		{OnionID: "hhhhhhhhhhhhhhhh.onion", LPort: 7400},
	}, nil)
	require.NoError(t, err)

	d := newFakeDialer()
	d.fail["hhhhhhhhhhhhhhhh.onion"] = true

	n, err := ReceiveContacts(context.Background(), tbl, pdu, d, nil)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, tbl.Used())
}
