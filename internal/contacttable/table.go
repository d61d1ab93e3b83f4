package contacttable

import "errors"

// Sentinel indices returned by FindContact.
const (
	// Self is returned when the searched contact matches the local
	// node's self-descriptor rather than any table slot.
	Self = -1
	// NotFound is returned when no slot matches.
	NotFound = -2
)

var (
	// ErrInvalidSize is returned by Resize for a size below 1 or below
	// the current population.
	ErrInvalidSize = errors.New("contacttable: invalid size")
	// ErrIndexOutOfBounds is returned by operations given an index
	// outside [0, cl_size).
	ErrIndexOutOfBounds = errors.New("contacttable: index out of bounds")
	// ErrOutOfMemory is returned when a required grow step fails. It is
	// fatal: the caller has no meaningful recovery.
	ErrOutOfMemory = errors.New("contacttable: out of memory")
)

// Table is an ordered slotted array of Contact. Indices are stable only
// until the next call that may mutate the table (AddContact, DelContact,
// Resize): callers must not cache an index across such a call. Me is the
// local node's self-descriptor; it is never stored as a slot, only
// consulted by FindContact and the duplicate resolver.
type Table struct {
	slots    []Contact
	used     int
	initStep int
	Me       Contact
}

// New creates a Table with capacity initStep (== INIT_CONTACTS, the
// table's fixed grow/shrink step) and the given self-descriptor.
func New(initStep int, me Contact) *Table {
	if initStep < 1 {
		initStep = 1
	}
	return &Table{
		slots:    make([]Contact, initStep),
		initStep: initStep,
		Me:       me,
	}
}

// Len returns the table's current capacity (cl_size).
func (t *Table) Len() int { return len(t.slots) }

// Used returns the current population (used_contacts).
func (t *Table) Used() int { return t.used }

// Get returns the slot at i and whether i is in range.
func (t *Table) Get(i int) (Contact, bool) {
	if i < 0 || i >= len(t.slots) {
		return Contact{}, false
	}
	return t.slots[i], true
}

// IndexedContact pairs a Contact with the slot index it occupied at
// snapshot time. Callers that need a peer's index across a later mutating
// call must re-resolve it via FindContact; a stale index from an older
// Snapshot is not a valid handle.
type IndexedContact struct {
	Index   int
	Contact Contact
}

// Snapshot returns every non-empty slot with its current index, in slot
// order. It is a point-in-time copy; it does not track subsequent
// mutations.
func (t *Table) Snapshot() []IndexedContact {
	out := make([]IndexedContact, 0, t.used)
	for i, c := range t.slots {
		if !c.Empty() {
			out = append(out, IndexedContact{Index: i, Contact: c})
		}
	}
	return out
}

// AddContact allocates a slot for a newly opened socket fd (fd > 0),
// growing the table by the fixed step if it is full, and returns the new
// slot's index. accepted records whether the socket arrived via an
// inbound accept (true) or an outbound dial (false); the duplicate
// resolver uses it to classify accept_slot vs connect_slot.
func (t *Table) AddContact(fd int, accepted bool) (int, error) {
	if t.used == len(t.slots) {
		if err := t.Resize(len(t.slots) + t.initStep); err != nil {
			return 0, ErrOutOfMemory
		}
	}
	for i := range t.slots {
		if t.slots[i].Empty() {
			t.slots[i] = Contact{FD: fd, Accepted: accepted}
			t.used++
			return i, nil
		}
	}
	// Unreachable: the grow step above guarantees a free slot exists.
	return 0, ErrOutOfMemory
}

// SetIdentity fills in a slot's onion_id/lport/name on first discover PDU
// arrival, transitioning it from temporary to established. It is a no-op
// error on an empty slot or an out-of-range index.
func (t *Table) SetIdentity(i int, onionID string, lport int, name string) error {
	if i < 0 || i >= len(t.slots) {
		return ErrIndexOutOfBounds
	}
	if t.slots[i].Empty() {
		return ErrIndexOutOfBounds
	}
	t.slots[i].OnionID = onionID
	t.slots[i].LPort = lport
	t.slots[i].Name = name
	return nil
}

// CloseFunc closes an underlying socket handle. DelContact calls it
// exactly once for a non-empty slot being removed.
type CloseFunc func(fd int) error

// DelContact removes the contact at index i, closing its fd via close.
// Deleting an already-empty slot is a no-op success. After removal, the
// table shrinks by the fixed step if the population lands exactly on
// cl_size - INIT_CONTACTS and is nonzero.
func (t *Table) DelContact(i int, close CloseFunc) error {
	if i < 0 || i >= len(t.slots) {
		return ErrIndexOutOfBounds
	}
	if t.slots[i].Empty() {
		return nil
	}
	fd := t.slots[i].FD
	t.slots[i] = Contact{}
	t.used--
	var cerr error
	if close != nil {
		cerr = close(fd)
	}
	// The shrink threshold is a population rule: it must run even when
	// the close failed, or that failure would silently forgo a shrink
	// that doesn't come due again until a later deletion crosses the
	// threshold.
	if t.used != 0 && t.used == len(t.slots)-t.initStep {
		// Shrink failure here is not a protocol error: the table is
		// already consistent at its current (larger) size.
		_ = t.Resize(len(t.slots) - t.initStep)
	}
	return cerr
}

// FindContact searches for a slot identified by the same (onion_id,
// lport) pair as c, skipping temporary slots (lport == 0). It first
// compares against the table's self-descriptor, returning Self on a
// match; otherwise it scans [begin, cl_size) in order and returns the
// first match, or NotFound. An out-of-range begin returns NotFound.
func (t *Table) FindContact(c Contact, begin int) int {
	if sameIdentity(t.Me, c) {
		return Self
	}
	if begin < 0 || begin >= len(t.slots) {
		return NotFound
	}
	for i := begin; i < len(t.slots); i++ {
		s := t.slots[i]
		if s.Temporary() || s.Empty() {
			continue
		}
		if sameIdentity(s, c) {
			return i
		}
	}
	return NotFound
}

// Resize reallocates the table to newsize, compacting only non-empty
// slots into the prefix of the new table in their original relative
// order. It closes nothing; callers that shrink via DelContact never lose
// an fd here because only live slots are moved.
func (t *Table) Resize(newsize int) error {
	if newsize < 1 || newsize < t.used {
		return ErrInvalidSize
	}
	fresh := make([]Contact, newsize)
	n := 0
	for _, c := range t.slots {
		if !c.Empty() {
			fresh[n] = c
			n++
		}
	}
	t.slots = fresh
	return nil
}
