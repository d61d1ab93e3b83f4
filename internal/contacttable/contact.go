// Package contacttable implements the slotted array of known peers
// described by the DChat gossip core: a resizable table of Contact slots
// with a fixed grow/shrink step, insertion, deletion, and allocation-free
// lookup.
package contacttable

import "strconv"

// Contact is a peer record. A zero-value Contact (FD == 0) is an empty
// slot; every other field must be zero in that state. FD != 0 with
// LPort == 0 is a temporary slot: the socket is open but no discover PDU
// has arrived yet. FD != 0 with LPort != 0 is established.
type Contact struct {
	OnionID  string
	LPort    int
	Name     string
	FD       int
	Accepted bool
}

// Empty reports whether c is an unused slot.
func (c Contact) Empty() bool { return c.FD == 0 }

// Temporary reports whether c has an open socket but no known listening
// port yet.
func (c Contact) Temporary() bool { return c.FD != 0 && c.LPort == 0 }

// Established reports whether c has both an open socket and a known
// listening port.
func (c Contact) Established() bool { return c.FD != 0 && c.LPort != 0 }

// sameIdentity reports whether a and b name the same (onion_id, lport)
// pair. Comparing the fields directly is equivalent to comparing the
// rendered "<onion> <port>" form, without the transient allocation.
func sameIdentity(a, b Contact) bool {
	return a.OnionID == b.OnionID && a.LPort == b.LPort
}

// String renders c in the canonical "<onion_id> <port>" form used on the
// wire and, historically, for identity comparison. Kept for callers (and
// tests) that want the textual form; lookups themselves use sameIdentity.
func (c Contact) String() string {
	return c.OnionID + " " + strconv.Itoa(c.LPort)
}
