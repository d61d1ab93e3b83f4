// Package dupresolve implements the duplicate-connection tie-break: when
// two peers dial each other simultaneously, each ends up with two slots
// for the same remote identity (one from accept, one from connect) and
// exactly one must be closed, with both sides independently agreeing on
// which.
package dupresolve

import "github.com/dchatmesh/dchat-core/internal/contacttable"

// None is returned when slot n has no duplicate to resolve.
const None = -1

// CheckDuplicates inspects slot n of t. If n's contact matches the local
// self-descriptor, n itself is returned for deletion (a peer advertised
// our own address). If no or only one match exists in the table, there is
// no duplicate (None). If two slots match, the one to delete is chosen by
// comparing local identity (t.Me) to the remote identity lexicographically
// (onion_id first by byte compare, lport on a tie): a locally "lesser"
// identity keeps its accept_slot (drops connect_slot), a "greater" one
// keeps its connect_slot (drops accept_slot), and an exact match
// (self-connect) drops the accept_slot. Both sides therefore agree on
// which TCP pair survives: the one the greater identity initiated.
func CheckDuplicates(t *contacttable.Table, n int) (toDelete int, found bool) {
	c, ok := t.Get(n)
	if !ok || c.Empty() {
		return None, false
	}

	fst := t.FindContact(c, 0)
	if fst == contacttable.Self {
		return n, true
	}
	if fst == contacttable.NotFound {
		return None, false
	}

	sec := t.FindContact(c, fst+1)
	if sec == contacttable.NotFound {
		return None, false
	}

	fstContact, _ := t.Get(fst)

	var acceptSlot, connectSlot int
	if fstContact.Accepted {
		acceptSlot, connectSlot = fst, sec
	} else {
		acceptSlot, connectSlot = sec, fst
	}

	switch compareIdentity(t.Me, c) {
	case 1: // local identity greater: keep the connection we initiated
		return acceptSlot, true
	case -1: // local identity lesser: keep the connection we accepted
		return connectSlot, true
	default: // equal: should not happen (self-connect); drop accepted
		return acceptSlot, true
	}
}

// compareIdentity orders two identities by onion_id (byte compare), with
// lport as a numeric tiebreaker, returning -1/0/1 like bytes.Compare.
func compareIdentity(a, b contacttable.Contact) int {
	if a.OnionID < b.OnionID {
		return -1
	}
	if a.OnionID > b.OnionID {
		return 1
	}
	switch {
	case a.LPort < b.LPort:
		return -1
	case a.LPort > b.LPort:
		return 1
	default:
		return 0
	}
}
