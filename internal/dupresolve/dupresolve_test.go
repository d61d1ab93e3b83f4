package dupresolve

import (
	"testing"

	"github.com/dchatmesh/dchat-core/internal/contacttable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Duplicate collapse. A (smaller onion) must retain its accepted
// slot and close its connected slot; B (larger onion) must retain its
// connected slot and close its accepted slot.
func TestCheckDuplicatesSymmetric(t *testing.T) {
	remote := contacttable.Contact{OnionID: "bbbbbbbbbbbbbbbb.onion", LPort: 6001}

	// Node A: local identity "aaaa...", smaller than remote "bbbb...".
	a := contacttable.New(4, contacttable.Contact{OnionID: "aaaaaaaaaaaaaaaa.onion", LPort: 6000})
	acceptIdxA, err := a.AddContact(1, true)
	require.NoError(t, err)
	require.NoError(t, a.SetIdentity(acceptIdxA, remote.OnionID, remote.LPort, ""))

	connectIdxA, err := a.AddContact(2, false)
	require.NoError(t, err)
	require.NoError(t, a.SetIdentity(connectIdxA, remote.OnionID, remote.LPort, ""))

	delA, foundA := CheckDuplicates(a, connectIdxA)
	require.True(t, foundA)
	assert.Equal(t, connectIdxA, delA, "smaller identity keeps its accepted slot")

	// Node B: local identity "bbbb...", larger than remote "aaaa...".
	localB := contacttable.Contact{OnionID: "bbbbbbbbbbbbbbbb.onion", LPort: 6001}
	remoteFromB := contacttable.Contact{OnionID: "aaaaaaaaaaaaaaaa.onion", LPort: 6000}
	b := contacttable.New(4, localB)
	acceptIdxB, err := b.AddContact(1, true)
	require.NoError(t, err)
	require.NoError(t, b.SetIdentity(acceptIdxB, remoteFromB.OnionID, remoteFromB.LPort, ""))

	connectIdxB, err := b.AddContact(2, false)
	require.NoError(t, err)
	require.NoError(t, b.SetIdentity(connectIdxB, remoteFromB.OnionID, remoteFromB.LPort, ""))

	delB, foundB := CheckDuplicates(b, acceptIdxB)
	require.True(t, foundB)
	assert.Equal(t, acceptIdxB, delB, "larger identity keeps its connected slot")
}

func TestCheckDuplicatesSelfAdvertisement(t *testing.T) {
	me := contacttable.Contact{OnionID: "meeeeeeeeeeeeeeee.onion", LPort: 9000}
	tbl := contacttable.New(4, me)
	i, err := tbl.AddContact(1, false)
	require.NoError(t, err)
	require.NoError(t, tbl.SetIdentity(i, me.OnionID, me.LPort, ""))

	del, found := CheckDuplicates(tbl, i)
	require.True(t, found)
	assert.Equal(t, i, del)
}

func TestCheckDuplicatesNoneWhenSingle(t *testing.T) {
	me := contacttable.Contact{OnionID: "meeeeeeeeeeeeeeee.onion", LPort: 9000}
	tbl := contacttable.New(4, me)
	i, err := tbl.AddContact(1, false)
	require.NoError(t, err)
	require.NoError(t, tbl.SetIdentity(i, "zzzzzzzzzzzzzzzz.onion", 7000, ""))

	del, found := CheckDuplicates(tbl, i)
	assert.False(t, found)
	assert.Equal(t, None, del)
}
