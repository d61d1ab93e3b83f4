package contacttable

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func me() Contact {
	return Contact{OnionID: "meeeeeeeeeeeeeeee.onion", LPort: 9000}
}

func TestAddContactGrows(t *testing.T) {
	tbl := New(4, me())
	require.Equal(t, 4, tbl.Len())

	var idx []int
	for fd := 1; fd <= 4; fd++ {
		i, err := tbl.AddContact(fd, false)
		require.NoError(t, err)
		idx = append(idx, i)
	}
	assert.Equal(t, 4, tbl.Used())
	assert.Equal(t, 4, tbl.Len())

	// The 5th add grows the table from 4 to 8.
	i, err := tbl.AddContact(5, false)
	require.NoError(t, err)
	assert.Equal(t, 8, tbl.Len())
	assert.Equal(t, 5, tbl.Used())
	_ = idx
	_ = i
}

func TestDelContactShrinks(t *testing.T) {
	tbl := New(4, me())
	for fd := 1; fd <= 5; fd++ {
		_, err := tbl.AddContact(fd, false)
		require.NoError(t, err)
	}
	require.Equal(t, 8, tbl.Len())

	closed := map[int]bool{}
	closeFn := func(fd int) error { closed[fd] = true; return nil }

	// Delete the 4 peers with fd 2..5, leaving fd 1 as the sole survivor.
	// Indices are invalidated by the shrink triggered mid-loop, so each
	// deletion re-resolves its target's current slot via Snapshot rather
	// than caching an index across the call.
	for _, target := range []int{2, 3, 4, 5} {
		var i = -1
		for _, ic := range tbl.Snapshot() {
			if ic.Contact.FD == target {
				i = ic.Index
				break
			}
		}
		require.NotEqual(t, -1, i, "fd %d must still be present", target)
		require.NoError(t, tbl.DelContact(i, closeFn))
	}

	assert.Equal(t, 4, tbl.Len(), "table should shrink back to 4")
	assert.Equal(t, 1, tbl.Used())
	for _, fd := range []int{2, 3, 4, 5} {
		assert.True(t, closed[fd])
	}

	snap := tbl.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 0, snap[0].Index, "surviving peer must land in slot 0 after shrink")
	assert.Equal(t, 1, snap[0].Contact.FD)
}

func TestDelContactAlreadyEmptyIsNoop(t *testing.T) {
	tbl := New(4, me())
	called := false
	err := tbl.DelContact(0, func(fd int) error { called = true; return nil })
	require.NoError(t, err)
	assert.False(t, called)
}

func TestDelContactOutOfBounds(t *testing.T) {
	tbl := New(4, me())
	err := tbl.DelContact(99, nil)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)
}

func TestFindContactSelfAndNotFound(t *testing.T) {
	tbl := New(4, me())
	self := me()
	assert.Equal(t, Self, tbl.FindContact(self, 0))

	unknown := Contact{OnionID: "zzzzzzzzzzzzzzzzzz.onion", LPort: 1234}
	assert.Equal(t, NotFound, tbl.FindContact(unknown, 0))

	assert.Equal(t, NotFound, tbl.FindContact(unknown, -1))
	assert.Equal(t, NotFound, tbl.FindContact(unknown, 99))
}

func TestFindContactSkipsTemporary(t *testing.T) {
	tbl := New(4, me())
	i, err := tbl.AddContact(7, false)
	require.NoError(t, err)
	// Temporary: fd set, lport still 0.
	target := Contact{OnionID: "aaaaaaaaaaaaaaaaaa.onion", LPort: 6000}
	assert.Equal(t, NotFound, tbl.FindContact(target, 0))

	require.NoError(t, tbl.SetIdentity(i, target.OnionID, target.LPort, "alice"))
	assert.Equal(t, i, tbl.FindContact(target, 0))
}

func TestResizeInvalid(t *testing.T) {
	tbl := New(4, me())
	for fd := 1; fd <= 3; fd++ {
		_, err := tbl.AddContact(fd, false)
		require.NoError(t, err)
	}
	assert.ErrorIs(t, tbl.Resize(0), ErrInvalidSize)
	assert.ErrorIs(t, tbl.Resize(2), ErrInvalidSize) // below used_contacts
	require.NoError(t, tbl.Resize(10))
	assert.Equal(t, 10, tbl.Len())
	assert.Equal(t, 3, tbl.Used())
}

func TestResizePreservesRelativeOrder(t *testing.T) {
	tbl := New(4, me())
	i0, _ := tbl.AddContact(1, false)
	i1, _ := tbl.AddContact(2, false)
	require.NoError(t, tbl.DelContact(i0, nil))
	i2, _ := tbl.AddContact(3, false)

	before := tbl.Snapshot()
	require.NoError(t, tbl.Resize(8))
	after := tbl.Snapshot()

	require.Len(t, after, len(before))
	for k := range before {
		assert.Equal(t, before[k].Contact, after[k].Contact)
	}
	_ = i1
	_ = i2
}

// fd == 0 iff all other fields are zero, for every slot
// reachable only via the public API (AddContact/DelContact/SetIdentity).
func TestInvariantEmptySlotIsZero(t *testing.T) {
	tbl := New(4, me())
	i, _ := tbl.AddContact(5, false)
	require.NoError(t, tbl.DelContact(i, nil))
	c, ok := tbl.Get(i)
	require.True(t, ok)
	assert.Equal(t, Contact{}, c)
}

func TestDelContactCloseFailureStillShrinks(t *testing.T) {
	tbl := New(4, me())
	for fd := 1; fd <= 5; fd++ {
		_, err := tbl.AddContact(fd, false)
		require.NoError(t, err)
	}
	require.Equal(t, 8, tbl.Len())

	// Deleting the 5th peer lands the population exactly on the shrink
	// threshold; the close error must be reported without forgoing the
	// shrink due at that population.
	boom := errors.New("close failed")
	err := tbl.DelContact(4, func(fd int) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, tbl.Len(), "shrink must run despite the close failure")
	assert.Equal(t, 4, tbl.Used())
}
