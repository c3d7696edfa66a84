package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartnagrale/relaychat/internal/chaterr"
)

func TestRegisterConnectionConflict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterConnection("1.2.3.4:1", 1))

	err := r.RegisterConnection("1.2.3.4:1", 2)
	var conflict *chaterr.StateConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestRemoveConnection(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterConnection("addr", 7))

	userID, ok := r.RemoveConnection("addr")
	require.True(t, ok)
	assert.Equal(t, uint32(7), userID)

	_, ok = r.RemoveConnection("addr")
	assert.False(t, ok)
}

func TestSetUserRoomsConflict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.SetUserRooms(1, []uint32{10, 20}))

	err := r.SetUserRooms(1, []uint32{30})
	var conflict *chaterr.StateConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestBelongsTo(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.SetUserRooms(1, []uint32{10, 20}))

	assert.True(t, r.BelongsTo(1, 10))
	assert.False(t, r.BelongsTo(1, 99))
	assert.False(t, r.BelongsTo(2, 10))
}

func TestRemoveUserDropsRoomSet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.SetUserRooms(1, []uint32{10}))

	r.RemoveUser(1)

	_, ok := r.RoomsOf(1)
	assert.False(t, ok)
	// A fresh login after disconnect must not trip the conflict guard.
	assert.NoError(t, r.SetUserRooms(1, []uint32{10}))
}

func TestIsAddrRegistered(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.IsAddrRegistered("x"))
	require.NoError(t, r.RegisterConnection("x", 1))
	assert.True(t, r.IsAddrRegistered("x"))
}
