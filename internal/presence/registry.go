// Package presence implements C5: the connection-address -> user map and
// the user -> durable-room-set map populated once at login. Both maps are
// guarded by one mutex each, following §5's "acquire one map lock at a
// time, never hold two simultaneously" discipline.
package presence

import (
	"sync"

	"github.com/kartnagrale/relaychat/internal/chaterr"
	"github.com/kartnagrale/relaychat/internal/chattypes"
)

// Registry holds the two presence maps.
type Registry struct {
	connMu      sync.Mutex
	connections map[string]chattypes.UserID // connection address -> user id

	roomsMu   sync.Mutex
	userRooms map[chattypes.UserID][]chattypes.RoomID
}

// NewRegistry builds an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]chattypes.UserID),
		userRooms:   make(map[chattypes.UserID][]chattypes.RoomID),
	}
}

// IsAddrRegistered reports whether addr already has a bound user.
func (r *Registry) IsAddrRegistered(addr string) bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	_, ok := r.connections[addr]
	return ok
}

// RegisterConnection binds addr to userID. Returns a StateConflictError
// if addr is already bound — the source treats this as an invariant
// violation, not a recoverable condition.
func (r *Registry) RegisterConnection(addr string, userID chattypes.UserID) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if _, exists := r.connections[addr]; exists {
		return chaterr.NewStateConflictError("presence: address %q is already registered", addr)
	}
	r.connections[addr] = userID
	return nil
}

// RemoveConnection unbinds addr and returns the user id that was bound to
// it, if any.
func (r *Registry) RemoveConnection(addr string) (chattypes.UserID, bool) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	userID, ok := r.connections[addr]
	if ok {
		delete(r.connections, addr)
	}
	return userID, ok
}

// SetUserRooms records userID's durable room set, loaded once at login.
// Returns a StateConflictError on a duplicate login for the same user.
func (r *Registry) SetUserRooms(userID chattypes.UserID, roomIDs []chattypes.RoomID) error {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()
	if _, exists := r.userRooms[userID]; exists {
		return chaterr.NewStateConflictError("presence: user %d is already logged in", userID)
	}
	cp := append([]chattypes.RoomID(nil), roomIDs...)
	r.userRooms[userID] = cp
	return nil
}

// RoomsOf returns userID's room set, as loaded at login.
func (r *Registry) RoomsOf(userID chattypes.UserID) ([]chattypes.RoomID, bool) {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()
	rooms, ok := r.userRooms[userID]
	return rooms, ok
}

// BelongsTo reports whether userID's durable room set contains roomID.
func (r *Registry) BelongsTo(userID chattypes.UserID, roomID chattypes.RoomID) bool {
	rooms, ok := r.RoomsOf(userID)
	if !ok {
		return false
	}
	for _, id := range rooms {
		if id == roomID {
			return true
		}
	}
	return false
}

// RemoveUser drops userID's room set, called on disconnect.
func (r *Registry) RemoveUser(userID chattypes.UserID) {
	r.roomsMu.Lock()
	defer r.roomsMu.Unlock()
	delete(r.userRooms, userID)
}
