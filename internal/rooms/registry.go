// Package rooms implements the room registry (C4): activation of a room's
// broadcast fabric on its first subscriber, teardown on its last, and the
// fan-out itself. The fan-out/backpressure shape is adapted directly from
// the teacher's hub.Hub — a per-client buffered channel, non-blocking send,
// drop-the-slow-subscriber-rather-than-block-everyone — generalized from a
// single global client set to one such set per room.
package rooms

import (
	"errors"
	"sync"

	"github.com/kartnagrale/relaychat/internal/chattypes"
)

// FabricCapacity is the fixed per-subscriber backlog (§4.4): a slow
// subscriber that falls this far behind is dropped rather than allowed to
// stall the room.
const FabricCapacity = 150

// ErrRoomNotActive is returned by Publisher/Publish/ParticipantsOf when no
// ActiveRoom exists for the given id.
var ErrRoomNotActive = errors.New("rooms: room is not active")

// activeRoom is the in-memory ActiveRoom record: a room id, its current
// subscriber set, and nothing else — durable membership lives in the
// store, not here.
type activeRoom struct {
	mu          sync.Mutex // inner lock: acquired after the Registry's map lock, released before any long call
	subscribers map[chattypes.UserID]chan chattypes.BroadcastEvent
}

// Registry maps an active room id to its ActiveRoom record.
type Registry struct {
	mu    sync.Mutex
	rooms map[chattypes.RoomID]*activeRoom
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[chattypes.RoomID]*activeRoom)}
}

// Subscription is the handle a forwarder task reads events from.
type Subscription struct {
	RoomID chattypes.RoomID
	UserID chattypes.UserID
	events chan chattypes.BroadcastEvent
}

// Recv blocks for the next event. ok is false when the fabric was torn
// down (room deactivated) or this subscriber was dropped for backlog
// overflow — either way the forwarder should terminate.
func (s *Subscription) Recv() (chattypes.BroadcastEvent, bool) {
	ev, ok := <-s.events
	return ev, ok
}

// Attach ensures roomID has an ActiveRoom (creating one with a fresh
// fabric if this is the first subscriber), then adds userID and returns
// its subscription handle.
func (r *Registry) Attach(roomID chattypes.RoomID, userID chattypes.UserID) *Subscription {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = &activeRoom{subscribers: make(map[chattypes.UserID]chan chattypes.BroadcastEvent)}
		r.rooms[roomID] = room
	}
	r.mu.Unlock()

	ch := make(chan chattypes.BroadcastEvent, FabricCapacity)
	room.mu.Lock()
	room.subscribers[userID] = ch
	room.mu.Unlock()

	return &Subscription{RoomID: roomID, UserID: userID, events: ch}
}

// Publisher publishes BroadcastEvents to every current subscriber of one
// room.
type Publisher struct {
	registry *Registry
	roomID   chattypes.RoomID
}

// Publisher returns a handle bound to roomID. It fails if the room has no
// ActiveRoom entry.
func (r *Registry) Publisher(roomID chattypes.RoomID) (*Publisher, error) {
	r.mu.Lock()
	_, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotActive
	}
	return &Publisher{registry: r, roomID: roomID}, nil
}

// Publish fans ev out to every subscriber currently attached to the
// publisher's room, dropping (and unregistering) any subscriber whose
// backlog is already at FabricCapacity. It is a no-op error if the room
// was deactivated since the Publisher was obtained.
func (p *Publisher) Publish(ev chattypes.BroadcastEvent) error {
	p.registry.mu.Lock()
	room, ok := p.registry.rooms[p.roomID]
	p.registry.mu.Unlock()
	if !ok {
		return ErrRoomNotActive
	}

	room.mu.Lock()
	targets := make([]chan chattypes.BroadcastEvent, 0, len(room.subscribers))
	for _, ch := range room.subscribers {
		targets = append(targets, ch)
	}
	room.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			// Backlog full: drop this subscriber. Its forwarder's next
			// Recv observes the closed channel and terminates (§4.7).
			room.mu.Lock()
			for uid, candidate := range room.subscribers {
				if candidate == ch {
					delete(room.subscribers, uid)
					close(ch)
					break
				}
			}
			room.mu.Unlock()
		}
	}
	return nil
}

// Detach removes userID from roomID's participant set. If the set becomes
// empty the ActiveRoom entry (and its fabric) is torn down; any remaining
// subscriber channels are closed so their Recv unblocks.
func (r *Registry) Detach(roomID chattypes.RoomID, userID chattypes.UserID) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return
	}

	room.mu.Lock()
	if ch, present := room.subscribers[userID]; present {
		delete(room.subscribers, userID)
		close(ch)
	}
	empty := len(room.subscribers) == 0
	room.mu.Unlock()

	if !empty {
		return
	}

	// Re-acquire the map lock alone to remove the now-empty ActiveRoom.
	// Another Attach may have raced in between and repopulated it; only
	// delete the entry if it is still the same (now-empty) record.
	r.mu.Lock()
	if r.rooms[roomID] == room {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
}

// ParticipantsOf returns the current in-memory participant set for
// roomID. Returns ErrRoomNotActive if the room has no ActiveRoom entry.
func (r *Registry) ParticipantsOf(roomID chattypes.RoomID) ([]chattypes.UserID, error) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotActive
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	out := make([]chattypes.UserID, 0, len(room.subscribers))
	for uid := range room.subscribers {
		out = append(out, uid)
	}
	return out, nil
}
