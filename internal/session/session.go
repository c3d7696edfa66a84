// Package session implements C7: one connection's state machine, from
// WebSocket upgrade through LOGIN to per-room forwarder tasks and
// disconnect teardown. The read/write pump split and the non-blocking,
// mutex-serialized write path are carried over from the teacher's
// hub.Client readPump/writePump, generalized from a single hub-owned
// send channel to one forwarder goroutine per joined room.
package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kartnagrale/relaychat/internal/chattypes"
	"github.com/kartnagrale/relaychat/internal/identity"
	"github.com/kartnagrale/relaychat/internal/pipeline"
	"github.com/kartnagrale/relaychat/internal/presence"
	"github.com/kartnagrale/relaychat/internal/rooms"
	"github.com/kartnagrale/relaychat/internal/wire"
)

// RoomLister is the slice of internal/store.Store the session needs at
// LOGIN time: the durable room set to subscribe to. Depending on an
// interface instead of *store.Store directly — the same narrowing
// internal/pipeline applies to its own MessageStore dependency — lets a
// test exercise the LOGIN/forwarder/teardown state machine against an
// in-memory fake instead of a live Postgres connection.
type RoomLister interface {
	FetchAllUserChatRooms(ctx context.Context, userID chattypes.UserID) ([]chattypes.ChatRoom, error)
}

// State is where a Connection sits in the LOGIN state machine (§4.7).
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

// Connection owns one WebSocket and the forwarder tasks it spawns after
// a successful LOGIN.
type Connection struct {
	conn     *websocket.Conn
	addr     string
	id       uuid.UUID
	resolver identity.Resolver
	store    RoomLister
	presence *presence.Registry
	rooms    *rooms.Registry
	pipes    *pipeline.Pipelines

	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	userID     chattypes.UserID
	forwarders map[chattypes.RoomID]context.CancelFunc
	wg         sync.WaitGroup
}

// New builds a Connection bound to an already-upgraded WebSocket. Each
// Connection is assigned a fresh correlation id used only in log lines —
// distinct from addr, which can be reused across reconnects and is also
// the presence registry's map key — so forwarder goroutines for one
// physical socket can be told apart from a prior connection that shared
// the same remote address (§5: many independent tasks per connection).
func New(conn *websocket.Conn, addr string, resolver identity.Resolver, st RoomLister, presenceRegistry *presence.Registry, roomRegistry *rooms.Registry, pipes *pipeline.Pipelines) *Connection {
	return &Connection{
		conn:       conn,
		addr:       addr,
		id:         uuid.New(),
		resolver:   resolver,
		store:      st,
		presence:   presenceRegistry,
		rooms:      roomRegistry,
		pipes:      pipes,
		forwarders: make(map[chattypes.RoomID]context.CancelFunc),
	}
}

// Serve runs the read loop until the client disconnects or sends an
// unrecoverable frame. It always returns after tearing down presence,
// fabric subscriptions, and forwarder goroutines for this connection.
func (c *Connection) Serve(ctx context.Context) {
	defer c.teardown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := wire.Decode(data)
		if err != nil {
			c.sendError(err.Error())
			continue
		}

		if fatal := c.handleFrame(ctx, frame); fatal {
			return
		}
	}
}

// handleFrame dispatches one decoded frame and reports whether the
// connection must close. A failed LOGIN is fatal: an AuthError (§7), a
// presence conflict, or a store failure while loading the user's rooms.
// Everything else is reported back over the wire and the loop continues.
func (c *Connection) handleFrame(ctx context.Context, frame wire.Frame) (fatal bool) {
	switch frame.Kind {
	case wire.KindLogin:
		return c.handleLogin(ctx, frame.LoginCredential)

	case wire.KindSendMessage:
		c.handleSendMessage(ctx, frame.SendMessage)
		return false

	case wire.KindSeeMessages:
		c.handleSeeMessages(ctx, frame.SeeMessageIDs)
		return false

	case wire.KindLogout, wire.KindJoinGroup, wire.KindLeaveGroup, wire.KindFetchMessages:
		// Reserved for a future protocol revision: accepted so a client
		// that sends one doesn't trip the ProtocolError path, but no
		// core behavior is attached yet.
		c.send(mustEncode(wire.EncodeAcknowledge))
		return false

	default:
		c.sendError("unhandled frame kind")
		return false
	}
}

func (c *Connection) handleLogin(ctx context.Context, credential json.RawMessage) (fatal bool) {
	c.mu.Lock()
	already := c.state != StateUnauthenticated
	c.mu.Unlock()
	if already {
		c.sendError("already logged in on this connection")
		return false
	}

	user, err := c.resolver.Authenticate(ctx, credential)
	if err != nil {
		c.sendError(err.Error())
		return true
	}

	if err := c.presence.RegisterConnection(c.addr, user.ID); err != nil {
		c.sendError(err.Error())
		return true
	}

	chatRooms, err := c.store.FetchAllUserChatRooms(ctx, user.ID)
	if err != nil {
		c.sendError(err.Error())
		c.presence.RemoveConnection(c.addr)
		return true
	}
	roomIDs := make([]chattypes.RoomID, len(chatRooms))
	for i, room := range chatRooms {
		roomIDs[i] = room.ID
	}

	if err := c.presence.SetUserRooms(user.ID, roomIDs); err != nil {
		c.sendError(err.Error())
		c.presence.RemoveConnection(c.addr)
		return true
	}

	c.mu.Lock()
	c.state = StateAuthenticated
	c.userID = user.ID
	c.mu.Unlock()

	for _, roomID := range roomIDs {
		c.attachRoom(ctx, roomID)
	}

	c.send(mustEncode(wire.EncodeLoggedIn))
	return false
}

func (c *Connection) attachRoom(ctx context.Context, roomID chattypes.RoomID) {
	sub := c.rooms.Attach(roomID, c.userID)

	fctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.forwarders[roomID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.forward(fctx, sub)
}

// forward is the per-room task that turns BroadcastEvents into outbound
// frames. It terminates when ctx is cancelled (disconnect) or sub.Recv
// reports the fabric closed (room torn down, or this subscriber dropped
// for backlog overflow).
func (c *Connection) forward(ctx context.Context, sub *rooms.Subscription) {
	defer c.wg.Done()
	for {
		ev, ok := sub.Recv()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch ev.Kind {
		case chattypes.EventNewMessage:
			c.send(mustEncode1(wire.EncodeMessageReceived, ev.Message))
			if ev.Message.FromID == c.userID {
				// The sender is not a recipient of its own message.
				continue
			}
			go func(msgID chattypes.MessageID) {
				if err := c.pipes.Delivered(context.Background(), msgID, c.userID); err != nil {
					log.Printf("session[%s]: delivered pipeline failed for message %d user %d: %v", c.id, msgID, c.userID, err)
				}
			}(ev.Message.ID)

		case chattypes.EventDeliveredUpdate:
			action, ok := ev.Message.LastDelivered()
			if !ok {
				continue
			}
			c.send(mustEncode1(wire.EncodeMessageDelivered, wire.MessageUpdatePayload{
				TimeUpdate:    action,
				ChatMessageID: ev.Message.ID,
			}))

		case chattypes.EventSeenUpdate:
			action, ok := ev.Message.LastSeen()
			if !ok {
				continue
			}
			c.send(mustEncode1(wire.EncodeMessageSeen, wire.MessageUpdatePayload{
				TimeUpdate:    action,
				ChatMessageID: ev.Message.ID,
			}))

		case chattypes.EventNewMessageRequest:
			// Never a valid fabric observation: NewMessageRequest is an
			// internal-only value that is never published (chattypes'
			// doc comment on EventNewMessageRequest). Seeing one here
			// means a Publish call skipped persistence.
			log.Printf("session[%s]: bug: observed NewMessageRequest on room %d fabric (user %d)", c.id, sub.RoomID, sub.UserID)
			return
		}
	}
}

func (c *Connection) handleSendMessage(ctx context.Context, sender chattypes.ChatMessageSender) {
	userID, ok := c.authenticatedUser()
	if !ok {
		c.sendError("must log in before sending a message")
		return
	}
	if _, err := c.pipes.Send(ctx, userID, sender); err != nil {
		c.sendError(err.Error())
		return
	}
	c.send(mustEncode(wire.EncodeMessageSent))
}

func (c *Connection) handleSeeMessages(ctx context.Context, ids []chattypes.MessageID) {
	userID, ok := c.authenticatedUser()
	if !ok {
		c.sendError("must log in before acknowledging messages")
		return
	}
	if err := c.pipes.Seen(ctx, userID, ids); err != nil {
		c.sendError(err.Error())
		return
	}
	c.send(mustEncode(wire.EncodeAcknowledge))
}

func (c *Connection) authenticatedUser() (chattypes.UserID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return 0, false
	}
	return c.userID, true
}

// teardown cancels every forwarder, detaches this connection from every
// room it joined, and drops its presence entries. It waits for forwarder
// goroutines to exit and then closes the socket itself.
func (c *Connection) teardown() {
	c.mu.Lock()
	state := c.state
	userID := c.userID
	forwarders := c.forwarders
	c.forwarders = nil
	c.state = StateClosed
	c.mu.Unlock()

	for _, cancel := range forwarders {
		cancel()
	}

	if state == StateAuthenticated {
		if roomIDs, ok := c.presence.RoomsOf(userID); ok {
			for _, roomID := range roomIDs {
				c.rooms.Detach(roomID, userID)
			}
		}
		c.presence.RemoveUser(userID)
	}
	c.presence.RemoveConnection(c.addr)

	c.wg.Wait()
	_ = c.conn.Close()
}

func (c *Connection) send(data []byte) {
	if data == nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("session[%s]: write to %s failed: %v", c.id, c.addr, err)
	}
}

func (c *Connection) sendError(msg string) {
	c.send(mustEncode1(wire.EncodeError, msg))
}

func mustEncode(f func() ([]byte, error)) []byte {
	data, err := f()
	if err != nil {
		log.Printf("session: encode: %v", err)
		return nil
	}
	return data
}

func mustEncode1[T any](f func(T) ([]byte, error), v T) []byte {
	data, err := f(v)
	if err != nil {
		log.Printf("session: encode: %v", err)
		return nil
	}
	return data
}
