// Package pipeline implements C8: the three request/response disciplines
// a session runs a decoded frame through — send, delivered, seen. Each
// one is grounded on the corresponding handler in the teacher's
// handlers/chat.go (validate membership, persist, broadcast), adapted to
// route persistence through internal/store and fan-out through
// internal/rooms instead of a single global hub.
package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/kartnagrale/relaychat/internal/chaterr"
	"github.com/kartnagrale/relaychat/internal/chattypes"
	"github.com/kartnagrale/relaychat/internal/presence"
	"github.com/kartnagrale/relaychat/internal/rooms"
	"github.com/kartnagrale/relaychat/internal/updatequeue"
)

// MessageStore is the slice of internal/store.Store the pipelines need.
// Depending on an interface instead of *store.Store directly means a
// test can exercise the send/delivered/seen disciplines against an
// in-memory fake instead of a live Postgres connection.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg chattypes.ChatMessage) (chattypes.MessageID, error)
	GetMessage(ctx context.Context, id chattypes.MessageID) (chattypes.ChatMessage, error)
	UpdateMessage(ctx context.Context, msg chattypes.ChatMessage) error
	FetchMessagesWithIds(ctx context.Context, ids []chattypes.MessageID) ([]chattypes.ChatMessage, error)
}

// Pipelines bundles the collaborators every operation needs. A session
// holds one Pipelines value built once at startup and shared across every
// connection, mirroring the teacher's single package-level db.Pool/Hub
// shared across handlers.
type Pipelines struct {
	Store       MessageStore
	Rooms       *rooms.Registry
	Presence    *presence.Registry
	UpdateQueue *updatequeue.Manager
}

// publishOrIgnore fans ev out to roomID's fabric, treating "room has no
// active subscribers" as success rather than an error — a send or update
// is never rejected merely because nobody is currently listening.
func (p *Pipelines) publishOrIgnore(roomID chattypes.RoomID, ev chattypes.BroadcastEvent) error {
	pub, err := p.Rooms.Publisher(roomID)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotActive) {
			return nil
		}
		return err
	}
	return pub.Publish(ev)
}

// Send runs §4.8's send pipeline: fromID must belong to sender.To, the
// message is persisted with empty delivered/seen lists, then published as
// a NewMessage event to the room's fabric.
func (p *Pipelines) Send(ctx context.Context, fromID chattypes.UserID, sender chattypes.ChatMessageSender) (chattypes.ChatMessage, error) {
	if !p.Presence.BelongsTo(fromID, sender.To) {
		return chattypes.ChatMessage{}, chaterr.NewAuthorizationError("pipeline: user %d does not belong to room %d", fromID, sender.To)
	}

	msg := chattypes.ChatMessage{
		FromID:   fromID,
		ToID:     sender.To,
		Content:  sender.Message,
		TimeSent: time.Now().UTC(),
	}
	id, err := p.Store.InsertMessage(ctx, msg)
	if err != nil {
		return chattypes.ChatMessage{}, err
	}
	msg.ID = id

	if err := p.publishOrIgnore(msg.ToID, chattypes.NewMessageEvent(msg)); err != nil {
		return chattypes.ChatMessage{}, err
	}
	return msg, nil
}

// Delivered runs §4.8's delivered pipeline for one recipient of one
// message, serialized through the update queue (C6) so two recipients
// acknowledging the same message concurrently can never race the
// read-modify-write. Appending a second delivered entry for a recipient
// who already has one is a silent no-op, matching AppendDelivered's
// at-most-once-per-recipient invariant.
func (p *Pipelines) Delivered(ctx context.Context, msgID chattypes.MessageID, by chattypes.UserID) error {
	u := updatequeue.Update{Kind: updatequeue.KindDelivered, By: by, At: time.Now().UTC()}
	return p.UpdateQueue.Run(ctx, msgID, u, func() error {
		msg, err := p.Store.GetMessage(ctx, msgID)
		if err != nil {
			return err
		}
		if !msg.AppendDelivered(chattypes.TimeSensitiveAction{Time: u.At, By: by}) {
			return nil
		}
		if err := p.Store.UpdateMessage(ctx, msg); err != nil {
			return err
		}
		return p.publishOrIgnore(msg.ToID, chattypes.DeliveredUpdateEvent(msg))
	})
}

// Seen runs §4.8's seen pipeline. ids must be non-empty and must all
// resolve to messages addressed to the same room, and the caller must
// belong to that room; per-id acknowledgement then runs inside a single
// detached task that walks the id list sequentially (the source's own
// fire-and-forget shape for see_messages spawns exactly one task per
// call, not one per id), each id serialized independently through the
// update queue. A message already seen by userID is skipped via
// `continue` — the source's corresponding loop used `break`, which
// silently dropped every id after the first already-seen one;
// SPEC_FULL.md's resolution of that issue is `continue`, used here.
func (p *Pipelines) Seen(ctx context.Context, userID chattypes.UserID, ids []chattypes.MessageID) error {
	if len(ids) == 0 {
		return chaterr.NewProtocolError("pipeline: SEE MESSAGES requires at least one message id")
	}

	msgs, err := p.Store.FetchMessagesWithIds(ctx, ids)
	if err != nil {
		return err
	}
	if len(msgs) != len(ids) {
		return chaterr.NewProtocolError("pipeline: SEE MESSAGES referenced %d ids but only %d resolved", len(ids), len(msgs))
	}

	roomID := msgs[0].ToID
	for _, m := range msgs[1:] {
		if m.ToID != roomID {
			return chaterr.NewProtocolError("pipeline: SEE MESSAGES ids must all address the same room")
		}
	}
	if !p.Presence.BelongsTo(userID, roomID) {
		return chaterr.NewAuthorizationError("pipeline: user %d does not belong to room %d", userID, roomID)
	}

	msgIDs := make([]chattypes.MessageID, 0, len(msgs))
	for _, m := range msgs {
		if m.HasSeenBy(userID) {
			continue
		}
		msgIDs = append(msgIDs, m.ID)
	}
	go p.seeAll(msgIDs, userID)
	return nil
}

// seeAll is the detached task Seen spawns: one goroutine per
// `SEE MESSAGES` call that walks msgIDs sequentially, matching
// original_source's `see_messages`, which spawns a single
// `tokio::task::spawn` iterating the id list rather than a task per id.
// It runs unbound from the caller's context since the frame that
// triggered it may complete (or the connection may close) before the
// update queue grants an id its turn. Per-id failures are logged, not
// returned, per spec.md §4.8: "Errors inside this loop are logged and do
// not abort the enclosing session."
func (p *Pipelines) seeAll(msgIDs []chattypes.MessageID, userID chattypes.UserID) {
	for _, msgID := range msgIDs {
		if err := p.seeOne(msgID, userID); err != nil {
			log.Printf("pipeline: seen update failed for message %d by user %d: %v", msgID, userID, err)
		}
	}
}

// seeOne applies the C6 discipline for one recipient's seen-acknowledgement
// of one message.
func (p *Pipelines) seeOne(msgID chattypes.MessageID, userID chattypes.UserID) error {
	ctx := context.Background()
	u := updatequeue.Update{Kind: updatequeue.KindSeen, By: userID, At: time.Now().UTC()}
	return p.UpdateQueue.Run(ctx, msgID, u, func() error {
		msg, err := p.Store.GetMessage(ctx, msgID)
		if err != nil {
			return err
		}
		if !msg.AppendSeen(chattypes.TimeSensitiveAction{Time: u.At, By: userID}) {
			return nil
		}
		if err := p.Store.UpdateMessage(ctx, msg); err != nil {
			return err
		}
		return p.publishOrIgnore(msg.ToID, chattypes.SeenUpdateEvent(msg))
	})
}
