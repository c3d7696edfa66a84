// Package chattypes holds the data model shared by every core component:
// rooms, participants, messages, and the tagged content/event variants
// exchanged between them.
package chattypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// UserID, RoomID and MessageID are all 32-bit, matching the store's
// 32-bit SERIAL/INTEGER id columns.
type UserID = uint32
type RoomID = uint32
type MessageID = uint32

// User is an opaque, core-immutable identity. The core never mutates a
// User record; it only carries the id returned by the identity resolver.
type User struct {
	ID UserID
}

// ChatRoom is read-only from the core's perspective; mutation belongs to
// the REST collaborator.
type ChatRoom struct {
	ID        RoomID    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   UserID    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is one row of a room's durable membership list.
type Participant struct {
	RoomID   RoomID    `json:"room_id"`
	UserID   UserID    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// ContentKind tags a ChatMessageContent variant.
type ContentKind string

const (
	ContentText  ContentKind = "Text"
	ContentImage ContentKind = "Image"
	ContentVideo ContentKind = "Video"
	ContentAudio ContentKind = "Audio"
)

// ChatMessageContent is a tagged variant over {Text, Image, Video, Audio}.
// Binary variants carry raw bytes and are encoded on the wire (and in the
// store's JSON blob columns) as a plain array of integers, not base64 —
// this matches the original Rust implementation's serde derive, which the
// distilled spec calls out explicitly.
type ChatMessageContent struct {
	Kind  ContentKind
	Text  string
	Bytes []byte
}

// NewTextContent builds a Text content variant.
func NewTextContent(text string) ChatMessageContent {
	return ChatMessageContent{Kind: ContentText, Text: text}
}

// NewBinaryContent builds an Image/Video/Audio content variant.
func NewBinaryContent(kind ContentKind, data []byte) ChatMessageContent {
	return ChatMessageContent{Kind: kind, Bytes: data}
}

func (c ChatMessageContent) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentText:
		return json.Marshal(map[string]string{"Text": c.Text})
	case ContentImage, ContentVideo, ContentAudio:
		// encoding/json writes any uint8 slice as base64, so widen to int.
		nums := make([]int, len(c.Bytes))
		for i, b := range c.Bytes {
			nums[i] = int(b)
		}
		return json.Marshal(map[string][]int{string(c.Kind): nums})
	default:
		return nil, fmt.Errorf("chattypes: unrecognized content kind %q", c.Kind)
	}
}

func (c *ChatMessageContent) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("chattypes: decode content envelope: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("chattypes: content variant must have exactly one key, got %d", len(raw))
	}
	for key, val := range raw {
		kind := ContentKind(key)
		switch kind {
		case ContentText:
			var text string
			if err := json.Unmarshal(val, &text); err != nil {
				return fmt.Errorf("chattypes: decode Text content: %w", err)
			}
			*c = ChatMessageContent{Kind: ContentText, Text: text}
		case ContentImage, ContentVideo, ContentAudio:
			var bytes []byte
			if err := json.Unmarshal(val, &bytes); err != nil {
				return fmt.Errorf("chattypes: decode %s content: %w", kind, err)
			}
			*c = ChatMessageContent{Kind: kind, Bytes: bytes}
		default:
			return fmt.Errorf("chattypes: unrecognized content tag %q", key)
		}
	}
	return nil
}

// TimeSensitiveAction records one user's delivered- or seen-acknowledgement
// of one message.
type TimeSensitiveAction struct {
	Time time.Time `json:"time"`
	By   UserID    `json:"by"`
}

// ChatMessage is the authoritative, persisted message record. ID is 0
// until the store assigns it on insert.
type ChatMessage struct {
	ID            MessageID             `json:"id"`
	FromID        UserID                `json:"from_id"`
	ToID          RoomID                `json:"to_id"`
	Content       ChatMessageContent    `json:"content"`
	TimeSent      time.Time             `json:"time_sent"`
	TimeDelivered []TimeSensitiveAction `json:"time_delivered"`
	TimeSeen      []TimeSensitiveAction `json:"time_seen"`
}

// Clone returns a deep-enough copy for safe cross-goroutine handoff: the
// two action slices are copied so a publisher and its subscribers never
// alias the same backing array.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	out.TimeDelivered = append([]TimeSensitiveAction(nil), m.TimeDelivered...)
	out.TimeSeen = append([]TimeSensitiveAction(nil), m.TimeSeen...)
	return out
}

func hasActionBy(list []TimeSensitiveAction, user UserID) bool {
	for _, a := range list {
		if a.By == user {
			return true
		}
	}
	return false
}

// HasDeliveredBy reports whether user already has a delivered entry.
func (m *ChatMessage) HasDeliveredBy(user UserID) bool {
	return hasActionBy(m.TimeDelivered, user)
}

// HasSeenBy reports whether user already has a seen entry.
func (m *ChatMessage) HasSeenBy(user UserID) bool {
	return hasActionBy(m.TimeSeen, user)
}

// AppendDelivered appends action unless user already has a delivered
// entry, preserving the "at most one per recipient" invariant. Returns
// false when the append was suppressed.
func (m *ChatMessage) AppendDelivered(action TimeSensitiveAction) bool {
	if m.HasDeliveredBy(action.By) {
		return false
	}
	m.TimeDelivered = append(m.TimeDelivered, action)
	return true
}

// AppendSeen appends action unless user already has a seen entry.
// Returns false when the append was suppressed.
func (m *ChatMessage) AppendSeen(action TimeSensitiveAction) bool {
	if m.HasSeenBy(action.By) {
		return false
	}
	m.TimeSeen = append(m.TimeSeen, action)
	return true
}

// LastDelivered returns the most recently appended delivered action, if any.
func (m *ChatMessage) LastDelivered() (TimeSensitiveAction, bool) {
	if len(m.TimeDelivered) == 0 {
		return TimeSensitiveAction{}, false
	}
	return m.TimeDelivered[len(m.TimeDelivered)-1], true
}

// LastSeen returns the most recently appended seen action, if any.
func (m *ChatMessage) LastSeen() (TimeSensitiveAction, bool) {
	if len(m.TimeSeen) == 0 {
		return TimeSensitiveAction{}, false
	}
	return m.TimeSeen[len(m.TimeSeen)-1], true
}

// ChatMessageSender is the payload of a client's SEND MESSAGE frame: a
// message not yet addressed with a fromId or persisted.
type ChatMessageSender struct {
	To      RoomID             `json:"to"`
	Message ChatMessageContent `json:"message"`
}
