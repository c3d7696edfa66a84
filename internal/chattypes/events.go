package chattypes

// EventKind tags a BroadcastEvent variant.
type EventKind string

const (
	// EventNewMessageRequest is internal only and is never published on a
	// fabric: the send pipeline persists the message and publishes
	// NewMessage instead. A subscriber seeing this kind is a bug.
	EventNewMessageRequest EventKind = "NewMessageRequest"
	EventNewMessage        EventKind = "NewMessage"
	EventDeliveredUpdate   EventKind = "DeliveredUpdate"
	EventSeenUpdate        EventKind = "SeenUpdate"
)

// NewMessageRequest is the not-yet-persisted message a sender wants
// published to a room.
type NewMessageRequest struct {
	FromID UserID
	Sender ChatMessageSender
}

// BroadcastEvent is the value type a room's fabric carries.
type BroadcastEvent struct {
	Kind    EventKind
	Request NewMessageRequest // valid when Kind == EventNewMessageRequest
	Message ChatMessage       // valid for NewMessage / DeliveredUpdate / SeenUpdate
}

// NewMessageEvent wraps a persisted message as a NewMessage event.
func NewMessageEvent(m ChatMessage) BroadcastEvent {
	return BroadcastEvent{Kind: EventNewMessage, Message: m}
}

// DeliveredUpdateEvent wraps a persisted message as a DeliveredUpdate event.
func DeliveredUpdateEvent(m ChatMessage) BroadcastEvent {
	return BroadcastEvent{Kind: EventDeliveredUpdate, Message: m}
}

// SeenUpdateEvent wraps a persisted message as a SeenUpdate event.
func SeenUpdateEvent(m ChatMessage) BroadcastEvent {
	return BroadcastEvent{Kind: EventSeenUpdate, Message: m}
}
