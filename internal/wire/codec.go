// Package wire implements the tagged {head, body} frame codec exchanged
// with clients over the WebSocket upgrade.
//
// Encoding is symmetric: Encode* builds the {head, body} envelope for an
// outbound variant, Decode parses an inbound frame and dispatches on its
// head. The head is compared as a literal ASCII string with spaces
// preserved — "SEE MESSAGES" and "SEEMESSAGES" are different heads.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/kartnagrale/relaychat/internal/chattypes"
)

// Head is the tag carried in every frame.
type Head string

// Inbound heads.
const (
	HeadLogin         Head = "LOGIN"
	HeadLogout        Head = "LOGOUT"
	HeadSeeMessages   Head = "SEE MESSAGES"
	HeadSendMessage   Head = "SEND MESSAGE"
	HeadJoinGroup     Head = "JOIN GROUP"
	HeadLeaveGroup    Head = "LEAVE GROUP"
	HeadFetchMessages Head = "FETCH MESSAGES"
)

// Outbound heads.
const (
	HeadAcknowledge      Head = "ACKNOWLEDGE"
	HeadLoggedIn         Head = "LOGGED IN"
	HeadMessageSent      Head = "MESSAGE SENT"
	HeadMessageReceived  Head = "MESSAGE RECIEVED" // sic — the wire spelling is fixed
	HeadMessageDelivered Head = "MESSAGE DELIVERED"
	HeadMessageSeen      Head = "MESSAGE SEEN"
	HeadError            Head = "ERROR"
)

// Envelope is the wire-level {head, body} shape.
type Envelope struct {
	Head Head            `json:"head"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Kind identifies which decoded inbound variant a Frame holds.
type Kind string

const (
	KindLogin         Kind = Kind(HeadLogin)
	KindLogout        Kind = Kind(HeadLogout)
	KindSeeMessages   Kind = Kind(HeadSeeMessages)
	KindSendMessage   Kind = Kind(HeadSendMessage)
	KindJoinGroup     Kind = Kind(HeadJoinGroup)
	KindLeaveGroup    Kind = Kind(HeadLeaveGroup)
	KindFetchMessages Kind = Kind(HeadFetchMessages)
)

// Frame is a decoded inbound frame. Exactly the field matching Kind is
// populated.
type Frame struct {
	Kind Kind

	// LoginCredential is the raw, opaque body of a LOGIN frame — it is
	// forwarded verbatim to the identity resolver (C3), which alone knows
	// how to interpret it.
	LoginCredential json.RawMessage

	// SeeMessageIDs is the body of a SEE MESSAGES frame.
	SeeMessageIDs []chattypes.MessageID

	// SendMessage is the body of a SEND MESSAGE frame.
	SendMessage chattypes.ChatMessageSender
}

// Decode parses a single wire frame and dispatches on its head. An
// undecodable frame or an unrecognized head both produce an error the
// caller should treat as a chaterr.ProtocolError.
func Decode(data []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("wire: malformed envelope: %w", err)
	}

	switch env.Head {
	case HeadLogin:
		return Frame{Kind: KindLogin, LoginCredential: env.Body}, nil

	case HeadLogout:
		return Frame{Kind: KindLogout}, nil

	case HeadSeeMessages:
		var ids []chattypes.MessageID
		if len(env.Body) > 0 {
			if err := json.Unmarshal(env.Body, &ids); err != nil {
				return Frame{}, fmt.Errorf("wire: decode SEE MESSAGES body: %w", err)
			}
		}
		return Frame{Kind: KindSeeMessages, SeeMessageIDs: ids}, nil

	case HeadSendMessage:
		var sender chattypes.ChatMessageSender
		if err := json.Unmarshal(env.Body, &sender); err != nil {
			return Frame{}, fmt.Errorf("wire: decode SEND MESSAGE body: %w", err)
		}
		return Frame{Kind: KindSendMessage, SendMessage: sender}, nil

	case HeadJoinGroup:
		return Frame{Kind: KindJoinGroup}, nil

	case HeadLeaveGroup:
		return Frame{Kind: KindLeaveGroup}, nil

	case HeadFetchMessages:
		return Frame{Kind: KindFetchMessages}, nil

	default:
		return Frame{}, fmt.Errorf("wire: unrecognized head %q", env.Head)
	}
}

func encode(head Head, body any) ([]byte, error) {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s body: %w", head, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Head: head, Body: raw})
}

// EncodeAcknowledge builds an ACKNOWLEDGE frame (null body).
func EncodeAcknowledge() ([]byte, error) { return encode(HeadAcknowledge, nil) }

// EncodeLoggedIn builds a LOGGED IN frame (null body).
func EncodeLoggedIn() ([]byte, error) { return encode(HeadLoggedIn, nil) }

// EncodeMessageSent builds a MESSAGE SENT frame (null body).
func EncodeMessageSent() ([]byte, error) { return encode(HeadMessageSent, nil) }

// EncodeMessageReceived builds a MESSAGE RECIEVED frame carrying the full
// ChatMessage.
func EncodeMessageReceived(m chattypes.ChatMessage) ([]byte, error) {
	return encode(HeadMessageReceived, m)
}

// MessageUpdatePayload is the body of MESSAGE DELIVERED / MESSAGE SEEN.
type MessageUpdatePayload struct {
	TimeUpdate    chattypes.TimeSensitiveAction `json:"timeUpdate"`
	ChatMessageID chattypes.MessageID           `json:"chatMessageId"`
}

// EncodeMessageDelivered builds a MESSAGE DELIVERED frame.
func EncodeMessageDelivered(p MessageUpdatePayload) ([]byte, error) {
	return encode(HeadMessageDelivered, p)
}

// EncodeMessageSeen builds a MESSAGE SEEN frame.
func EncodeMessageSeen(p MessageUpdatePayload) ([]byte, error) {
	return encode(HeadMessageSeen, p)
}

// EncodeError builds an ERROR frame carrying a plain string body.
func EncodeError(msg string) ([]byte, error) { return encode(HeadError, msg) }
