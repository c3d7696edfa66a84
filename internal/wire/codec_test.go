package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartnagrale/relaychat/internal/chattypes"
)

func TestDecodeLogin(t *testing.T) {
	frame, err := Decode([]byte(`{"head":"LOGIN","body":{"token":"abc"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindLogin, frame.Kind)
	assert.JSONEq(t, `{"token":"abc"}`, string(frame.LoginCredential))
}

func TestDecodeSeeMessages(t *testing.T) {
	frame, err := Decode([]byte(`{"head":"SEE MESSAGES","body":[1,2,3]}`))
	require.NoError(t, err)
	assert.Equal(t, KindSeeMessages, frame.Kind)
	assert.Equal(t, []chattypes.MessageID{1, 2, 3}, frame.SeeMessageIDs)
}

func TestDecodeSendMessage(t *testing.T) {
	body := `{"head":"SEND MESSAGE","body":{"to":9,"message":{"Text":"hi"}}}`
	frame, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, KindSendMessage, frame.Kind)
	assert.Equal(t, chattypes.RoomID(9), frame.SendMessage.To)
	assert.Equal(t, chattypes.ContentText, frame.SendMessage.Message.Kind)
	assert.Equal(t, "hi", frame.SendMessage.Message.Text)
}

func TestDecodeUnrecognizedHead(t *testing.T) {
	_, err := Decode([]byte(`{"head":"DANCE","body":null}`))
	assert.Error(t, err)
}

func TestDecodeMalformedEnvelope(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeMessageReceivedRoundTrip(t *testing.T) {
	msg := chattypes.ChatMessage{ID: 5, FromID: 1, ToID: 2, Content: chattypes.NewTextContent("yo")}
	data, err := EncodeMessageReceived(msg)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, HeadMessageReceived, env.Head)

	var decoded chattypes.ChatMessage
	require.NoError(t, json.Unmarshal(env.Body, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestEncodeMessageDelivered(t *testing.T) {
	data, err := EncodeMessageDelivered(MessageUpdatePayload{ChatMessageID: 3})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, HeadMessageDelivered, env.Head)
}
