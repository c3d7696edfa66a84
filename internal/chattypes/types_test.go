package chattypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessageContentTextRoundTrip(t *testing.T) {
	content := NewTextContent("hello room")

	data, err := json.Marshal(content)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Text":"hello room"}`, string(data))

	var decoded ChatMessageContent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, content, decoded)
}

func TestChatMessageContentImageEncodesAsIntegerArray(t *testing.T) {
	content := NewBinaryContent(ContentImage, []byte{0, 1, 255})

	data, err := json.Marshal(content)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Image":[0,1,255]}`, string(data))

	var decoded ChatMessageContent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, content, decoded)
}

func TestChatMessageContentRejectsMultiKeyEnvelope(t *testing.T) {
	var c ChatMessageContent
	err := json.Unmarshal([]byte(`{"Text":"a","Image":[1]}`), &c)
	assert.Error(t, err)
}

func TestChatMessageContentRejectsUnknownTag(t *testing.T) {
	var c ChatMessageContent
	err := json.Unmarshal([]byte(`{"Sticker":"x"}`), &c)
	assert.Error(t, err)
}

func TestAppendDeliveredIsAtMostOncePerRecipient(t *testing.T) {
	var m ChatMessage
	assert.True(t, m.AppendDelivered(TimeSensitiveAction{By: 1}))
	assert.False(t, m.AppendDelivered(TimeSensitiveAction{By: 1}))
	assert.Len(t, m.TimeDelivered, 1)
	assert.True(t, m.HasDeliveredBy(1))
	assert.False(t, m.HasDeliveredBy(2))
}

func TestAppendSeenIsAtMostOncePerRecipient(t *testing.T) {
	var m ChatMessage
	assert.True(t, m.AppendSeen(TimeSensitiveAction{By: 7}))
	assert.False(t, m.AppendSeen(TimeSensitiveAction{By: 7}))
	last, ok := m.LastSeen()
	require.True(t, ok)
	assert.Equal(t, UserID(7), last.By)
}

func TestCloneDoesNotAliasActionSlices(t *testing.T) {
	m := ChatMessage{}
	m.AppendDelivered(TimeSensitiveAction{By: 1})

	clone := m.Clone()
	clone.AppendDelivered(TimeSensitiveAction{By: 2})

	assert.Len(t, m.TimeDelivered, 1)
	assert.Len(t, clone.TimeDelivered, 2)
}
