package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartnagrale/relaychat/internal/chaterr"
	"github.com/kartnagrale/relaychat/internal/chattypes"
	"github.com/kartnagrale/relaychat/internal/presence"
	"github.com/kartnagrale/relaychat/internal/rooms"
	"github.com/kartnagrale/relaychat/internal/updatequeue"
)

const (
	assertEventuallyTimeout = time.Second
	assertEventuallyTick    = time.Millisecond
)

// fakeStore is an in-memory MessageStore standing in for internal/store
// so these tests never need a live Postgres connection.
type fakeStore struct {
	mu       sync.Mutex
	nextID   chattypes.MessageID
	messages map[chattypes.MessageID]chattypes.ChatMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[chattypes.MessageID]chattypes.ChatMessage)}
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg chattypes.ChatMessage) (chattypes.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = f.nextID
	msg.TimeDelivered = nil
	msg.TimeSeen = nil
	f.messages[msg.ID] = msg
	return msg.ID, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id chattypes.MessageID) (chattypes.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return chattypes.ChatMessage{}, chaterr.NewStoreError("get_message", assertNotFound{})
	}
	return m.Clone(), nil
}

func (f *fakeStore) UpdateMessage(ctx context.Context, msg chattypes.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.messages[msg.ID]
	if !ok {
		return chaterr.NewStoreError("update_message", assertNotFound{})
	}
	existing.TimeDelivered = msg.TimeDelivered
	existing.TimeSeen = msg.TimeSeen
	f.messages[msg.ID] = existing
	return nil
}

func (f *fakeStore) FetchMessagesWithIds(ctx context.Context, ids []chattypes.MessageID) ([]chattypes.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chattypes.ChatMessage
	for _, id := range ids {
		if m, ok := f.messages[id]; ok {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func newTestPipelines() (*Pipelines, *fakeStore) {
	fs := newFakeStore()
	return &Pipelines{
		Store:       fs,
		Rooms:       rooms.NewRegistry(),
		Presence:    presence.NewRegistry(),
		UpdateQueue: updatequeue.NewManager(),
	}, fs
}

func TestSendRejectsNonMember(t *testing.T) {
	p, _ := newTestPipelines()
	_, err := p.Send(context.Background(), 1, chattypes.ChatMessageSender{To: 5, Message: chattypes.NewTextContent("hi")})

	var authz *chaterr.AuthorizationError
	assert.ErrorAs(t, err, &authz)
}

func TestSendPersistsAndPublishes(t *testing.T) {
	p, _ := newTestPipelines()
	require.NoError(t, p.Presence.SetUserRooms(1, []chattypes.RoomID{5}))
	sub := p.Rooms.Attach(5, 1)

	msg, err := p.Send(context.Background(), 1, chattypes.ChatMessageSender{To: 5, Message: chattypes.NewTextContent("hi")})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	ev, ok := sub.Recv()
	require.True(t, ok)
	assert.Equal(t, chattypes.EventNewMessage, ev.Kind)
	assert.Equal(t, msg.ID, ev.Message.ID)
}

func TestSendSucceedsWithoutAnyActiveSubscriber(t *testing.T) {
	p, _ := newTestPipelines()
	require.NoError(t, p.Presence.SetUserRooms(1, []chattypes.RoomID{5}))

	_, err := p.Send(context.Background(), 1, chattypes.ChatMessageSender{To: 5, Message: chattypes.NewTextContent("hi")})
	assert.NoError(t, err)
}

func TestDeliveredIsIdempotentPerRecipient(t *testing.T) {
	p, fs := newTestPipelines()
	id, err := fs.InsertMessage(context.Background(), chattypes.ChatMessage{FromID: 1, ToID: 5})
	require.NoError(t, err)

	require.NoError(t, p.Delivered(context.Background(), id, 2))
	require.NoError(t, p.Delivered(context.Background(), id, 2))

	msg, err := fs.GetMessage(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, msg.TimeDelivered, 1)
}

func TestSeenRejectsEmptyIDs(t *testing.T) {
	p, _ := newTestPipelines()
	err := p.Seen(context.Background(), 1, nil)
	var protoErr *chaterr.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestSeenRejectsPartiallyResolvedIDs(t *testing.T) {
	p, fs := newTestPipelines()
	id, err := fs.InsertMessage(context.Background(), chattypes.ChatMessage{FromID: 1, ToID: 5})
	require.NoError(t, err)

	err = p.Seen(context.Background(), 1, []chattypes.MessageID{id, id + 999})
	var protoErr *chaterr.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestSeenRejectsIDsSpanningMultipleRooms(t *testing.T) {
	p, fs := newTestPipelines()
	a, err := fs.InsertMessage(context.Background(), chattypes.ChatMessage{FromID: 1, ToID: 5})
	require.NoError(t, err)
	b, err := fs.InsertMessage(context.Background(), chattypes.ChatMessage{FromID: 1, ToID: 6})
	require.NoError(t, err)

	err = p.Seen(context.Background(), 1, []chattypes.MessageID{a, b})
	var protoErr *chaterr.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestSeenRejectsNonMember(t *testing.T) {
	p, fs := newTestPipelines()
	id, err := fs.InsertMessage(context.Background(), chattypes.ChatMessage{FromID: 1, ToID: 5})
	require.NoError(t, err)

	err = p.Seen(context.Background(), 2, []chattypes.MessageID{id})
	var authz *chaterr.AuthorizationError
	assert.ErrorAs(t, err, &authz)
}

func TestSeenSkipsAlreadySeenInsteadOfAbortingTheBatch(t *testing.T) {
	p, fs := newTestPipelines()
	require.NoError(t, p.Presence.SetUserRooms(9, []chattypes.RoomID{5}))

	a, err := fs.InsertMessage(context.Background(), chattypes.ChatMessage{FromID: 1, ToID: 5})
	require.NoError(t, err)
	b, err := fs.InsertMessage(context.Background(), chattypes.ChatMessage{FromID: 1, ToID: 5})
	require.NoError(t, err)

	// a is already seen by 9; the source's `break` would have silently
	// dropped b too. SPEC_FULL.md's resolution (`continue`) must still
	// process b.
	msgA, err := fs.GetMessage(context.Background(), a)
	require.NoError(t, err)
	msgA.AppendSeen(chattypes.TimeSensitiveAction{By: 9})
	require.NoError(t, fs.UpdateMessage(context.Background(), msgA))

	require.NoError(t, p.Seen(context.Background(), 9, []chattypes.MessageID{a, b}))

	require.Eventually(t, func() bool {
		msgB, err := fs.GetMessage(context.Background(), b)
		return err == nil && msgB.HasSeenBy(9)
	}, assertEventuallyTimeout, assertEventuallyTick)
}
