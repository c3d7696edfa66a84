package rooms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartnagrale/relaychat/internal/chattypes"
)

func TestAttachPublishDetach(t *testing.T) {
	r := NewRegistry()
	sub := r.Attach(1, 100)

	pub, err := r.Publisher(1)
	require.NoError(t, err)

	msg := chattypes.ChatMessage{ID: 1, ToID: 1}
	require.NoError(t, pub.Publish(chattypes.NewMessageEvent(msg)))

	ev, ok := sub.Recv()
	require.True(t, ok)
	assert.Equal(t, chattypes.EventNewMessage, ev.Kind)
	assert.Equal(t, chattypes.MessageID(1), ev.Message.ID)

	r.Detach(1, 100)
	_, ok = sub.Recv()
	assert.False(t, ok)

	_, err = r.Publisher(1)
	assert.ErrorIs(t, err, ErrRoomNotActive)
}

func TestPublisherOnInactiveRoom(t *testing.T) {
	r := NewRegistry()
	_, err := r.Publisher(99)
	assert.ErrorIs(t, err, ErrRoomNotActive)
}

func TestPublishDropsSlowSubscriberOnBacklogOverflow(t *testing.T) {
	r := NewRegistry()
	slow := r.Attach(1, 1)
	fast := r.Attach(1, 2)

	// Keep the fast subscriber's backlog empty so only the never-drained
	// slow subscriber ever hits FabricCapacity.
	drained := make(chan chattypes.BroadcastEvent, FabricCapacity+5)
	go func() {
		for {
			ev, ok := fast.Recv()
			if !ok {
				close(drained)
				return
			}
			drained <- ev
		}
	}()

	pub, err := r.Publisher(1)
	require.NoError(t, err)

	for i := 0; i < FabricCapacity+5; i++ {
		_ = pub.Publish(chattypes.NewMessageEvent(chattypes.ChatMessage{ID: chattypes.MessageID(i), ToID: 1}))
	}

	// The slow subscriber never drained, so its fabric observes closure.
	require.Eventually(t, func() bool {
		_, ok := slow.Recv()
		return !ok
	}, time.Second, time.Millisecond)

	// The fast subscriber kept up and was never dropped.
	participants, err := r.ParticipantsOf(1)
	require.NoError(t, err)
	assert.Contains(t, participants, chattypes.UserID(2))
}

func TestParticipantsOf(t *testing.T) {
	r := NewRegistry()
	r.Attach(5, 1)
	r.Attach(5, 2)

	participants, err := r.ParticipantsOf(5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []chattypes.UserID{1, 2}, participants)
}

func TestDetachTearsDownRoomWhenLastSubscriberLeaves(t *testing.T) {
	r := NewRegistry()
	r.Attach(3, 1)
	r.Detach(3, 1)

	_, err := r.Publisher(3)
	assert.ErrorIs(t, err, ErrRoomNotActive)
}

func TestAttachIsSafeForConcurrentUse(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(uid chattypes.UserID) {
			r.Attach(1, uid)
			done <- struct{}{}
		}(chattypes.UserID(i))
	}
	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for concurrent Attach calls")
		}
	}
	participants, err := r.ParticipantsOf(1)
	require.NoError(t, err)
	assert.Len(t, participants, 20)
}
