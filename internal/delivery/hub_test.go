package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MessengerCore/server/internal/models"
)

type fakeReplay struct {
	messages map[uuid.UUID][]models.Message
}

func (f *fakeReplay) ListMessagesAfterSeq(ctx context.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range f.messages[chatID] {
		if m.Seq > afterSeq {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakePresence struct {
	online map[uuid.UUID]bool
}

func (f *fakePresence) SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	if f.online == nil {
		f.online = make(map[uuid.UUID]bool)
	}
	f.online[userID] = online
	return nil
}

func newTestHub() (*Hub, *fakeReplay, *fakePresence) {
	replay := &fakeReplay{messages: make(map[uuid.UUID][]models.Message)}
	presence := &fakePresence{}
	hub := NewHub(replay, presence, clockwork.NewFakeClock(), zap.NewNop().Sugar())
	return hub, replay, presence
}

func drainOne(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesAllChatSubscribers(t *testing.T) {
	ctx := context.Background()
	hub, _, _ := newTestHub()
	chatID := uuid.New()

	a := hub.Connect(ctx, uuid.New(), uuid.New())
	b := hub.Connect(ctx, uuid.New(), uuid.New())
	require.NoError(t, hub.Subscribe(ctx, a, chatID, -1))
	require.NoError(t, hub.Subscribe(ctx, b, chatID, -1))

	ev := drainOne(t, a)
	assert.Equal(t, EventPresenceChanged, ev.Type)

	hub.Publish(Event{Type: EventMessagePosted, ChatID: chatID, Seq: 1})

	for _, sub := range []*Subscriber{a, b} {
		for {
			ev := drainOne(t, sub)
			if ev.Type == EventPresenceChanged {
				continue
			}
			assert.Equal(t, EventMessagePosted, ev.Type)
			assert.EqualValues(t, 1, ev.Seq)
			break
		}
	}
}

func TestPublishSkipsOtherChats(t *testing.T) {
	ctx := context.Background()
	hub, _, _ := newTestHub()
	chatA, chatB := uuid.New(), uuid.New()

	sub := hub.Connect(ctx, uuid.New(), uuid.New())
	require.NoError(t, hub.Subscribe(ctx, sub, chatA, -1))

	hub.Publish(Event{Type: EventMessagePosted, ChatID: chatB, Seq: 7})
	hub.Publish(Event{Type: EventMessagePosted, ChatID: chatA, Seq: 1})

	ev := drainOne(t, sub)
	assert.Equal(t, chatA, ev.ChatID)
}

func TestSubscribeReplaysMissedMessages(t *testing.T) {
	ctx := context.Background()
	hub, replay, _ := newTestHub()
	chatID := uuid.New()

	for seq := int64(1); seq <= 5; seq++ {
		replay.messages[chatID] = append(replay.messages[chatID], models.Message{
			ID: uuid.New(), ChatID: chatID, Seq: seq,
		})
	}

	sub := hub.Connect(ctx, uuid.New(), uuid.New())
	require.NoError(t, hub.Subscribe(ctx, sub, chatID, 2))

	for want := int64(3); want <= 5; want++ {
		for {
			ev := drainOne(t, sub)
			if ev.Type == EventPresenceChanged {
				continue
			}
			assert.Equal(t, EventMessagePosted, ev.Type)
			assert.Equal(t, want, ev.Seq)
			break
		}
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	ctx := context.Background()
	hub, _, _ := newTestHub()
	chatID := uuid.New()

	slow := hub.Connect(ctx, uuid.New(), uuid.New())
	require.NoError(t, hub.Subscribe(ctx, slow, chatID, -1))

	// nobody drains slow; overflow its buffer
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer+8; i++ {
			hub.Publish(Event{Type: EventMessagePosted, ChatID: chatID, Seq: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
}

func TestConnectAndDisconnectTrackPresence(t *testing.T) {
	ctx := context.Background()
	hub, _, presence := newTestHub()
	userID := uuid.New()
	chatID := uuid.New()

	sub := hub.Connect(ctx, uuid.New(), userID)
	assert.True(t, presence.online[userID])

	require.NoError(t, hub.Subscribe(ctx, sub, chatID, -1))

	watcher := hub.Connect(ctx, uuid.New(), uuid.New())
	require.NoError(t, hub.Subscribe(ctx, watcher, chatID, -1))

	hub.Disconnect(ctx, sub)
	assert.False(t, presence.online[userID])

	// sub heard the watcher join; the watcher hears sub leave
	joinEv := drainOne(t, sub)
	require.Equal(t, EventPresenceChanged, joinEv.Type)
	joinPayload, ok := joinEv.Payload.(PresencePayload)
	require.True(t, ok)
	assert.Equal(t, watcher.UserID, joinPayload.UserID)
	assert.True(t, joinPayload.IsOnline)

	ev := drainOne(t, watcher)
	require.Equal(t, EventPresenceChanged, ev.Type)
	payload, ok := ev.Payload.(PresencePayload)
	require.True(t, ok)
	assert.Equal(t, userID, payload.UserID)
	assert.False(t, payload.IsOnline)
	require.NotNil(t, payload.LastSeen)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("disconnected subscriber not marked done")
	}
}

func TestSubscribeOnlyWhileConnected(t *testing.T) {
	ctx := context.Background()
	hub, _, _ := newTestHub()
	chatID := uuid.New()

	sub := hub.Connect(ctx, uuid.New(), uuid.New())
	require.NoError(t, hub.Subscribe(ctx, sub, chatID, -1))

	hub.Disconnect(ctx, sub)
	assert.ErrorIs(t, hub.Subscribe(ctx, sub, chatID, -1), context.Canceled)
}

func TestSubscriberDoesNotEchoOwnJoin(t *testing.T) {
	ctx := context.Background()
	hub, _, _ := newTestHub()
	chatID := uuid.New()

	sub := hub.Connect(ctx, uuid.New(), uuid.New())
	require.NoError(t, hub.Subscribe(ctx, sub, chatID, -1))

	select {
	case ev := <-sub.Events():
		t.Fatalf("subscriber received its own join: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	hub, _, _ := newTestHub()
	chatID := uuid.New()

	sub := hub.Connect(ctx, uuid.New(), uuid.New())
	require.NoError(t, hub.Subscribe(ctx, sub, chatID, -1))
	hub.Unsubscribe(sub, chatID)

	hub.Publish(Event{Type: EventMessagePosted, ChatID: chatID, Seq: 1})

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
