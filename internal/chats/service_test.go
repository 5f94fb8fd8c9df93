package chats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MessengerCore/server/internal/apperrors"
	"MessengerCore/server/internal/delivery"
	"MessengerCore/server/internal/models"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []delivery.Event
}

func (p *capturingPublisher) Publish(ev delivery.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturingPublisher) byType(t delivery.EventType) []delivery.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []delivery.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestService(clock clockwork.Clock) (*Service, *capturingPublisher) {
	pub := &capturingPublisher{}
	svc := NewService(NewMemoryStore(clock), pub, zap.NewNop().Sugar())
	return svc, pub
}

func TestDirectChatIsFoundNotDuplicated(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	alice, bob := uuid.New(), uuid.New()

	first, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	// same pair in either order resolves to the same chat
	second, err := svc.FindOrCreateDirectChat(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestDirectChatConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	alice, bob := uuid.New(), uuid.New()

	const workers = 16
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = chat.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestDirectChatWithSelfRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	alice := uuid.New()

	_, err := svc.FindOrCreateDirectChat(ctx, alice, alice)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestGroupChatCreatorIsAdmin(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	svc := NewService(store, &capturingPublisher{}, zap.NewNop().Sugar())
	creator, member := uuid.New(), uuid.New()

	chat, err := svc.CreateGroupChat(ctx, "team", creator, []uuid.UUID{member})
	require.NoError(t, err)
	assert.True(t, chat.IsGroup)

	role, err := store.ParticipantRole(ctx, chat.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)

	role, err = store.ParticipantRole(ctx, chat.ID, member)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, role)
}

func TestPostMessageAssignsContiguousSeq(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(nil)
	alice, bob := uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		msg, err := svc.PostMessage(ctx, PostMessageParams{
			ChatID: chat.ID, SenderID: alice, Content: "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, i, msg.Seq)
		assert.Equal(t, models.MessageTypeText, msg.MessageType)
	}

	posted := pub.byType(delivery.EventMessagePosted)
	require.Len(t, posted, 5)
	for i, ev := range posted {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestPostMessageRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	alice, bob, eve := uuid.New(), uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	_, err = svc.PostMessage(ctx, PostMessageParams{ChatID: chat.ID, SenderID: eve, Content: "hi"})
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
}

func TestPostMessageValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	alice, bob := uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	_, err = svc.PostMessage(ctx, PostMessageParams{ChatID: chat.ID, SenderID: alice})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	_, err = svc.PostMessage(ctx, PostMessageParams{
		ChatID: chat.ID, SenderID: alice, Content: "x", MessageType: "CARRIER_PIGEON",
	})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestEditOnlyBySender(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(nil)
	alice, bob := uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)
	msg, err := svc.PostMessage(ctx, PostMessageParams{ChatID: chat.ID, SenderID: alice, Content: "first"})
	require.NoError(t, err)

	_, err = svc.EditMessage(ctx, msg.ID, bob, "hijacked")
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	edited, err := svc.EditMessage(ctx, msg.ID, alice, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	assert.True(t, edited.IsEdited)
	assert.Len(t, pub.byType(delivery.EventMessageEdited), 1)
}

func TestDeleteRecomputesLastMessage(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	svc, pub := newTestService(clock)
	alice, bob := uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	first, err := svc.PostMessage(ctx, PostMessageParams{ChatID: chat.ID, SenderID: alice, Content: "first"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := svc.PostMessage(ctx, PostMessageParams{ChatID: chat.ID, SenderID: bob, Content: "second"})
	require.NoError(t, err)

	got, err := svc.GetChat(ctx, chat.ID, alice)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "second", *got.LastMessage)

	require.NoError(t, svc.DeleteMessage(ctx, second.ID, bob))

	got, err = svc.GetChat(ctx, chat.ID, alice)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "first", *got.LastMessage)

	require.NoError(t, svc.DeleteMessage(ctx, first.ID, alice))
	got, err = svc.GetChat(ctx, chat.ID, alice)
	require.NoError(t, err)
	assert.Nil(t, got.LastMessage)
	assert.Nil(t, got.LastMessageAt)

	assert.Len(t, pub.byType(delivery.EventMessageDeleted), 2)
}

func TestEditLastMessageUpdatesChatPreview(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	alice, bob := uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)
	msg, err := svc.PostMessage(ctx, PostMessageParams{ChatID: chat.ID, SenderID: alice, Content: "tpyo"})
	require.NoError(t, err)

	_, err = svc.EditMessage(ctx, msg.ID, alice, "typo")
	require.NoError(t, err)

	got, err := svc.GetChat(ctx, chat.ID, alice)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "typo", *got.LastMessage)
}

func TestListMessagesPagesInOrder(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	svc, _ := newTestService(clock)
	alice, bob := uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		_, err := svc.PostMessage(ctx, PostMessageParams{ChatID: chat.ID, SenderID: alice, Content: c})
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	page, err := svc.ListMessages(ctx, chat.ID, bob, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "one", page[0].Content)
	assert.Equal(t, "two", page[1].Content)

	cursor := &Cursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}
	rest, err := svc.ListMessages(ctx, chat.ID, bob, cursor, 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, "three", rest[0].Content)
	assert.Equal(t, "five", rest[2].Content)
}

func TestListMessagesRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	alice, bob, eve := uuid.New(), uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	_, err = svc.ListMessages(ctx, chat.ID, eve, nil, 10)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
}

func TestMarkReadAndUnreadCounts(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(nil)
	alice, bob := uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	var last *models.Message
	for i := 0; i < 3; i++ {
		last, err = svc.PostMessage(ctx, PostMessageParams{ChatID: chat.ID, SenderID: alice, Content: "msg"})
		require.NoError(t, err)
	}

	summaries, err := svc.ListChats(ctx, bob)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].UnreadCount)

	require.NoError(t, svc.MarkRead(ctx, chat.ID, bob, last.ID))

	summaries, err = svc.ListChats(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, summaries[0].UnreadCount)

	read := pub.byType(delivery.EventMessagesRead)
	require.Len(t, read, 1)

	// marking again is a no-op, no second event
	require.NoError(t, svc.MarkRead(ctx, chat.ID, bob, last.ID))
	assert.Len(t, pub.byType(delivery.EventMessagesRead), 1)
}

func TestParticipantManagement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	svc := NewService(store, &capturingPublisher{}, zap.NewNop().Sugar())
	admin, member, extra := uuid.New(), uuid.New(), uuid.New()

	chat, err := svc.CreateGroupChat(ctx, "team", admin, []uuid.UUID{member})
	require.NoError(t, err)

	// members cannot add
	err = svc.AddParticipants(ctx, chat.ID, member, []uuid.UUID{extra})
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))

	require.NoError(t, svc.AddParticipants(ctx, chat.ID, admin, []uuid.UUID{extra}))
	in, err := store.IsParticipant(ctx, chat.ID, extra)
	require.NoError(t, err)
	assert.True(t, in)

	// members cannot remove others, but may leave
	err = svc.RemoveParticipant(ctx, chat.ID, member, extra)
	assert.Equal(t, apperrors.CodePermissionDenied, apperrors.CodeOf(err))
	require.NoError(t, svc.RemoveParticipant(ctx, chat.ID, member, member))

	require.NoError(t, svc.RemoveParticipant(ctx, chat.ID, admin, extra))
	in, err = store.IsParticipant(ctx, chat.ID, extra)
	require.NoError(t, err)
	assert.False(t, in)
}

func TestParticipantManagementRejectedOnDirectChats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	alice, bob, eve := uuid.New(), uuid.New(), uuid.New()

	chat, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)

	err = svc.AddParticipants(ctx, chat.ID, alice, []uuid.UUID{eve})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	err = svc.RemoveParticipant(ctx, chat.ID, alice, bob)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestListChatsOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	svc, _ := newTestService(clock)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	withBob, err := svc.FindOrCreateDirectChat(ctx, alice, bob)
	require.NoError(t, err)
	clock.Advance(time.Second)
	withCarol, err := svc.FindOrCreateDirectChat(ctx, alice, carol)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = svc.PostMessage(ctx, PostMessageParams{ChatID: withBob.ID, SenderID: bob, Content: "ping"})
	require.NoError(t, err)

	summaries, err := svc.ListChats(ctx, alice)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, withBob.ID, summaries[0].ID)
	assert.Equal(t, withCarol.ID, summaries[1].ID)
}

func TestDirectKeyIsOrderInsensitive(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, DirectKey(a, b), DirectKey(b, a))
	assert.NotEqual(t, DirectKey(a, b), DirectKey(a, uuid.New()))
}
