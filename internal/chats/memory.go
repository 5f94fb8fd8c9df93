package chats

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"MessengerCore/server/internal/models"
)

type memChat struct {
	chat         models.Chat
	participants map[uuid.UUID]*models.ChatParticipant
	messages     []*models.Message
	nextSeq      int64
}

// MemoryStore mirrors the postgres semantics under a single mutex, which
// makes the direct-chat dedup and seq assignment trivially race-free.
type MemoryStore struct {
	mu         sync.Mutex
	chats      map[uuid.UUID]*memChat
	directKeys map[string]uuid.UUID
	clock      clockwork.Clock
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		chats:      make(map[uuid.UUID]*memChat),
		directKeys: make(map[string]uuid.UUID),
		clock:      clock,
	}
}

func (s *MemoryStore) CreateDirectChat(ctx context.Context, userA, userB uuid.UUID) (*models.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := DirectKey(userA, userB)
	if chatID, ok := s.directKeys[key]; ok {
		chat := s.chats[chatID].chat
		return &chat, false, nil
	}

	now := s.clock.Now().UTC()
	mc := &memChat{
		chat: models.Chat{
			ID:        uuid.New(),
			IsGroup:   false,
			CreatedAt: now,
			UpdatedAt: now,
		},
		participants: make(map[uuid.UUID]*models.ChatParticipant),
	}
	for _, userID := range []uuid.UUID{userA, userB} {
		mc.participants[userID] = &models.ChatParticipant{
			ID: uuid.New(), ChatID: mc.chat.ID, UserID: userID,
			Role: models.RoleMember, JoinedAt: now,
		}
	}
	s.chats[mc.chat.ID] = mc
	s.directKeys[key] = mc.chat.ID

	chat := mc.chat
	return &chat, true, nil
}

func (s *MemoryStore) CreateGroupChat(ctx context.Context, name string, creatorID uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	mc := &memChat{
		chat: models.Chat{
			ID:        uuid.New(),
			Name:      &name,
			IsGroup:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		participants: make(map[uuid.UUID]*models.ChatParticipant),
	}
	mc.participants[creatorID] = &models.ChatParticipant{
		ID: uuid.New(), ChatID: mc.chat.ID, UserID: creatorID,
		Role: models.RoleAdmin, JoinedAt: now,
	}
	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		mc.participants[memberID] = &models.ChatParticipant{
			ID: uuid.New(), ChatID: mc.chat.ID, UserID: memberID,
			Role: models.RoleMember, JoinedAt: now,
		}
	}
	s.chats[mc.chat.ID] = mc

	chat := mc.chat
	return &chat, nil
}

func (s *MemoryStore) GetChat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	chat := mc.chat
	return &chat, nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	_, in := mc.participants[userID]
	return in, nil
}

func (s *MemoryStore) ParticipantIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	ids := make([]uuid.UUID, 0, len(mc.participants))
	for id := range mc.participants {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) ParticipantRole(ctx context.Context, chatID, userID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return "", models.ErrChatNotFound
	}
	p, in := mc.participants[userID]
	if !in {
		return "", models.ErrUserNotParticipant
	}
	return p.Role, nil
}

func (s *MemoryStore) AddParticipants(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return models.ErrChatNotFound
	}
	now := s.clock.Now().UTC()
	for _, userID := range userIDs {
		if _, in := mc.participants[userID]; in {
			continue
		}
		mc.participants[userID] = &models.ChatParticipant{
			ID: uuid.New(), ChatID: chatID, UserID: userID,
			Role: models.RoleMember, JoinedAt: now,
		}
	}
	return nil
}

func (s *MemoryStore) RemoveParticipant(ctx context.Context, chatID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return models.ErrChatNotFound
	}
	if _, in := mc.participants[userID]; !in {
		return models.ErrUserNotParticipant
	}
	delete(mc.participants, userID)
	return nil
}

func (s *MemoryStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ChatSummary
	for _, mc := range s.chats {
		if _, in := mc.participants[userID]; !in {
			continue
		}
		summary := models.ChatSummary{Chat: mc.chat}
		for _, m := range mc.messages {
			if m.SenderID != userID && m.ReadAt == nil {
				summary.UnreadCount++
			}
		}
		out = append(out, summary)
	}

	// last_message_at DESC NULLS LAST, created_at DESC
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case li != nil && lj != nil && !li.Equal(*lj):
			return li.After(*lj)
		case li != nil && lj == nil:
			return true
		case li == nil && lj != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, mc := range s.chats {
		if _, in := mc.participants[userID]; in {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) PostMessage(ctx context.Context, p PostMessageParams) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[p.ChatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	if _, in := mc.participants[p.SenderID]; !in {
		return nil, models.ErrUserNotParticipant
	}

	mc.nextSeq++
	now := s.clock.Now().UTC()
	msg := &models.Message{
		ID:          uuid.New(),
		ChatID:      p.ChatID,
		SenderID:    p.SenderID,
		Seq:         mc.nextSeq,
		Content:     p.Content,
		MessageType: p.MessageType,
		ReplyToID:   p.ReplyToID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	mc.messages = append(mc.messages, msg)

	content := msg.Content
	at := msg.CreatedAt
	mc.chat.LastMessage = &content
	mc.chat.LastMessageAt = &at
	mc.chat.UpdatedAt = now

	out := *msg
	return &out, nil
}

func (s *MemoryStore) EditMessage(ctx context.Context, messageID, senderID uuid.UUID, newContent string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, msg := s.findMessage(messageID)
	if msg == nil {
		return nil, models.ErrMessageNotFound
	}
	if msg.SenderID != senderID {
		return nil, models.ErrNotMessageSender
	}

	msg.Content = newContent
	msg.IsEdited = true
	msg.UpdatedAt = s.clock.Now().UTC()
	s.refreshLastMessage(mc)

	out := *msg
	return &out, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, messageID, senderID uuid.UUID) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, msg := s.findMessage(messageID)
	if msg == nil {
		return nil, models.ErrMessageNotFound
	}
	if msg.SenderID != senderID {
		return nil, models.ErrNotMessageSender
	}

	for i, m := range mc.messages {
		if m.ID == messageID {
			mc.messages = append(mc.messages[:i], mc.messages[i+1:]...)
			break
		}
	}
	// reply references to the deleted message go null, as the schema does
	for _, m := range mc.messages {
		if m.ReplyToID != nil && *m.ReplyToID == messageID {
			m.ReplyToID = nil
		}
	}
	s.refreshLastMessage(mc)

	out := *msg
	return &out, nil
}

func (s *MemoryStore) findMessage(messageID uuid.UUID) (*memChat, *models.Message) {
	for _, mc := range s.chats {
		for _, m := range mc.messages {
			if m.ID == messageID {
				return mc, m
			}
		}
	}
	return nil, nil
}

func (s *MemoryStore) refreshLastMessage(mc *memChat) {
	if len(mc.messages) == 0 {
		mc.chat.LastMessage = nil
		mc.chat.LastMessageAt = nil
		return
	}
	last := mc.messages[0]
	for _, m := range mc.messages[1:] {
		if messageAfter(m, last) {
			last = m
		}
	}
	content := last.Content
	at := last.CreatedAt
	mc.chat.LastMessage = &content
	mc.chat.LastMessageAt = &at
}

func messageAfter(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

func (s *MemoryStore) ListMessages(ctx context.Context, chatID uuid.UUID, after *Cursor, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}

	ordered := make([]*models.Message, len(mc.messages))
	copy(ordered, mc.messages)
	sort.SliceStable(ordered, func(i, j int) bool {
		return messageAfter(ordered[j], ordered[i])
	})

	var out []models.Message
	for _, m := range ordered {
		if after != nil {
			afterMark := &models.Message{ID: after.ID, CreatedAt: after.CreatedAt}
			if !messageAfter(m, afterMark) {
				continue
			}
		}
		out = append(out, *m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListMessagesAfterSeq(ctx context.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}

	var out []models.Message
	for _, m := range mc.messages {
		if m.Seq > afterSeq {
			out = append(out, *m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, chatID, userID, lastReadID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chats[chatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}

	var upToSeq int64 = -1
	for _, m := range mc.messages {
		if m.ID == lastReadID {
			upToSeq = m.Seq
			break
		}
	}
	if upToSeq < 0 {
		return nil, nil
	}

	now := s.clock.Now().UTC()
	var ids []uuid.UUID
	for _, m := range mc.messages {
		if m.Seq <= upToSeq && m.SenderID != userID && m.ReadAt == nil {
			at := now
			m.ReadAt = &at
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
