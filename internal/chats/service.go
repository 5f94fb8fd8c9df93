package chats

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"MessengerCore/server/internal/apperrors"
	"MessengerCore/server/internal/delivery"
	"MessengerCore/server/internal/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Publisher is what the service emits committed-state events into;
// delivery.Hub satisfies it.
type Publisher interface {
	Publish(ev delivery.Event)
}

// Service wraps a Store with permission checks, validation and event
// emission. Events are published after commit; a crash in between is
// covered by subscriber catch-up, never by blocking the mutation.
type Service struct {
	store Store
	pub   Publisher
	log   *zap.SugaredLogger
}

func NewService(store Store, pub Publisher, log *zap.SugaredLogger) *Service {
	return &Service{store: store, pub: pub, log: log}
}

func (s *Service) FindOrCreateDirectChat(ctx context.Context, callerID, otherID uuid.UUID) (*models.Chat, error) {
	if callerID == otherID {
		return nil, apperrors.InvalidArg("cannot open a direct chat with yourself")
	}

	chat, created, err := s.store.CreateDirectChat(ctx, callerID, otherID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if created {
		s.pub.Publish(delivery.Event{
			Type:    delivery.EventChatUpdated,
			ChatID:  chat.ID,
			Payload: chat,
		})
	}
	return chat, nil
}

func (s *Service) CreateGroupChat(ctx context.Context, name string, creatorID uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error) {
	if name == "" {
		return nil, apperrors.InvalidArg("group chat name is required")
	}
	if len(memberIDs) == 0 {
		return nil, apperrors.InvalidArg("group chat needs at least one member besides the creator")
	}

	chat, err := s.store.CreateGroupChat(ctx, name, creatorID, memberIDs)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.pub.Publish(delivery.Event{
		Type:    delivery.EventChatUpdated,
		ChatID:  chat.ID,
		Payload: chat,
	})
	return chat, nil
}

func (s *Service) GetChat(ctx context.Context, chatID, callerID uuid.UUID) (*models.Chat, error) {
	if err := s.requireParticipant(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return chat, nil
}

func (s *Service) Participants(ctx context.Context, chatID, callerID uuid.UUID) ([]uuid.UUID, error) {
	if err := s.requireParticipant(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	ids, err := s.store.ParticipantIDs(ctx, chatID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return ids, nil
}

func (s *Service) ListChats(ctx context.Context, userID uuid.UUID) ([]models.ChatSummary, error) {
	out, err := s.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

func (s *Service) ChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.store.ChatIDsForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return ids, nil
}

func (s *Service) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	in, err := s.store.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return false, mapStoreErr(err)
	}
	return in, nil
}

func (s *Service) PostMessage(ctx context.Context, p PostMessageParams) (*models.Message, error) {
	if p.Content == "" {
		return nil, apperrors.InvalidArg("message content is required")
	}
	if p.MessageType == "" {
		p.MessageType = models.MessageTypeText
	}
	if !models.ValidMessageType(p.MessageType) {
		return nil, apperrors.InvalidArg("unknown message type")
	}

	msg, err := s.store.PostMessage(ctx, p)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.pub.Publish(delivery.Event{
		Type:    delivery.EventMessagePosted,
		ChatID:  msg.ChatID,
		Seq:     msg.Seq,
		Payload: msg,
	})
	return msg, nil
}

func (s *Service) EditMessage(ctx context.Context, messageID, callerID uuid.UUID, newContent string) (*models.Message, error) {
	if newContent == "" {
		return nil, apperrors.InvalidArg("message content is required")
	}

	msg, err := s.store.EditMessage(ctx, messageID, callerID, newContent)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.pub.Publish(delivery.Event{
		Type:    delivery.EventMessageEdited,
		ChatID:  msg.ChatID,
		Seq:     msg.Seq,
		Payload: msg,
	})
	return msg, nil
}

func (s *Service) DeleteMessage(ctx context.Context, messageID, callerID uuid.UUID) error {
	msg, err := s.store.DeleteMessage(ctx, messageID, callerID)
	if err != nil {
		return mapStoreErr(err)
	}

	s.pub.Publish(delivery.Event{
		Type:   delivery.EventMessageDeleted,
		ChatID: msg.ChatID,
		Seq:    msg.Seq,
		Payload: map[string]interface{}{
			"message_id": msg.ID,
		},
	})
	return nil
}

func (s *Service) ListMessages(ctx context.Context, chatID, callerID uuid.UUID, after *Cursor, limit int) ([]models.Message, error) {
	if err := s.requireParticipant(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	msgs, err := s.store.ListMessages(ctx, chatID, after, limit)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return msgs, nil
}

func (s *Service) MarkRead(ctx context.Context, chatID, callerID, lastReadID uuid.UUID) error {
	if err := s.requireParticipant(ctx, chatID, callerID); err != nil {
		return err
	}

	ids, err := s.store.MarkRead(ctx, chatID, callerID, lastReadID)
	if err != nil {
		return mapStoreErr(err)
	}
	if len(ids) == 0 {
		return nil
	}

	s.pub.Publish(delivery.Event{
		Type:   delivery.EventMessagesRead,
		ChatID: chatID,
		Payload: map[string]interface{}{
			"reader_id":   callerID,
			"message_ids": ids,
		},
	})
	return nil
}

func (s *Service) AddParticipants(ctx context.Context, chatID, actorID uuid.UUID, userIDs []uuid.UUID) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return mapStoreErr(err)
	}
	if !chat.IsGroup {
		return apperrors.InvalidArg("cannot add participants to a direct chat")
	}
	if err := s.requireAdmin(ctx, chatID, actorID); err != nil {
		return err
	}

	if err := s.store.AddParticipants(ctx, chatID, userIDs); err != nil {
		return mapStoreErr(err)
	}
	s.pub.Publish(delivery.Event{
		Type:    delivery.EventChatUpdated,
		ChatID:  chatID,
		Payload: chat,
	})
	return nil
}

// RemoveParticipant: admins remove anyone, anyone may leave on their own.
func (s *Service) RemoveParticipant(ctx context.Context, chatID, actorID, userID uuid.UUID) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return mapStoreErr(err)
	}
	if !chat.IsGroup {
		return apperrors.InvalidArg("cannot remove participants from a direct chat")
	}
	if actorID != userID {
		if err := s.requireAdmin(ctx, chatID, actorID); err != nil {
			return err
		}
	}

	if err := s.store.RemoveParticipant(ctx, chatID, userID); err != nil {
		return mapStoreErr(err)
	}
	s.pub.Publish(delivery.Event{
		Type:    delivery.EventChatUpdated,
		ChatID:  chatID,
		Payload: chat,
	})
	return nil
}

func (s *Service) requireParticipant(ctx context.Context, chatID, userID uuid.UUID) error {
	in, err := s.store.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return mapStoreErr(err)
	}
	if !in {
		return apperrors.Forbidden("not a participant of this chat")
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, chatID, userID uuid.UUID) error {
	role, err := s.store.ParticipantRole(ctx, chatID, userID)
	if err != nil {
		return mapStoreErr(err)
	}
	if role != models.RoleAdmin {
		return apperrors.Forbidden("admin role required")
	}
	return nil
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrChatNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrUserNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, err.Error(), err)
	case errors.Is(err, models.ErrUserNotParticipant):
		return apperrors.Wrap(apperrors.CodePermissionDenied, "not a participant of this chat", err)
	case errors.Is(err, models.ErrNotMessageSender):
		return apperrors.Wrap(apperrors.CodePermissionDenied, err.Error(), err)
	default:
		return apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}
}
