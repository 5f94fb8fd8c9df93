// Package chats owns chat, participant and message state and the invariants
// around them: direct-chat uniqueness, per-chat message ordering, and the
// last-message cache kept transactionally in step with inserts.
package chats

import (
	"context"
	"time"

	"github.com/google/uuid"

	"MessengerCore/server/internal/models"
)

// Cursor is the (createdAt, id) pagination key. Paging by it never skips or
// duplicates rows under concurrent inserts, unlike offset paging.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type PostMessageParams struct {
	ChatID      uuid.UUID
	SenderID    uuid.UUID
	Content     string
	MessageType string
	ReplyToID   *uuid.UUID
}

type Store interface {
	// CreateDirectChat is idempotent per unordered user pair: concurrent
	// callers all end up with the same chat. created reports whether this
	// call inserted it.
	CreateDirectChat(ctx context.Context, userA, userB uuid.UUID) (chat *models.Chat, created bool, err error)
	CreateGroupChat(ctx context.Context, name string, creatorID uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error)
	GetChat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error)

	IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	ParticipantIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
	ParticipantRole(ctx context.Context, chatID, userID uuid.UUID) (string, error)
	AddParticipants(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID) error
	RemoveParticipant(ctx context.Context, chatID, userID uuid.UUID) error

	ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.ChatSummary, error)
	ChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// PostMessage inserts the message, assigns the next per-chat seq and
	// refreshes the chat's last-message cache in one transaction. Returns
	// models.ErrUserNotParticipant for outsiders.
	PostMessage(ctx context.Context, p PostMessageParams) (*models.Message, error)
	EditMessage(ctx context.Context, messageID, senderID uuid.UUID, newContent string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID, senderID uuid.UUID) (*models.Message, error)

	// ListMessages returns oldest-first pages strictly after the cursor.
	ListMessages(ctx context.Context, chatID uuid.UUID, after *Cursor, limit int) ([]models.Message, error)
	// ListMessagesAfterSeq is the catch-up source for reconnecting
	// subscribers; the message table is the replay log.
	ListMessagesAfterSeq(ctx context.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error)

	// MarkRead stamps read_at on all unread messages of the chat up to and
	// including lastReadID that were sent by others, returning their ids.
	// read_at is a single stamp per message, so in a group chat the first
	// reader clears the unread state for every member.
	MarkRead(ctx context.Context, chatID, userID, lastReadID uuid.UUID) ([]uuid.UUID, error)
}

// DirectKey is the canonical order-independent pair key enforcing direct-chat
// uniqueness at the storage layer.
func DirectKey(a, b uuid.UUID) string {
	sa, sb := a.String(), b.String()
	if sb < sa {
		sa, sb = sb, sa
	}
	return sa + ":" + sb
}
