package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

type Chat struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Name          *string    `json:"name,omitempty" db:"name"`
	IsGroup       bool       `json:"is_group" db:"is_group"`
	AvatarURL     *string    `json:"avatar_url,omitempty" db:"avatar_url"`
	LastMessage   *string    `json:"last_message,omitempty" db:"last_message"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

type ChatParticipant struct {
	ID       uuid.UUID `json:"id" db:"id"`
	ChatID   uuid.UUID `json:"chat_id" db:"chat_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Role     string    `json:"role" db:"role"`
	IsMuted  bool      `json:"is_muted" db:"is_muted"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// ChatSummary is the listChats row: the chat plus the caller's unread count.
type ChatSummary struct {
	Chat
	UnreadCount int `json:"unread_count"`
}
