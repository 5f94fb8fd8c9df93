package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
	MessageTypeFile  = "FILE"
	MessageTypeAudio = "AUDIO"
)

// Message is the durable event record. Seq is assigned per chat at commit
// time and is strictly monotonic within the chat; it doubles as the replay
// offset for reconnecting subscribers.
type Message struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	ChatID      uuid.UUID  `json:"chat_id" db:"chat_id"`
	SenderID    uuid.UUID  `json:"sender_id" db:"sender_id"`
	Seq         int64      `json:"seq" db:"seq"`
	Content     string     `json:"content" db:"content"`
	MessageType string     `json:"message_type" db:"message_type"`
	IsEdited    bool       `json:"is_edited" db:"is_edited"`
	ReplyToID   *uuid.UUID `json:"reply_to_id,omitempty" db:"reply_to_id"`
	ReadAt      *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio:
		return true
	}
	return false
}
