package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one device login. A user may hold several at once; a session is
// usable iff now < ExpiresAt and its row still exists (revocation deletes it).
type Session struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	TokenHash  string    `json:"-" db:"token_hash"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastUsedAt time.Time `json:"last_used_at" db:"last_used_at"`
}
