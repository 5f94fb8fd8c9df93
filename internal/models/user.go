package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Email             string     `json:"email" db:"email"`
	PasswordHash      string     `json:"-" db:"password_hash"`
	EmailVerified     bool       `json:"email_verified" db:"email_verified"`
	VerificationToken *string    `json:"-" db:"verification_token"`
	ResetToken        *string    `json:"-" db:"reset_token"`
	ResetTokenExpiry  *time.Time `json:"-" db:"reset_token_expiry"`
	FailedAttempts    int        `json:"-" db:"failed_attempts"`
	LockedUntil       *time.Time `json:"-" db:"locked_until"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Profile shares its id with the owning User (1:1, created atomically with it).
type Profile struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Username  string     `json:"username" db:"username"`
	FullName  *string    `json:"full_name,omitempty" db:"full_name"`
	AvatarURL *string    `json:"avatar_url,omitempty" db:"avatar_url"`
	LastSeen  *time.Time `json:"last_seen,omitempty" db:"last_seen"`
	IsOnline  bool       `json:"is_online" db:"is_online"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}
