// Package users persists accounts and profiles. A User and its Profile are
// created in one transaction and share an id.
package users

import (
	"context"
	"time"

	"github.com/google/uuid"

	"MessengerCore/server/internal/models"
)

type Store interface {
	// CreateWithProfile inserts both rows atomically. Uniqueness violations
	// come back as models.ErrEmailTaken / models.ErrUsernameTaken.
	CreateWithProfile(ctx context.Context, user *models.User, profile *models.Profile) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	UpdateProfile(ctx context.Context, profile *models.Profile) error

	// VerifyEmail consumes a verification token and reports whose email it
	// verified.
	VerifyEmail(ctx context.Context, verificationToken string) (uuid.UUID, error)
	SetResetToken(ctx context.Context, userID uuid.UUID, resetToken string, expiry time.Time) error
	GetByResetToken(ctx context.Context, resetToken string, now time.Time) (*models.User, error)
	// UpdatePassword also clears any outstanding reset token.
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error

	RecordFailedLogin(ctx context.Context, userID uuid.UUID) (int, error)
	ResetFailedLogins(ctx context.Context, userID uuid.UUID) error
	LockUntil(ctx context.Context, userID uuid.UUID, until time.Time) error

	SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error
}
