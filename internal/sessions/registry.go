// Package sessions persists active login sessions keyed by token hash and
// sweeps expired rows in the background.
package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"MessengerCore/server/internal/models"
)

// Registry is the session store. FindValid treats an expired row the same as
// a missing one but does not delete it; deletion is the sweeper's job so
// reads stay cheap.
type Registry interface {
	Create(ctx context.Context, session *models.Session) error
	FindValid(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error)
	Touch(ctx context.Context, tokenHash string, at time.Time) error
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAll(ctx context.Context, userID uuid.UUID) error
	// Rotate atomically replaces the session behind oldTokenHash with next.
	// The old token is unusable the moment Rotate returns.
	Rotate(ctx context.Context, oldTokenHash string, next *models.Session) error
	SweepExpired(ctx context.Context, now time.Time, batch int) (int64, error)
}
