package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MessengerCore/server/internal/models"
)

func newSession(userID uuid.UUID, hash string, expiresAt time.Time) *models.Session {
	now := expiresAt.Add(-time.Hour)
	return &models.Session{
		ID:         uuid.New(),
		UserID:     userID,
		TokenHash:  hash,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func TestFindValidHonorsExpiry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	now := time.Now().UTC()

	require.NoError(t, reg.Create(ctx, newSession(uuid.New(), "h1", now.Add(time.Hour))))

	got, err := reg.FindValid(ctx, "h1", now)
	require.NoError(t, err)
	assert.Equal(t, "h1", got.TokenHash)

	_, err = reg.FindValid(ctx, "h1", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = reg.FindValid(ctx, "missing", now)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	now := time.Now().UTC()

	require.NoError(t, reg.Create(ctx, newSession(uuid.New(), "h1", now.Add(time.Hour))))
	require.NoError(t, reg.Revoke(ctx, "h1"))

	_, err := reg.FindValid(ctx, "h1", now)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestRevokeAllOnlyTouchesOneUser(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	now := time.Now().UTC()

	alice, bob := uuid.New(), uuid.New()
	require.NoError(t, reg.Create(ctx, newSession(alice, "a1", now.Add(time.Hour))))
	require.NoError(t, reg.Create(ctx, newSession(alice, "a2", now.Add(time.Hour))))
	require.NoError(t, reg.Create(ctx, newSession(bob, "b1", now.Add(time.Hour))))

	require.NoError(t, reg.RevokeAll(ctx, alice))

	_, err := reg.FindValid(ctx, "a1", now)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = reg.FindValid(ctx, "a2", now)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = reg.FindValid(ctx, "b1", now)
	assert.NoError(t, err)
}

func TestRotateKillsOldToken(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	now := time.Now().UTC()
	userID := uuid.New()

	require.NoError(t, reg.Create(ctx, newSession(userID, "old", now.Add(time.Hour))))
	require.NoError(t, reg.Rotate(ctx, "old", newSession(userID, "new", now.Add(2*time.Hour))))

	_, err := reg.FindValid(ctx, "old", now)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	got, err := reg.FindValid(ctx, "new", now)
	require.NoError(t, err)
	assert.Equal(t, "new", got.TokenHash)
}

func TestRotateMissingOldSession(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	now := time.Now().UTC()

	err := reg.Rotate(ctx, "gone", newSession(uuid.New(), "new", now.Add(time.Hour)))
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	// the replacement must not sneak in when the old row was already gone
	_, err = reg.FindValid(ctx, "new", now)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSweepExpiredRespectsBatch(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	now := time.Now().UTC()
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		hash := string(rune('a' + i))
		require.NoError(t, reg.Create(ctx, newSession(userID, hash, now.Add(-time.Hour))))
	}
	require.NoError(t, reg.Create(ctx, newSession(userID, "live", now.Add(time.Hour))))

	removed, err := reg.SweepExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	removed, err = reg.SweepExpired(ctx, now, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	_, err = reg.FindValid(ctx, "live", now)
	assert.NoError(t, err)
}

func TestCachedRegistryServesFromCache(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryRegistry()
	cached := NewCachedRegistry(inner, 16, time.Minute)
	now := time.Now().UTC()
	userID := uuid.New()

	require.NoError(t, cached.Create(ctx, newSession(userID, "h1", now.Add(time.Hour))))

	_, err := cached.FindValid(ctx, "h1", now)
	require.NoError(t, err)

	// drop the row behind the cache's back; the cached copy still answers
	require.NoError(t, inner.Revoke(ctx, "h1"))
	_, err = cached.FindValid(ctx, "h1", now)
	assert.NoError(t, err)

	// but never past the session's own expiry
	_, err = cached.FindValid(ctx, "h1", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestCachedRegistryInvalidatesOnRevokeAndRotate(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryRegistry()
	cached := NewCachedRegistry(inner, 16, time.Minute)
	now := time.Now().UTC()
	userID := uuid.New()

	require.NoError(t, cached.Create(ctx, newSession(userID, "h1", now.Add(time.Hour))))
	_, err := cached.FindValid(ctx, "h1", now)
	require.NoError(t, err)

	require.NoError(t, cached.Revoke(ctx, "h1"))
	_, err = cached.FindValid(ctx, "h1", now)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	require.NoError(t, cached.Create(ctx, newSession(userID, "h2", now.Add(time.Hour))))
	_, err = cached.FindValid(ctx, "h2", now)
	require.NoError(t, err)

	require.NoError(t, cached.Rotate(ctx, "h2", newSession(userID, "h3", now.Add(time.Hour))))
	_, err = cached.FindValid(ctx, "h2", now)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = cached.FindValid(ctx, "h3", now)
	assert.NoError(t, err)
}

func TestSweeperDrainsBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewMemoryRegistry()
	clock := clockwork.NewFakeClock()
	now := clock.Now()
	userID := uuid.New()

	for i := 0; i < 7; i++ {
		hash := string(rune('a' + i))
		require.NoError(t, reg.Create(ctx, newSession(userID, hash, now.Add(-time.Minute))))
	}
	require.NoError(t, reg.Create(ctx, newSession(userID, "live", now.Add(time.Hour))))

	sweeper := NewSweeper(reg, time.Minute, 3, clock, zap.NewNop().Sugar())

	removed, err := sweeper.sweepOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 7, removed)

	_, err = reg.FindValid(ctx, "live", now)
	assert.NoError(t, err)
}
