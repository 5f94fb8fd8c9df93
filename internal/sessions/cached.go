package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"MessengerCore/server/internal/models"
)

// CachedRegistry fronts another Registry with a short-lived LRU so the hot
// FindValid path (every authenticated request) skips storage. Entries are
// dropped on revocation and rotation; RevokeAll purges the whole cache since
// it is keyed by token hash, not user.
type CachedRegistry struct {
	inner Registry
	cache *expirable.LRU[string, *models.Session]
}

func NewCachedRegistry(inner Registry, size int, ttl time.Duration) *CachedRegistry {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRegistry{
		inner: inner,
		cache: expirable.NewLRU[string, *models.Session](size, nil, ttl),
	}
}

func (r *CachedRegistry) Create(ctx context.Context, session *models.Session) error {
	return r.inner.Create(ctx, session)
}

func (r *CachedRegistry) FindValid(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error) {
	if s, ok := r.cache.Get(tokenHash); ok {
		if now.Before(s.ExpiresAt) {
			out := *s
			return &out, nil
		}
		r.cache.Remove(tokenHash)
		return nil, models.ErrSessionNotFound
	}

	s, err := r.inner.FindValid(ctx, tokenHash, now)
	if err != nil {
		return nil, err
	}
	r.cache.Add(tokenHash, s)
	out := *s
	return &out, nil
}

func (r *CachedRegistry) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	return r.inner.Touch(ctx, tokenHash, at)
}

func (r *CachedRegistry) Revoke(ctx context.Context, tokenHash string) error {
	r.cache.Remove(tokenHash)
	return r.inner.Revoke(ctx, tokenHash)
}

func (r *CachedRegistry) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	r.cache.Purge()
	return r.inner.RevokeAll(ctx, userID)
}

func (r *CachedRegistry) Rotate(ctx context.Context, oldTokenHash string, next *models.Session) error {
	r.cache.Remove(oldTokenHash)
	return r.inner.Rotate(ctx, oldTokenHash, next)
}

func (r *CachedRegistry) SweepExpired(ctx context.Context, now time.Time, batch int) (int64, error) {
	return r.inner.SweepExpired(ctx, now, batch)
}
