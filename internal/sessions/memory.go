package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"MessengerCore/server/internal/models"
)

// MemoryRegistry backs tests and the explicit in-memory deployment mode.
type MemoryRegistry struct {
	mu     sync.RWMutex
	byHash map[string]*models.Session
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{byHash: make(map[string]*models.Session)}
}

func (r *MemoryRegistry) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := *session
	r.byHash[s.TokenHash] = &s
	return nil
}

func (r *MemoryRegistry) FindValid(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byHash[tokenHash]
	if !ok || !now.Before(s.ExpiresAt) {
		return nil, models.ErrSessionNotFound
	}
	out := *s
	return &out, nil
}

func (r *MemoryRegistry) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byHash[tokenHash]; ok {
		s.LastUsedAt = at
	}
	return nil
}

func (r *MemoryRegistry) Revoke(ctx context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byHash, tokenHash)
	return nil
}

func (r *MemoryRegistry) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, s := range r.byHash {
		if s.UserID == userID {
			delete(r.byHash, hash)
		}
	}
	return nil
}

func (r *MemoryRegistry) Rotate(ctx context.Context, oldTokenHash string, next *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHash[oldTokenHash]; !ok {
		return models.ErrSessionNotFound
	}
	delete(r.byHash, oldTokenHash)
	s := *next
	r.byHash[s.TokenHash] = &s
	return nil
}

func (r *MemoryRegistry) SweepExpired(ctx context.Context, now time.Time, batch int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for hash, s := range r.byHash {
		if removed >= int64(batch) {
			break
		}
		if s.ExpiresAt.Before(now) {
			delete(r.byHash, hash)
			removed++
		}
	}
	return removed, nil
}
