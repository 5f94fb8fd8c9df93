package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"MessengerCore/server/internal/models"
)

type MemoryStore struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*models.User
	profiles    map[uuid.UUID]*models.Profile
	emailIdx    map[string]uuid.UUID
	usernameIdx map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uuid.UUID]*models.User),
		profiles:    make(map[uuid.UUID]*models.Profile),
		emailIdx:    make(map[string]uuid.UUID),
		usernameIdx: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) CreateWithProfile(ctx context.Context, user *models.User, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emailIdx[user.Email]; taken {
		return models.ErrEmailTaken
	}
	if _, taken := s.usernameIdx[profile.Username]; taken {
		return models.ErrUsernameTaken
	}

	u := *user
	p := *profile
	s.users[u.ID] = &u
	s.profiles[p.ID] = &p
	s.emailIdx[u.Email] = u.ID
	s.usernameIdx[p.Username] = p.ID
	return nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emailIdx[email]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profile.ID]
	if !ok {
		return models.ErrUserNotFound
	}

	if profile.Username != "" && profile.Username != p.Username {
		if _, taken := s.usernameIdx[profile.Username]; taken {
			return models.ErrUsernameTaken
		}
		delete(s.usernameIdx, p.Username)
		s.usernameIdx[profile.Username] = p.ID
		p.Username = profile.Username
	}
	if profile.FullName != nil {
		p.FullName = profile.FullName
	}
	if profile.AvatarURL != nil {
		p.AvatarURL = profile.AvatarURL
	}
	p.UpdatedAt = profile.UpdatedAt
	return nil
}

func (s *MemoryStore) VerifyEmail(ctx context.Context, verificationToken string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.VerificationToken != nil && *u.VerificationToken == verificationToken {
			u.EmailVerified = true
			u.VerificationToken = nil
			return u.ID, nil
		}
	}
	return uuid.Nil, models.ErrUserNotFound
}

func (s *MemoryStore) SetResetToken(ctx context.Context, userID uuid.UUID, resetToken string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	u.ResetToken = &resetToken
	u.ResetTokenExpiry = &expiry
	return nil
}

func (s *MemoryStore) GetByResetToken(ctx context.Context, resetToken string, now time.Time) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ResetToken != nil && *u.ResetToken == resetToken &&
			u.ResetTokenExpiry != nil && now.Before(*u.ResetTokenExpiry) {
			out := *u
			return &out, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (s *MemoryStore) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.ResetToken = nil
	u.ResetTokenExpiry = nil
	return nil
}

func (s *MemoryStore) RecordFailedLogin(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, models.ErrUserNotFound
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (s *MemoryStore) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		u.FailedAttempts = 0
		u.LockedUntil = nil
	}
	return nil
}

func (s *MemoryStore) LockUntil(ctx context.Context, userID uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		u.LockedUntil = &until
	}
	return nil
}

func (s *MemoryStore) SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	p.IsOnline = online
	if !online {
		seen := at
		p.LastSeen = &seen
	}
	p.UpdatedAt = at
	return nil
}
