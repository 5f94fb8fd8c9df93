// Package token issues and verifies the signed session tokens. The signing
// secret lives only in server configuration; clients hold the compact token
// as an opaque string.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenRevoked   = errors.New("token revoked")
)

type Claims struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	ExpiresAt time.Time
}

type Service struct {
	secret []byte
	clock  clockwork.Clock
}

func NewService(secret string, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{secret: []byte(secret), clock: clock}
}

// Issue binds userID and a fresh session id to an expiry. The session id is
// what SessionRegistry rows are keyed on during rotation.
func (s *Service) Issue(userID uuid.UUID, ttl time.Duration) (string, Claims, error) {
	now := s.clock.Now()
	claims := Claims{
		UserID:    userID,
		SessionID: uuid.New(),
		ExpiresAt: now.Add(ttl),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    claims.UserID.String(),
		"session_id": claims.SessionID.String(),
		"iat":        now.Unix(),
		"exp":        claims.ExpiresAt.Unix(),
	})

	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, claims, nil
}

// Verify checks signature and expiry. Revocation is the SessionRegistry's
// call to make; callers combine the two (see auth.Gateway.Authenticate).
func (s *Service) Verify(tokenStr string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)

	t, err := parser.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenMalformed
	}

	mc, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return Claims{}, ErrTokenMalformed
	}

	userStr, _ := mc["user_id"].(string)
	sessStr, _ := mc["session_id"].(string)
	expFloat, _ := mc["exp"].(float64)

	userID, err := uuid.Parse(userStr)
	if err != nil {
		return Claims{}, ErrTokenMalformed
	}
	sessionID, err := uuid.Parse(sessStr)
	if err != nil {
		return Claims{}, ErrTokenMalformed
	}

	return Claims{
		UserID:    userID,
		SessionID: sessionID,
		ExpiresAt: time.Unix(int64(expFloat), 0),
	}, nil
}

// Hash is the lookup key stored in the session registry. The raw token is
// never persisted.
func Hash(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}
