// Package auth orchestrates sign-up, sign-in, session lifecycle and the
// password reset loop by composing the credential store, token service,
// session registry and user store.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"MessengerCore/server/internal/apperrors"
	"MessengerCore/server/internal/credentials"
	"MessengerCore/server/internal/models"
	"MessengerCore/server/internal/notify"
	"MessengerCore/server/internal/sessions"
	"MessengerCore/server/internal/token"
	"MessengerCore/server/internal/users"
)

// One message for unknown email, wrong password and locked accounts, so
// responses never confirm whether an email is registered.
const genericAuthMessage = "invalid email or password"

const (
	maxFailedLogins  = 5
	lockoutDuration  = 5 * time.Minute
	resetTokenExpiry = time.Hour
)

type Gateway struct {
	users    users.Store
	creds    *credentials.Store
	tokens   *token.Service
	registry sessions.Registry
	notifier notify.Notifier
	clock    clockwork.Clock
	log      *zap.SugaredLogger
	ttl      time.Duration
}

func NewGateway(
	userStore users.Store,
	creds *credentials.Store,
	tokens *token.Service,
	registry sessions.Registry,
	notifier notify.Notifier,
	clock clockwork.Clock,
	log *zap.SugaredLogger,
	ttl time.Duration,
) *Gateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gateway{
		users:    userStore,
		creds:    creds,
		tokens:   tokens,
		registry: registry,
		notifier: notifier,
		clock:    clock,
		log:      log,
		ttl:      ttl,
	}
}

// Authenticated is what every successful login/signup/refresh hands back.
type Authenticated struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	SessionID uuid.UUID    `json:"session_id"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// SignUp creates User and Profile atomically, sends the verification mail on
// the side channel, and returns a usable session right away: the account
// works pre-verification with degraded trust (documented product decision).
func (g *Gateway) SignUp(ctx context.Context, email, username, password string, fullName *string) (*Authenticated, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if !strings.Contains(email, "@") {
		return nil, apperrors.InvalidArg("a valid email is required")
	}
	if username == "" {
		return nil, apperrors.InvalidArg("username is required")
	}

	hashed, err := g.creds.Hash(password)
	if err != nil {
		if errors.Is(err, credentials.ErrWeakPassword) {
			return nil, apperrors.InvalidArg("password is too short")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "hashing failed", err)
	}

	verificationToken, err := newSecretToken()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "token generation failed", err)
	}

	now := g.clock.Now().UTC()
	user := &models.User{
		ID:                uuid.New(),
		Email:             email,
		PasswordHash:      hashed,
		VerificationToken: &verificationToken,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	profile := &models.Profile{
		ID:        user.ID,
		Username:  username,
		FullName:  fullName,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := g.users.CreateWithProfile(ctx, user, profile); err != nil {
		switch {
		case errors.Is(err, models.ErrEmailTaken):
			return nil, apperrors.AlreadyExists("email already registered")
		case errors.Is(err, models.ErrUsernameTaken):
			return nil, apperrors.AlreadyExists("username already taken")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	if err := g.notifier.Notify(ctx, notify.KindVerifyEmail, email, verificationToken); err != nil {
		g.log.Errorw("verification mail failed", "email", email, "err", err)
	}

	return g.issueSession(ctx, user)
}

func (g *Gateway) SignIn(ctx context.Context, email, password string) (*Authenticated, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := g.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, apperrors.Unauthorized(genericAuthMessage)
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	now := g.clock.Now().UTC()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		g.log.Infow("sign-in on locked account", "user_id", user.ID)
		return nil, apperrors.Unauthorized(genericAuthMessage)
	}

	if !g.creds.Verify(password, user.PasswordHash) {
		attempts, recErr := g.users.RecordFailedLogin(ctx, user.ID)
		if recErr != nil {
			g.log.Errorw("failed-login bookkeeping failed", "user_id", user.ID, "err", recErr)
		} else if attempts >= maxFailedLogins {
			if lockErr := g.users.LockUntil(ctx, user.ID, now.Add(lockoutDuration)); lockErr != nil {
				g.log.Errorw("account lock failed", "user_id", user.ID, "err", lockErr)
			}
		}
		return nil, apperrors.Unauthorized(genericAuthMessage)
	}

	if err := g.users.ResetFailedLogins(ctx, user.ID); err != nil {
		g.log.Errorw("failed-login reset failed", "user_id", user.ID, "err", err)
	}

	return g.issueSession(ctx, user)
}

// AssertIdentity is the OAuth path: the provider already verified the email,
// so the credential store is bypassed entirely. First-seen identities get a
// User+Profile; the username is derived from the email's local part.
func (g *Gateway) AssertIdentity(ctx context.Context, provider, verifiedEmail, providerUserID string) (*Authenticated, error) {
	email := strings.ToLower(strings.TrimSpace(verifiedEmail))
	if !strings.Contains(email, "@") {
		return nil, apperrors.InvalidArg("a valid email is required")
	}
	if provider == "" || providerUserID == "" {
		return nil, apperrors.InvalidArg("provider identity is required")
	}

	user, err := g.users.GetByEmail(ctx, email)
	if err == nil {
		return g.issueSession(ctx, user)
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	// The account never gets a usable password; random material keeps the
	// hash column non-empty without opening a password login.
	randomSecret, err := newSecretToken()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "token generation failed", err)
	}
	hashed, err := g.creds.Hash(randomSecret)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "hashing failed", err)
	}

	now := g.clock.Now().UTC()
	user = &models.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  hashed,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	base := strings.SplitN(email, "@", 2)[0]
	username := base
	for attempt := 0; ; attempt++ {
		profile := &models.Profile{
			ID:        user.ID,
			Username:  username,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = g.users.CreateWithProfile(ctx, user, profile)
		if err == nil {
			break
		}
		if errors.Is(err, models.ErrUsernameTaken) && attempt < 3 {
			suffix, sufErr := newSecretToken()
			if sufErr != nil {
				return nil, apperrors.Wrap(apperrors.CodeInternal, "token generation failed", sufErr)
			}
			username = base + "-" + suffix[:6]
			continue
		}
		if errors.Is(err, models.ErrEmailTaken) {
			// concurrent first login from two devices; the other one won
			existing, lookupErr := g.users.GetByEmail(ctx, email)
			if lookupErr != nil {
				return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", lookupErr)
			}
			return g.issueSession(ctx, existing)
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	return g.issueSession(ctx, user)
}

// Authenticate resolves a presented token to its claims: signature and
// expiry via the token service, revocation via the session registry.
func (g *Gateway) Authenticate(ctx context.Context, tokenStr string) (*token.Claims, error) {
	claims, err := g.tokens.Verify(tokenStr)
	if err != nil {
		return nil, mapTokenErr(err)
	}

	now := g.clock.Now().UTC()
	hash := token.Hash(tokenStr)
	if _, err := g.registry.FindValid(ctx, hash, now); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeUnauthenticated, "token revoked", token.ErrTokenRevoked)
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	// lastUsedAt is best-effort; a failed touch must not fail the request
	if err := g.registry.Touch(ctx, hash, now); err != nil {
		g.log.Warnw("session touch failed", "user_id", claims.UserID, "err", err)
	}
	return &claims, nil
}

// Refresh rotates a still-valid token: the old session row is replaced by
// the new one atomically, so the old token dies the moment the new one lives.
func (g *Gateway) Refresh(ctx context.Context, tokenStr string) (*Authenticated, error) {
	claims, err := g.tokens.Verify(tokenStr)
	if err != nil {
		return nil, mapTokenErr(err)
	}

	newToken, newClaims, err := g.tokens.Issue(claims.UserID, g.ttl)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "token issue failed", err)
	}

	now := g.clock.Now().UTC()
	next := &models.Session{
		ID:         newClaims.SessionID,
		UserID:     claims.UserID,
		TokenHash:  token.Hash(newToken),
		ExpiresAt:  newClaims.ExpiresAt,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := g.registry.Rotate(ctx, token.Hash(tokenStr), next); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			// already rotated or revoked elsewhere
			return nil, apperrors.Wrap(apperrors.CodeUnauthenticated, "token revoked", token.ErrTokenRevoked)
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	user, err := g.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}
	return &Authenticated{
		User:      user,
		Token:     newToken,
		SessionID: newClaims.SessionID,
		ExpiresAt: newClaims.ExpiresAt,
	}, nil
}

// SignOut revokes the presented session only; revokeAll extends it to every
// device. An expired token still gets its row cleaned up.
func (g *Gateway) SignOut(ctx context.Context, tokenStr string, revokeAll bool) error {
	claims, err := g.tokens.Verify(tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return g.registry.Revoke(ctx, token.Hash(tokenStr))
		}
		return mapTokenErr(err)
	}

	if revokeAll {
		if err := g.registry.RevokeAll(ctx, claims.UserID); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
		}
		return nil
	}
	if err := g.registry.Revoke(ctx, token.Hash(tokenStr)); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}
	return nil
}

func (g *Gateway) VerifyEmail(ctx context.Context, verificationToken string) error {
	userID, err := g.users.VerifyEmail(ctx, verificationToken)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return apperrors.InvalidArg("invalid verification token")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}
	g.log.Infow("email verified", "user_id", userID)
	return nil
}

// RequestPasswordReset always reports success so responses never reveal
// whether the email exists.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := g.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	resetToken, err := newSecretToken()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "token generation failed", err)
	}
	expiry := g.clock.Now().UTC().Add(resetTokenExpiry)
	if err := g.users.SetResetToken(ctx, user.ID, resetToken, expiry); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	if err := g.notifier.Notify(ctx, notify.KindResetPassword, email, resetToken); err != nil {
		g.log.Errorw("reset mail failed", "email", email, "err", err)
	}
	return nil
}

// ResetPassword consumes the reset token, replaces the hash and revokes all
// sessions: whoever held the old password loses every device.
func (g *Gateway) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	user, err := g.users.GetByResetToken(ctx, resetToken, g.clock.Now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return apperrors.InvalidArg("invalid or expired reset token")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	hashed, err := g.creds.Hash(newPassword)
	if err != nil {
		if errors.Is(err, credentials.ErrWeakPassword) {
			return apperrors.InvalidArg("password is too short")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "hashing failed", err)
	}

	if err := g.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}
	if err := g.registry.RevokeAll(ctx, user.ID); err != nil {
		g.log.Errorw("session revocation after reset failed", "user_id", user.ID, "err", err)
	}
	return nil
}

func (g *Gateway) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	profile, err := g.users.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, apperrors.NotFound("profile not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}
	return profile, nil
}

func (g *Gateway) UpdateProfile(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	profile.UpdatedAt = g.clock.Now().UTC()
	if err := g.users.UpdateProfile(ctx, profile); err != nil {
		switch {
		case errors.Is(err, models.ErrUsernameTaken):
			return nil, apperrors.AlreadyExists("username already taken")
		case errors.Is(err, models.ErrUserNotFound):
			return nil, apperrors.NotFound("profile not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}
	return g.GetProfile(ctx, profile.ID)
}

func (g *Gateway) issueSession(ctx context.Context, user *models.User) (*Authenticated, error) {
	tokenStr, claims, err := g.tokens.Issue(user.ID, g.ttl)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "token issue failed", err)
	}

	now := g.clock.Now().UTC()
	session := &models.Session{
		ID:         claims.SessionID,
		UserID:     user.ID,
		TokenHash:  token.Hash(tokenStr),
		ExpiresAt:  claims.ExpiresAt,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := g.registry.Create(ctx, session); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "storage failure", err)
	}

	return &Authenticated{
		User:      user,
		Token:     tokenStr,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func mapTokenErr(err error) error {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token expired", err)
	case errors.Is(err, token.ErrTokenRevoked):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token revoked", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token malformed", err)
	}
}

func newSecretToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
