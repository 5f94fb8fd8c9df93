package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"MessengerCore/server/internal/apperrors"
	"MessengerCore/server/internal/credentials"
	"MessengerCore/server/internal/notify"
	"MessengerCore/server/internal/sessions"
	"MessengerCore/server/internal/token"
	"MessengerCore/server/internal/users"
)

// recordingNotifier captures the side-channel tokens so tests can complete
// the verification and reset loops.
type recordingNotifier struct {
	kinds  []notify.Kind
	tokens map[notify.Kind]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{tokens: make(map[notify.Kind]string)}
}

func (n *recordingNotifier) Notify(ctx context.Context, kind notify.Kind, email, tok string) error {
	n.kinds = append(n.kinds, kind)
	n.tokens[kind] = tok
	return nil
}

type testEnv struct {
	gateway  *Gateway
	users    *users.MemoryStore
	registry *sessions.MemoryRegistry
	notifier *recordingNotifier
	clock    *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClock()
	userStore := users.NewMemoryStore()
	registry := sessions.NewMemoryRegistry()
	notifier := newRecordingNotifier()
	creds := credentials.NewStore(bcrypt.MinCost, 6)
	tokens := token.NewService("test-secret", clock)

	g := NewGateway(userStore, creds, tokens, registry, notifier, clock, zap.NewNop().Sugar(), 24*time.Hour)
	return &testEnv{gateway: g, users: userStore, registry: registry, notifier: notifier, clock: clock}
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	signedUp, err := env.gateway.SignUp(ctx, "Alice@Example.com", "alice", "hunter22", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", signedUp.User.Email)
	assert.NotEmpty(t, signedUp.Token)
	assert.False(t, signedUp.User.EmailVerified)

	signedIn, err := env.gateway.SignIn(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, signedUp.User.ID, signedIn.User.ID)
	assert.NotEqual(t, signedUp.Token, signedIn.Token)
}

func TestSignUpValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.gateway.SignUp(ctx, "not-an-email", "bob", "hunter22", nil)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	_, err = env.gateway.SignUp(ctx, "bob@example.com", "", "hunter22", nil)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	_, err = env.gateway.SignUp(ctx, "bob@example.com", "bob", "tiny", nil)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestSignUpDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	_, err = env.gateway.SignUp(ctx, "alice@example.com", "alice2", "hunter22", nil)
	assert.Equal(t, apperrors.CodeAlreadyExists, apperrors.CodeOf(err))
}

func TestSignInNeverConfirmsAccountExistence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	_, unknownErr := env.gateway.SignIn(ctx, "nobody@example.com", "whatever1")
	_, wrongPassErr := env.gateway.SignIn(ctx, "alice@example.com", "wrongpass")

	require.Error(t, unknownErr)
	require.Error(t, wrongPassErr)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(unknownErr))
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(wrongPassErr))
	assert.Equal(t, unknownErr.Error(), wrongPassErr.Error())
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = env.gateway.SignIn(ctx, "alice@example.com", "wrongpass")
		require.Error(t, err)
	}

	// the right password is refused while the lock holds, with the same
	// generic message as a wrong one
	_, lockedErr := env.gateway.SignIn(ctx, "alice@example.com", "hunter22")
	require.Error(t, lockedErr)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(lockedErr))

	env.clock.Advance(6 * time.Minute)
	_, err = env.gateway.SignIn(ctx, "alice@example.com", "hunter22")
	assert.NoError(t, err)
}

func TestAuthenticateAndSignOut(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	authed, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	claims, err := env.gateway.Authenticate(ctx, authed.Token)
	require.NoError(t, err)
	assert.Equal(t, authed.User.ID, claims.UserID)
	assert.Equal(t, authed.SessionID, claims.SessionID)

	require.NoError(t, env.gateway.SignOut(ctx, authed.Token, false))

	_, err = env.gateway.Authenticate(ctx, authed.Token)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestSignOutAllDevices(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)
	second, err := env.gateway.SignIn(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)

	require.NoError(t, env.gateway.SignOut(ctx, second.Token, true))

	_, err = env.gateway.Authenticate(ctx, first.Token)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
	_, err = env.gateway.Authenticate(ctx, second.Token)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestAuthenticateExpiredToken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	authed, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)

	_, err = env.gateway.Authenticate(ctx, authed.Token)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestRefreshRotatesSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	authed, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	refreshed, err := env.gateway.Refresh(ctx, authed.Token)
	require.NoError(t, err)
	assert.NotEqual(t, authed.Token, refreshed.Token)
	assert.NotEqual(t, authed.SessionID, refreshed.SessionID)

	// old token is dead the moment the new one lives
	_, err = env.gateway.Authenticate(ctx, authed.Token)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))

	_, err = env.gateway.Authenticate(ctx, refreshed.Token)
	assert.NoError(t, err)

	// replaying the rotation is refused
	_, err = env.gateway.Refresh(ctx, authed.Token)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestVerifyEmailFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	authed, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	verifyToken, ok := env.notifier.tokens[notify.KindVerifyEmail]
	require.True(t, ok)

	require.NoError(t, env.gateway.VerifyEmail(ctx, verifyToken))

	user, err := env.users.GetByID(ctx, authed.User.ID)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)

	// tokens are single-use
	err = env.gateway.VerifyEmail(ctx, verifyToken)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	authed, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	require.NoError(t, env.gateway.RequestPasswordReset(ctx, "alice@example.com"))
	resetToken, ok := env.notifier.tokens[notify.KindResetPassword]
	require.True(t, ok)

	require.NoError(t, env.gateway.ResetPassword(ctx, resetToken, "newpassword"))

	// every session from the old-password era dies
	_, err = env.gateway.Authenticate(ctx, authed.Token)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))

	_, err = env.gateway.SignIn(ctx, "alice@example.com", "hunter22")
	assert.Error(t, err)
	_, err = env.gateway.SignIn(ctx, "alice@example.com", "newpassword")
	assert.NoError(t, err)

	// the token was consumed with the reset
	err = env.gateway.ResetPassword(ctx, resetToken, "anotherpass")
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestPasswordResetTokenExpires(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.gateway.SignUp(ctx, "alice@example.com", "alice", "hunter22", nil)
	require.NoError(t, err)

	require.NoError(t, env.gateway.RequestPasswordReset(ctx, "alice@example.com"))
	resetToken := env.notifier.tokens[notify.KindResetPassword]

	env.clock.Advance(2 * time.Hour)

	err = env.gateway.ResetPassword(ctx, resetToken, "newpassword")
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
}

func TestPasswordResetSilentOnUnknownEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.gateway.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, env.notifier.kinds)
}

func TestAssertIdentityCreatesOnceThenReuses(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.gateway.AssertIdentity(ctx, "google", "Carol@Example.com", "g-123")
	require.NoError(t, err)
	assert.True(t, first.User.EmailVerified)
	assert.Equal(t, "carol@example.com", first.User.Email)

	profile, err := env.users.GetProfile(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", profile.Username)

	second, err := env.gateway.AssertIdentity(ctx, "google", "carol@example.com", "g-123")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestAssertIdentityPicksFreeUsername(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.gateway.SignUp(ctx, "carol@other.com", "carol", "hunter22", nil)
	require.NoError(t, err)

	authed, err := env.gateway.AssertIdentity(ctx, "google", "carol@example.com", "g-123")
	require.NoError(t, err)

	profile, err := env.users.GetProfile(ctx, authed.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "carol", profile.Username)
	assert.Contains(t, profile.Username, "carol-")
}
