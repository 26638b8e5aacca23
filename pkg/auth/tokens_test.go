package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerr "github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage/sqlite"
)

func newTokenService(t *testing.T) (*TokenService, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	require.NoError(t, s.CreateGroup(context.Background(),
		&model.Group{Name: model.PublicGroupName}))
	return NewTokenService(s, "test-secret"), s
}

func seedUser(t *testing.T, s *sqlite.Store, login string) *model.User {
	t.Helper()
	pv, err := NewVersion()
	require.NoError(t, err)
	iv, err := NewVersion()
	require.NoError(t, err)
	u := &model.User{
		Login:       login,
		Email:       login + "@example.com",
		PasswordVer: pv,
		IdentityVer: iv,
		FeedQuality: "high",
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestSessionTokenRoundTrip(t *testing.T) {
	t.Parallel()
	ts, s := newTokenService(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	token, err := ts.MintSession(alice)
	require.NoError(t, err)

	got, err := ts.VerifySession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Login)
}

func TestSessionTokenInvalidatedByVersionRotation(t *testing.T) {
	t.Parallel()
	ts, s := newTokenService(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	session, err := ts.MintSession(alice)
	require.NoError(t, err)
	setPassword, err := ts.MintSetPassword(alice)
	require.NoError(t, err)

	// Rotating the identity version kills the session but not the
	// set-password token.
	alice.IdentityVer, err = NewVersion()
	require.NoError(t, err)
	require.NoError(t, s.UpdateUser(ctx, alice))

	_, err = ts.VerifySession(ctx, session)
	assert.True(t, svcerr.IsUnauthenticated(err))
	_, err = ts.VerifySetPassword(ctx, setPassword)
	assert.NoError(t, err)

	// Rotating the password version kills both.
	session, err = ts.MintSession(alice)
	require.NoError(t, err)
	alice.PasswordVer, err = NewVersion()
	require.NoError(t, err)
	require.NoError(t, s.UpdateUser(ctx, alice))

	_, err = ts.VerifySession(ctx, session)
	assert.True(t, svcerr.IsUnauthenticated(err))
	_, err = ts.VerifySetPassword(ctx, setPassword)
	assert.True(t, svcerr.IsUnauthenticated(err))
}

func TestSessionTokenPassesAsSetPassword(t *testing.T) {
	t.Parallel()
	ts, s := newTokenService(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	session, err := ts.MintSession(alice)
	require.NoError(t, err)

	// A logged-in user may change their own password with the session token.
	got, err := ts.VerifySetPassword(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Login)
}

func TestSetPasswordTokenIsNotASession(t *testing.T) {
	t.Parallel()
	ts, s := newTokenService(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	setPassword, err := ts.MintSetPassword(alice)
	require.NoError(t, err)

	_, err = ts.VerifySession(ctx, setPassword)
	assert.True(t, svcerr.IsUnauthenticated(err))
}

func TestAPIKeyTokenRevokedWithRow(t *testing.T) {
	t.Parallel()
	ts, s := newTokenService(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	key := &model.APIKey{ID: "b2f1c9a4-52a7-4c5e-8db0-0d9a41c2a9be", UserID: alice.ID, IssuedBy: alice.ID}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	token, err := ts.MintAPIKey(alice, key.ID)
	require.NoError(t, err)

	got, err := ts.VerifyAPIKey(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Login)

	// The token never expires; it dies with the key row.
	require.NoError(t, s.DeleteAPIKey(ctx, key.ID))
	_, err = ts.VerifyAPIKey(ctx, token)
	assert.True(t, svcerr.IsUnauthenticated(err))
}

func TestLegacyTokenVerifies(t *testing.T) {
	t.Parallel()
	ts, s := newTokenService(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	alice.VersionUID = "deadbeefcafe0123"
	require.NoError(t, s.UpdateUser(ctx, alice))

	legacy, err := ts.sign(tokenClaims{Login: "alice", VersionUID: "deadbeefcafe0123"})
	require.NoError(t, err)

	got, err := ts.VerifySession(ctx, legacy)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Login)

	stale, err := ts.sign(tokenClaims{Login: "alice", VersionUID: "0000000000000000"})
	require.NoError(t, err)
	_, err = ts.VerifySession(ctx, stale)
	assert.True(t, svcerr.IsUnauthenticated(err))
}

func TestVerifyRejectsForgedAndInactive(t *testing.T) {
	t.Parallel()
	ts, s := newTokenService(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")

	// Token signed with a different secret.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Login:       alice.Login,
		PasswordVer: alice.PasswordVer,
		IdentityVer: alice.IdentityVer,
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = ts.VerifySession(ctx, forged)
	assert.True(t, svcerr.IsUnauthenticated(err))

	// Unsigned token.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, tokenClaims{
		Login: alice.Login,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ts.VerifySession(ctx, unsigned)
	assert.True(t, svcerr.IsUnauthenticated(err))

	// Disabled accounts fail verification even with a fresh token.
	token, err := ts.MintSession(alice)
	require.NoError(t, err)
	alice.Disabled = true
	require.NoError(t, s.UpdateUser(ctx, alice))
	_, err = ts.VerifySession(ctx, token)
	assert.True(t, svcerr.IsUnauthenticated(err))
}
