package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	svcerr "github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// Token lifetimes.
const (
	sessionTokenLifetime     = 24 * time.Hour
	setPasswordTokenLifetime = 14 * 24 * time.Hour
)

// tokenClaims binds a token to the state of the user row at mint time.
// Which fields are set determines the token flavor:
//
//	session       login + password_ver + identity_ver, 24h expiry
//	set-password  login + password_ver, 14d expiry
//	api-key       login + api_key_id, no expiry (valid while the row exists)
//	legacy        login + version_uid, accepted but never minted
type tokenClaims struct {
	Login       string `json:"login"`
	PasswordVer string `json:"password_ver,omitempty"`
	IdentityVer string `json:"identity_ver,omitempty"`
	APIKeyID    string `json:"api_key_id,omitempty"`
	VersionUID  string `json:"version_uid,omitempty"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies the HMAC-signed tokens used for sessions,
// password setting and API keys. Every verification re-reads the user row
// and compares the bound fields, so rotating a version counter or deleting
// an API key row invalidates outstanding tokens immediately.
type TokenService struct {
	store  storage.Store
	secret []byte
}

// NewTokenService builds a TokenService signing with secret.
func NewTokenService(store storage.Store, secret string) *TokenService {
	return &TokenService{store: store, secret: []byte(secret)}
}

// MintSession issues a session token bound to the user's current password
// and identity version counters.
func (ts *TokenService) MintSession(user *model.User) (string, error) {
	return ts.sign(tokenClaims{
		Login:       user.Login,
		PasswordVer: user.PasswordVer,
		IdentityVer: user.IdentityVer,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTokenLifetime)),
		},
	})
}

// MintSetPassword issues a set-password token bound to the user's current
// password version counter. Setting the password rotates the counter, so
// the token is effectively single-use.
func (ts *TokenService) MintSetPassword(user *model.User) (string, error) {
	return ts.sign(tokenClaims{
		Login:       user.Login,
		PasswordVer: user.PasswordVer,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(setPasswordTokenLifetime)),
		},
	})
}

// MintAPIKey issues a non-expiring token bound to an API key row. Deleting
// the row revokes the token.
func (ts *TokenService) MintAPIKey(user *model.User, keyID string) (string, error) {
	return ts.sign(tokenClaims{
		Login:    user.Login,
		APIKeyID: keyID,
	})
}

func (ts *TokenService) sign(claims tokenClaims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// VerifySession verifies a session token (or a legacy pre-versioning token)
// and returns the bound user.
func (ts *TokenService) VerifySession(ctx context.Context, token string) (*model.User, error) {
	claims, err := ts.parse(token)
	if err != nil {
		return nil, err
	}

	user, err := ts.activeUser(ctx, claims.Login)
	if err != nil {
		return nil, err
	}

	switch {
	case claims.IdentityVer != "":
		if claims.PasswordVer != user.PasswordVer || claims.IdentityVer != user.IdentityVer {
			return nil, svcerr.NewUnauthenticatedError("token no longer valid", nil)
		}
	case claims.VersionUID != "":
		// Legacy tokens carry only the pre-versioning uid.
		if claims.VersionUID != user.VersionUID {
			return nil, svcerr.NewUnauthenticatedError("token no longer valid", nil)
		}
	default:
		return nil, svcerr.NewUnauthenticatedError("not a session token", nil)
	}
	return user, nil
}

// VerifySetPassword verifies a set-password token and returns the bound
// user. A session token also passes, which lets a logged-in user change
// their own password.
func (ts *TokenService) VerifySetPassword(ctx context.Context, token string) (*model.User, error) {
	claims, err := ts.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.PasswordVer == "" {
		return nil, svcerr.NewUnauthenticatedError("not a set-password token", nil)
	}

	user, err := ts.activeUser(ctx, claims.Login)
	if err != nil {
		return nil, err
	}
	if claims.PasswordVer != user.PasswordVer {
		return nil, svcerr.NewUnauthenticatedError("token no longer valid", nil)
	}
	return user, nil
}

// VerifyAPIKey verifies an API key token; the token is valid only while the
// referenced key row exists and still belongs to the bound user.
func (ts *TokenService) VerifyAPIKey(ctx context.Context, token string) (*model.User, error) {
	claims, err := ts.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.APIKeyID == "" {
		return nil, svcerr.NewUnauthenticatedError("not an api key token", nil)
	}

	user, err := ts.activeUser(ctx, claims.Login)
	if err != nil {
		return nil, err
	}

	key, err := ts.store.GetAPIKey(ctx, claims.APIKeyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, svcerr.NewUnauthenticatedError("api key revoked", nil)
		}
		return nil, err
	}
	if key.UserID != user.ID {
		return nil, svcerr.NewUnauthenticatedError("api key revoked", nil)
	}
	return user, nil
}

func (ts *TokenService) parse(token string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return ts.secret, nil
	})
	if err != nil {
		return nil, svcerr.NewUnauthenticatedError("invalid token", err)
	}
	if claims.Login == "" {
		return nil, svcerr.NewUnauthenticatedError("invalid token", nil)
	}
	return claims, nil
}

// activeUser loads the user and rejects accounts that cannot authenticate.
func (ts *TokenService) activeUser(ctx context.Context, login string) (*model.User, error) {
	user, err := ts.store.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, svcerr.NewUnauthenticatedError("unknown user", nil)
		}
		return nil, err
	}
	if user.Pending || user.Disabled {
		return nil, svcerr.NewUnauthenticatedError("account is not active", nil)
	}
	return user, nil
}
