// Package users implements the account lifecycle: registration, review,
// login, password management and API keys.
package users

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/capabilities"
	"github.com/samplecove/samplecove/pkg/captcha"
	svcerr "github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/logger"
	"github.com/samplecove/samplecove/pkg/mail"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

var loginPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,32}$`)

const minPasswordLength = 8

// Options carries the deployment knobs the manager needs.
type Options struct {
	BaseURL            string
	AdminLogin         string
	EnableRegistration bool
	EnableMaintenance  bool
}

// Manager implements the user lifecycle on top of the store.
type Manager struct {
	store    storage.Store
	tokens   *auth.TokenService
	notifier mail.Notifier
	verifier captcha.Verifier
	opts     Options
}

// NewManager builds a Manager. notifier and verifier may be nil, which
// disables mail delivery and captcha checks respectively.
func NewManager(
	store storage.Store, tokens *auth.TokenService,
	notifier mail.Notifier, verifier captcha.Verifier, opts Options,
) *Manager {
	return &Manager{
		store:    store,
		tokens:   tokens,
		notifier: notifier,
		verifier: verifier,
		opts:     opts,
	}
}

// RegisterRequest is a self-service registration submission.
type RegisterRequest struct {
	Login          string
	Email          string
	AdditionalInfo string
	CaptchaToken   string
}

// Register files a pending registration request. The account cannot
// authenticate until an administrator approves it.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	if !m.opts.EnableRegistration {
		return nil, svcerr.NewForbiddenError("registration is disabled", nil)
	}
	if m.verifier != nil {
		if err := m.verifier.Verify(ctx, req.CaptchaToken); err != nil {
			return nil, err
		}
	}
	if err := validateLogin(req.Login); err != nil {
		return nil, err
	}
	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}

	user, err := m.createUser(ctx, req.Login, req.Email, req.AdditionalInfo, true, 0)
	if err != nil {
		return nil, err
	}

	m.notify(mail.KindPending, user, "")
	return user, nil
}

// Create registers an active (non-pending) account on behalf of an
// administrator and returns it together with a set-password token.
func (m *Manager) Create(
	ctx context.Context, actor *auth.Identity, login, email, additionalInfo string,
) (*model.User, string, error) {
	if !actor.HasRights(capabilities.ManageUsers) {
		return nil, "", svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	if err := validateLogin(login); err != nil {
		return nil, "", err
	}
	if err := validateEmail(email); err != nil {
		return nil, "", err
	}

	user, err := m.createUser(ctx, login, email, additionalInfo, false, actor.User.ID)
	if err != nil {
		return nil, "", err
	}

	token, err := m.tokens.MintSetPassword(user)
	if err != nil {
		return nil, "", svcerr.NewInternalError("minting set-password token", err)
	}
	m.notify(mail.KindRegister, user, token)
	return user, token, nil
}

func (m *Manager) createUser(
	ctx context.Context, login, email, additionalInfo string, pending bool, registeredBy int64,
) (*model.User, error) {
	passwordVer, err := auth.NewVersion()
	if err != nil {
		return nil, svcerr.NewInternalError("generating password version", err)
	}
	identityVer, err := auth.NewVersion()
	if err != nil {
		return nil, svcerr.NewInternalError("generating identity version", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		Login:          login,
		Email:          email,
		AdditionalInfo: additionalInfo,
		PasswordVer:    passwordVer,
		IdentityVer:    identityVer,
		Pending:        pending,
		RequestedOn:    now,
		FeedQuality:    "high",
	}
	if !pending {
		user.RegisteredOn = now
		user.RegisteredBy = registeredBy
	}

	if err := m.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, svcerr.NewConflictError("login already taken", nil)
		}
		return nil, svcerr.NewInternalError("creating user", err)
	}
	return user, nil
}

// Approve activates a pending registration. Mail failure does not fail the
// approval; the set-password link can be re-fetched by an administrator.
func (m *Manager) Approve(ctx context.Context, actor *auth.Identity, login string) (*model.User, error) {
	if !actor.HasRights(capabilities.ManageUsers) {
		return nil, svcerr.NewForbiddenError("manage_users capability required", nil)
	}

	user, err := m.pendingUser(ctx, login)
	if err != nil {
		return nil, err
	}

	user.Pending = false
	user.RegisteredOn = time.Now().UTC()
	user.RegisteredBy = actor.User.ID
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return nil, svcerr.NewInternalError("updating user", err)
	}

	token, err := m.tokens.MintSetPassword(user)
	if err != nil {
		logger.Warnf("minting set-password token for %s: %v", user.Login, err)
	} else {
		m.notify(mail.KindRegister, user, token)
	}
	return user, nil
}

// Reject removes a pending registration, notifying the requester. Mail
// failure does not fail the rejection.
func (m *Manager) Reject(ctx context.Context, actor *auth.Identity, login string) error {
	if !actor.HasRights(capabilities.ManageUsers) {
		return svcerr.NewForbiddenError("manage_users capability required", nil)
	}

	user, err := m.pendingUser(ctx, login)
	if err != nil {
		return err
	}

	m.notify(mail.KindRejection, user, "")

	if err := m.store.DeleteUser(ctx, login); err != nil {
		return svcerr.NewInternalError("deleting user", err)
	}
	return nil
}

func (m *Manager) pendingUser(ctx context.Context, login string) (*model.User, error) {
	user, err := m.getUser(ctx, login)
	if err != nil {
		return nil, err
	}
	if !user.Pending {
		return nil, svcerr.NewConflictError("user is not pending", nil)
	}
	return user, nil
}

// EditRequest carries the mutable profile fields; nil pointers leave the
// field untouched.
type EditRequest struct {
	Email          *string
	AdditionalInfo *string
	FeedQuality    *string
	Disabled       *bool
}

// Edit updates a user's profile. Disabling an account also rotates its
// identity version, killing outstanding sessions.
func (m *Manager) Edit(ctx context.Context, actor *auth.Identity, login string, req EditRequest) (*model.User, error) {
	if !actor.HasRights(capabilities.ManageUsers) {
		return nil, svcerr.NewForbiddenError("manage_users capability required", nil)
	}

	user, err := m.getUser(ctx, login)
	if err != nil {
		return nil, err
	}

	if req.Email != nil {
		if err := validateEmail(*req.Email); err != nil {
			return nil, err
		}
		user.Email = *req.Email
	}
	if req.AdditionalInfo != nil {
		user.AdditionalInfo = *req.AdditionalInfo
	}
	if req.FeedQuality != nil {
		user.FeedQuality = *req.FeedQuality
	}
	if req.Disabled != nil && *req.Disabled != user.Disabled {
		user.Disabled = *req.Disabled
		if user.Disabled {
			identityVer, err := auth.NewVersion()
			if err != nil {
				return nil, svcerr.NewInternalError("generating identity version", err)
			}
			user.IdentityVer = identityVer
		}
	}

	if err := m.store.UpdateUser(ctx, user); err != nil {
		return nil, svcerr.NewInternalError("updating user", err)
	}
	return user, nil
}

// Login authenticates credentials and returns the user with a session
// token. During maintenance only the admin account may log in.
func (m *Manager) Login(ctx context.Context, login, password string) (*model.User, string, error) {
	if m.opts.EnableMaintenance && login != m.opts.AdminLogin {
		return nil, "", svcerr.NewForbiddenError("maintenance underway", nil)
	}

	user, err := m.store.GetUserByLogin(ctx, login)
	if err != nil || !auth.CheckPassword(user.PasswordHash, password) {
		// Same answer for unknown login and wrong password.
		return nil, "", svcerr.NewForbiddenError("invalid login or password", nil)
	}
	if user.Pending {
		return nil, "", svcerr.NewForbiddenError("account is waiting for approval", nil)
	}
	if user.Disabled {
		return nil, "", svcerr.NewForbiddenError("account is disabled", nil)
	}

	user.LoggedOn = time.Now().UTC()
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return nil, "", svcerr.NewInternalError("updating login time", err)
	}

	token, err := m.tokens.MintSession(user)
	if err != nil {
		return nil, "", svcerr.NewInternalError("minting session token", err)
	}
	return user, token, nil
}

// Identity resolves the user's group memberships into an identity with
// its effective capability set.
func (m *Manager) Identity(ctx context.Context, user *model.User) (*auth.Identity, error) {
	identity, err := auth.ResolveIdentity(ctx, m.store, user)
	if err != nil {
		return nil, svcerr.NewInternalError("resolving identity", err)
	}
	return identity, nil
}

// RequestRecovery mails a password reset link. Login and email must match;
// mail delivery is essential here, so failure surfaces as an error.
func (m *Manager) RequestRecovery(ctx context.Context, login, email, captchaToken string) error {
	if m.verifier != nil {
		if err := m.verifier.Verify(ctx, captchaToken); err != nil {
			return err
		}
	}

	user, err := m.store.GetUserByLogin(ctx, login)
	if err != nil || !strings.EqualFold(user.Email, email) {
		return svcerr.NewForbiddenError("invalid login or email", nil)
	}
	if user.Pending || user.Disabled {
		return svcerr.NewForbiddenError("account is not active", nil)
	}

	token, err := m.tokens.MintSetPassword(user)
	if err != nil {
		return svcerr.NewInternalError("minting set-password token", err)
	}
	if m.notifier == nil {
		return svcerr.NewMailSendFailedError("mail delivery is not configured", nil)
	}
	err = m.notifier.Send(mail.KindRecover, user.Email, mail.Params{
		Login:      user.Login,
		BaseURL:    m.opts.BaseURL,
		SetPwToken: token,
	})
	if err != nil {
		return svcerr.NewMailSendFailedError("sending recovery mail", err)
	}
	return nil
}

// SetPassword consumes a set-password (or session) token and stores a new
// password, rotating the password version so the token cannot be replayed.
func (m *Manager) SetPassword(ctx context.Context, token, password string) (*model.User, error) {
	if len(password) < minPasswordLength {
		return nil, svcerr.NewSchemaInvalidError("password must have at least 8 characters", nil)
	}

	user, err := m.tokens.VerifySetPassword(ctx, token)
	if err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, svcerr.NewInternalError("hashing password", err)
	}
	passwordVer, err := auth.NewVersion()
	if err != nil {
		return nil, svcerr.NewInternalError("generating password version", err)
	}

	user.PasswordHash = hash
	user.PasswordVer = passwordVer
	user.SetPasswordOn = time.Now().UTC()
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return nil, svcerr.NewInternalError("updating user", err)
	}
	return user, nil
}

// SetPasswordToken returns a fresh set-password token for the user, for
// administrators handing out reset links out of band.
func (m *Manager) SetPasswordToken(ctx context.Context, actor *auth.Identity, login string) (string, error) {
	if !actor.HasRights(capabilities.ManageUsers) {
		return "", svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	user, err := m.getUser(ctx, login)
	if err != nil {
		return "", err
	}
	token, err := m.tokens.MintSetPassword(user)
	if err != nil {
		return "", svcerr.NewInternalError("minting set-password token", err)
	}
	return token, nil
}

// Get returns a user profile; restricted to administrators and the user
// themselves.
func (m *Manager) Get(ctx context.Context, actor *auth.Identity, login string) (*model.User, error) {
	if !actor.HasRights(capabilities.ManageUsers) && actor.User.Login != login {
		return nil, svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	return m.getUser(ctx, login)
}

// List returns users, optionally filtered by pending state.
func (m *Manager) List(ctx context.Context, actor *auth.Identity, pending *bool) ([]*model.User, error) {
	if !actor.HasRights(capabilities.ManageUsers) {
		return nil, svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	users, err := m.store.ListUsers(ctx, pending)
	if err != nil {
		return nil, svcerr.NewInternalError("listing users", err)
	}
	return users, nil
}

// IssueAPIKey mints an API key for the user and returns the key row and
// its bearer token. Administrators may issue for anyone, users only for
// themselves.
func (m *Manager) IssueAPIKey(ctx context.Context, actor *auth.Identity, login string) (*model.APIKey, string, error) {
	if !actor.HasRights(capabilities.ManageUsers) && actor.User.Login != login {
		return nil, "", svcerr.NewForbiddenError("manage_users capability required", nil)
	}

	user, err := m.getUser(ctx, login)
	if err != nil {
		return nil, "", err
	}

	key := &model.APIKey{
		ID:       uuid.NewString(),
		UserID:   user.ID,
		IssuedBy: actor.User.ID,
	}
	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", svcerr.NewInternalError("creating api key", err)
	}

	token, err := m.tokens.MintAPIKey(user, key.ID)
	if err != nil {
		return nil, "", svcerr.NewInternalError("minting api key token", err)
	}
	return key, token, nil
}

// ListAPIKeys returns the user's API keys.
func (m *Manager) ListAPIKeys(ctx context.Context, actor *auth.Identity, login string) ([]*model.APIKey, error) {
	if !actor.HasRights(capabilities.ManageUsers) && actor.User.Login != login {
		return nil, svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	user, err := m.getUser(ctx, login)
	if err != nil {
		return nil, err
	}
	keys, err := m.store.ListAPIKeys(ctx, user.ID)
	if err != nil {
		return nil, svcerr.NewInternalError("listing api keys", err)
	}
	return keys, nil
}

// RevokeAPIKey deletes an API key, revoking its outstanding tokens.
func (m *Manager) RevokeAPIKey(ctx context.Context, actor *auth.Identity, keyID string) error {
	key, err := m.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("api key not found", nil)
		}
		return svcerr.NewInternalError("loading api key", err)
	}
	if !actor.HasRights(capabilities.ManageUsers) && actor.User.ID != key.UserID {
		return svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	if err := m.store.DeleteAPIKey(ctx, keyID); err != nil {
		return svcerr.NewInternalError("deleting api key", err)
	}
	return nil
}

func (m *Manager) getUser(ctx context.Context, login string) (*model.User, error) {
	user, err := m.store.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, svcerr.NewNotFoundError("user not found", nil)
		}
		return nil, svcerr.NewInternalError("loading user", err)
	}
	return user, nil
}

// notify sends a lifecycle mail best-effort; failures are logged, never
// surfaced.
func (m *Manager) notify(kind mail.Kind, user *model.User, setPwToken string) {
	if m.notifier == nil || user.Email == "" {
		return
	}
	err := m.notifier.Send(kind, user.Email, mail.Params{
		Login:      user.Login,
		BaseURL:    m.opts.BaseURL,
		SetPwToken: setPwToken,
	})
	if err != nil {
		logger.Warnf("sending %s mail to %s: %v", kind, user.Login, err)
	}
}

func validateLogin(login string) error {
	if !loginPattern.MatchString(login) {
		return svcerr.NewSchemaInvalidError(
			"login must match [A-Za-z0-9_.-] and have 1-32 characters", nil)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || !strings.Contains(email, "@") {
		return svcerr.NewSchemaInvalidError("invalid email address", nil)
	}
	return nil
}
