package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/obs"
)

// Authenticator implements login, logout and session-to-principal resolution.
type Authenticator struct {
	users    UserStore
	sessions *Sessions
	hasher   CredentialVerifier
	now      func() time.Time
}

// AuthenticatorOption configures Authenticator behavior.
type AuthenticatorOption func(*Authenticator)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if fn != nil {
			a.now = fn
		}
	}
}

// WithVerifier overrides the credential verifier.
func WithVerifier(v CredentialVerifier) AuthenticatorOption {
	return func(a *Authenticator) {
		if v != nil {
			a.hasher = v
		}
	}
}

func NewAuthenticator(users UserStore, sessions *Sessions, opts ...AuthenticatorOption) (*Authenticator, error) {
	if users == nil || sessions == nil {
		return nil, errors.New("auth: user store and sessions are required")
	}
	a := &Authenticator{users: users, sessions: sessions, hasher: Bcrypt{}, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Principal Principal `json:"user"`
	Redirect  string    `json:"redirect"`
	Token     string    `json:"-"`
	TTLDays   int       `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login checks credentials and opens a session. No state changes on failure.
func (a *Authenticator) Login(ctx context.Context, email, password string, rememberMe bool) (LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		obs.RecordLogin("missing_credentials")
		return LoginResult{}, ErrMissingCredentials
	}
	user, err := a.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			obs.RecordLogin("unknown_email")
			return LoginResult{}, ErrUnknownEmail
		}
		return LoginResult{}, err
	}
	if user.Status != UserStatusActive {
		obs.RecordLogin("disabled")
		return LoginResult{}, ErrUserDisabled
	}
	if !a.hasher.Verify(password, user.PasswordHash) {
		obs.RecordLogin("bad_password")
		return LoginResult{}, ErrBadPassword
	}

	ttl := ShortSessionDays
	if rememberMe {
		ttl = LongSessionDays
	}
	sess, err := a.sessions.Create(ctx, user.ID, ttl)
	if err != nil {
		return LoginResult{}, err
	}
	if err := a.users.TouchLastLogin(ctx, user.ID, a.now().UTC()); err != nil {
		// the session is useless if the login cannot be recorded; drop it
		_ = a.sessions.Revoke(ctx, sess.Token)
		return LoginResult{}, err
	}
	obs.RecordLogin("success")
	return LoginResult{
		Principal: PrincipalFor(user),
		Redirect:  DefaultRoute(user.Role),
		Token:     sess.Token,
		TTLDays:   ttl,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// Logout revokes the session if one exists. It succeeds when token is empty or unknown.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.sessions.Revoke(ctx, token)
}

// Authenticate resolves token to the principal of an active user.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	sess, err := a.sessions.Resolve(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	user, err := a.users.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Principal{}, ErrInvalidSession
		}
		return Principal{}, err
	}
	if user.Status != UserStatusActive {
		return Principal{}, ErrUserDisabled
	}
	return PrincipalFor(user), nil
}
