package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/ids"
)

const (
	SessionCookieName = "session_token"

	ShortSessionDays = 7
	LongSessionDays  = 30

	sessionTokenBytes = 32
)

// Sessions issues, resolves and revokes opaque session tokens.
type Sessions struct {
	store SessionStore
	now   func() time.Time
}

// SessionOption configures Sessions.
type SessionOption func(*Sessions)

// WithSessionClock overrides the time source (tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(s *Sessions) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewSessions(store SessionStore, opts ...SessionOption) (*Sessions, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	s := &Sessions{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create persists a new session for userID valid for ttlDays (7 or 30).
func (s *Sessions) Create(ctx context.Context, userID string, ttlDays int) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, fmt.Errorf("%w: user_id is required", apperr.ErrValidation)
	}
	if ttlDays != ShortSessionDays && ttlDays != LongSessionDays {
		return Session{}, fmt.Errorf("%w: session ttl must be %d or %d days", apperr.ErrValidation, ShortSessionDays, LongSessionDays)
	}
	token, err := ids.Token(sessionTokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now().UTC()
	sess := Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(ttlDays) * 24 * time.Hour),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Resolve returns the live session for token or ErrInvalidSession.
func (s *Sessions) Resolve(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrInvalidSession
	}
	sess, err := s.store.FindSession(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Session{}, ErrInvalidSession
		}
		return Session{}, err
	}
	if sess.Expired(s.now()) {
		return Session{}, ErrInvalidSession
	}
	return sess, nil
}

// Revoke deletes the session. Revoking an absent token is not an error.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}

// RevokeAllForUser deletes every session of userID.
func (s *Sessions) RevokeAllForUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", apperr.ErrValidation)
	}
	return s.store.DeleteUserSessions(ctx, userID)
}

// Purge removes sessions that expired before now.
func (s *Sessions) Purge(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredSessions(ctx, s.now().UTC())
}

// SessionCookie builds the cookie that carries token to the browser.
func SessionCookie(token string, ttlDays int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   ttlDays * 86400,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// TokenDigest is the form under which durable stores keep a session token.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
