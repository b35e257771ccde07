package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"fleetops.org/internal/apperr"
)

const minPasswordLength = 8

// Users is the user directory: admin-driven creation, status changes and deletion.
type Users struct {
	store    UserStore
	hasher   CredentialVerifier
	sessions *Sessions
}

// UsersOption configures Users.
type UsersOption func(*Users)

// WithSeparateSessions names a session backend that is not the user store
// (Redis). DeleteUser revokes them only once the user row is deleted.
func WithSeparateSessions(s *Sessions) UsersOption {
	return func(u *Users) { u.sessions = s }
}

func NewUsers(store UserStore, hasher CredentialVerifier, opts ...UsersOption) (*Users, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	if hasher == nil {
		hasher = Bcrypt{}
	}
	u := &Users{store: store, hasher: hasher}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// NewUser is the admin input for CreateUser.
type NewUser struct {
	Email    string
	Name     string
	Password string
	Role     string
	VesselID string
}

// CreateUser validates input, hashes the password and stores an ACTIVE user.
// Crew roles must name a vessel; shore roles must not.
func (s *Users) CreateUser(ctx context.Context, in NewUser) (User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return User{}, err
	}
	if len(in.Password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLength)
	}
	vesselID := strings.TrimSpace(in.VesselID)
	switch {
	case role.IsVessel() && vesselID == "":
		return User{}, fmt.Errorf("%w: crew role %s requires a vessel_id", apperr.ErrValidation, role)
	case role.IsShore() && vesselID != "":
		return User{}, fmt.Errorf("%w: shore role %s cannot be assigned to a vessel", apperr.ErrValidation, role)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	return s.store.CreateUser(ctx, User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         role,
		Status:       UserStatusActive,
		VesselID:     vesselID,
	})
}

func (s *Users) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", apperr.ErrValidation)
	}
	return s.store.GetUser(ctx, id)
}

func (s *Users) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, filter.Role)
	}
	return s.store.ListUsers(ctx, filter)
}

// SetStatus enables or disables a user.
func (s *Users) SetStatus(ctx context.Context, id, status string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", apperr.ErrValidation)
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != UserStatusActive && status != UserStatusDisabled {
		return User{}, fmt.Errorf("%w: unsupported status %q", apperr.ErrValidation, status)
	}
	return s.store.SetUserStatus(ctx, id, status)
}

// DeleteUser removes the user together with its sessions as one unit of work.
// Separately stored sessions are revoked inside the user delete, after the
// row is gone and before commit, so a failure on either side keeps both.
func (s *Users) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user_id is required", apperr.ErrValidation)
	}
	var revoke func(context.Context) error
	if s.sessions != nil {
		revoke = func(ctx context.Context) error {
			if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
				return fmt.Errorf("%w: sessions of user %s could not be revoked: %v", apperr.ErrConflict, id, err)
			}
			return nil
		}
	}
	return s.store.DeleteUserCascade(ctx, id, revoke)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", apperr.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email %q", apperr.ErrValidation, raw)
	}
	return email, nil
}
