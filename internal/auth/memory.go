package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/ids"
)

var (
	_ UserStore     = (*InMemory)(nil)
	_ SessionStore  = (*InMemory)(nil)
	_ RegistryStore = (*InMemory)(nil)
)

// InMemory implements the auth stores with in-process locking. It backs
// tests and single-process development runs.
type InMemory struct {
	mu          sync.RWMutex
	users       map[string]User
	sessions    map[string]Session
	roles       map[string]RoleDefinition
	rolePerms   map[string][]string
	permissions map[string]Permission
	now         func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:       make(map[string]User),
		sessions:    make(map[string]Session),
		roles:       make(map[string]RoleDefinition),
		rolePerms:   make(map[string][]string),
		permissions: make(map[string]Permission),
		now:         time.Now,
	}
}

func (s *InMemory) CreateUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return User{}, fmt.Errorf("%w: email %s already registered", apperr.ErrConflict, u.Email)
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

func (s *InMemory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	return u, nil
}

func (s *InMemory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: user with email %s", apperr.ErrNotFound, email)
}

func (s *InMemory) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.users {
		if filter.VesselID != "" && u.VesselID != filter.VesselID {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *InMemory) SetUserStatus(ctx context.Context, id, status string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	u.Status = status
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *InMemory) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	u.LastLoginAt = &at
	s.users[id] = u
	return nil
}

// DeleteUserCascade holds the store lock while beforeCommit runs, so the hook
// must not call back into this store.
func (s *InMemory) DeleteUserCascade(ctx context.Context, id string, beforeCommit func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}
	for token, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, token)
		}
	}
	delete(s.users, id)
	return nil
}

func (s *InMemory) CreateSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[sess.UserID]; !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, sess.UserID)
	}
	if _, dup := s.sessions[sess.Token]; dup {
		return fmt.Errorf("%w: session token collision", apperr.ErrConflict)
	}
	s.sessions[sess.Token] = sess
	return nil
}

func (s *InMemory) FindSession(ctx context.Context, token string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, fmt.Errorf("%w: session", apperr.ErrNotFound)
	}
	return sess, nil
}

func (s *InMemory) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *InMemory) DeleteUserSessions(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, token)
		}
	}
	return nil
}

func (s *InMemory) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

// SessionCount returns the number of stored sessions, expired ones included.
func (s *InMemory) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *InMemory) EnsurePermissions(ctx context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]bool, len(s.permissions))
	for _, p := range s.permissions {
		existing[p.Name] = true
	}
	for _, p := range perms {
		if existing[p.Name] {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		p.CreatedAt = s.now().UTC()
		s.permissions[p.ID] = p
		existing[p.Name] = true
	}
	return nil
}

func (s *InMemory) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) CreateRole(ctx context.Context, name, description string, permissionIDs []string) (RoleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return RoleDefinition{}, fmt.Errorf("%w: role %s already exists", apperr.ErrConflict, name)
		}
	}
	now := s.now().UTC()
	role := RoleDefinition{ID: ids.New(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	s.roles[role.ID] = role
	s.rolePerms[role.ID] = s.knownPermissionIDs(permissionIDs)
	return s.resolveRole(role), nil
}

func (s *InMemory) ListRoles(ctx context.Context) ([]RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoleDefinition, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, s.resolveRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *InMemory) GetRoleByName(ctx context.Context, name string) (RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return s.resolveRole(r), nil
		}
	}
	return RoleDefinition{}, fmt.Errorf("%w: role %s", apperr.ErrNotFound, name)
}

func (s *InMemory) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (RoleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return RoleDefinition{}, fmt.Errorf("%w: role %s", apperr.ErrNotFound, roleID)
	}
	s.rolePerms[roleID] = s.knownPermissionIDs(permissionIDs)
	role.UpdatedAt = s.now().UTC()
	s.roles[roleID] = role
	return s.resolveRole(role), nil
}

func (s *InMemory) DeleteRole(ctx context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", apperr.ErrNotFound, roleID)
	}
	delete(s.roles, roleID)
	delete(s.rolePerms, roleID)
	return nil
}

func (s *InMemory) knownPermissionIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := s.permissions[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *InMemory) resolveRole(r RoleDefinition) RoleDefinition {
	r.Permissions = make([]Permission, 0, len(s.rolePerms[r.ID]))
	for _, id := range s.rolePerms[r.ID] {
		r.Permissions = append(r.Permissions, s.permissions[id])
	}
	return r
}
