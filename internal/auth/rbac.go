package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"fleetops.org/internal/apperr"
)

// Registry manages role definitions and the permission catalog.
type Registry struct {
	store RegistryStore
}

func NewRegistry(store RegistryStore) (*Registry, error) {
	if store == nil {
		return nil, errors.New("registry store is required")
	}
	return &Registry{store: store}, nil
}

// EnsureBuiltins inserts the built-in permission catalog if missing.
func (s *Registry) EnsureBuiltins(ctx context.Context) error {
	perms := make([]Permission, 0, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		p.Module, p.Action = SplitPermissionName(p.Name)
		perms = append(perms, p)
	}
	return s.store.EnsurePermissions(ctx, perms)
}

// ListRoles returns roles with resolved permissions, newest first.
func (s *Registry) ListRoles(ctx context.Context) ([]RoleDefinition, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(roles, func(i, j int) bool {
		return roles[i].CreatedAt.After(roles[j].CreatedAt)
	})
	return roles, nil
}

// CreateRole creates a role. Unknown permission ids are ignored rather than
// failing the creation; duplicates collapse.
func (s *Registry) CreateRole(ctx context.Context, name, description string, permissionIDs []string) (RoleDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return RoleDefinition{}, fmt.Errorf("%w: role name is required", apperr.ErrValidation)
	}
	description = strings.TrimSpace(description)
	return s.store.CreateRole(ctx, name, description, dedupeStrings(permissionIDs))
}

// SetRolePermissions replaces the permission set of a role, with the same
// unknown-id policy as CreateRole.
func (s *Registry) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (RoleDefinition, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return RoleDefinition{}, fmt.Errorf("%w: role_id is required", apperr.ErrValidation)
	}
	return s.store.SetRolePermissions(ctx, roleID, dedupeStrings(permissionIDs))
}

func (s *Registry) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", apperr.ErrValidation)
	}
	return s.store.DeleteRole(ctx, roleID)
}

// ListPermissions returns the catalog grouped by module, modules and names sorted.
func (s *Registry) ListPermissions(ctx context.Context) ([]PermissionGroup, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return GroupPermissions(perms), nil
}

// Can reports whether the role named roleName holds module.action.
// A role without a definition holds nothing.
func (s *Registry) Can(ctx context.Context, roleName, module, action string) (bool, error) {
	role, err := s.store.GetRoleByName(ctx, strings.TrimSpace(roleName))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	want := PermissionName(module, action)
	for _, p := range role.Permissions {
		if strings.EqualFold(p.Name, want) {
			return true, nil
		}
	}
	return false, nil
}

// Defines reports whether an administrator has defined a role named roleName.
func (s *Registry) Defines(ctx context.Context, roleName string) (bool, error) {
	_, err := s.store.GetRoleByName(ctx, strings.TrimSpace(roleName))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GroupPermissions projects a flat permission list into module groups.
func GroupPermissions(perms []Permission) []PermissionGroup {
	byModule := make(map[string][]Permission)
	for _, p := range perms {
		module := p.Module
		if module == "" {
			module, _ = SplitPermissionName(p.Name)
		}
		byModule[module] = append(byModule[module], p)
	}
	groups := make([]PermissionGroup, 0, len(byModule))
	for module, list := range byModule {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		groups = append(groups, PermissionGroup{Module: module, Permissions: list})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Module < groups[j].Module })
	return groups
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
