package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fleetops.org/internal/auth"
	"fleetops.org/internal/ids"
)

func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	return mapError(s.inTx(ctx, nil, func(tx *sql.Tx) error {
		for _, p := range perms {
			id := p.ID
			if id == "" {
				id = ids.New()
			}
			if _, err := tx.ExecContext(ctx, `
				insert into permissions (id, name, module, action, description)
				values ($1, $2, $3, $4, $5)
				on conflict (name) do nothing`,
				id, p.Name, p.Module, p.Action, p.Description); err != nil {
				return err
			}
		}
		return nil
	}), "permissions")
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, module, action, description, created_at
		from permissions order by name`)
	if err != nil {
		return nil, mapError(err, "permissions")
	}
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateRole(ctx context.Context, name, description string, permissionIDs []string) (auth.RoleDefinition, error) {
	id := ids.New()
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into roles (id, name, description) values ($1, $2, $3)`,
			id, strings.TrimSpace(name), description); err != nil {
			return err
		}
		return linkPermissions(ctx, tx, id, permissionIDs)
	})
	if err != nil {
		return auth.RoleDefinition{}, mapError(err, "role "+name)
	}
	return s.getRole(ctx, `r.id = $1`, id)
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.RoleDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles order by id desc`)
	if err != nil {
		return nil, mapError(err, "roles")
	}
	var roles []auth.RoleDefinition
	for rows.Next() {
		var r auth.RoleDefinition
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		roles = append(roles, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := s.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.RoleDefinition, error) {
	return s.getRole(ctx, `lower(r.name) = lower($1)`, strings.TrimSpace(name))
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (auth.RoleDefinition, error) {
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `update roles set updated_at = now() where id = $1`, roleID)
		if err != nil {
			return err
		}
		if err := expectOne(res, "role "+roleID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return err
		}
		return linkPermissions(ctx, tx, roleID, permissionIDs)
	})
	if err != nil {
		return auth.RoleDefinition{}, mapError(err, "role "+roleID)
	}
	return s.getRole(ctx, `r.id = $1`, roleID)
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		return mapError(err, "role "+roleID)
	}
	return expectOne(res, "role "+roleID)
}

// linkPermissions inserts the ids that exist in the catalog, keeping the
// caller's order in position. Unknown ids are skipped by the select.
func linkPermissions(ctx context.Context, tx *sql.Tx, roleID string, permissionIDs []string) error {
	for i, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id, position)
			select $1, p.id, $3 from permissions p where p.id = $2
			on conflict do nothing`, roleID, pid, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getRole(ctx context.Context, where string, arg any) (auth.RoleDefinition, error) {
	var r auth.RoleDefinition
	err := s.db.QueryRowContext(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from roles r where `+where, arg).Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return auth.RoleDefinition{}, mapError(err, fmt.Sprintf("role %v", arg))
	}
	perms, err := s.rolePermissions(ctx, r.ID)
	if err != nil {
		return auth.RoleDefinition{}, err
	}
	r.Permissions = perms
	return r, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.module, p.action, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by rp.position`, roleID)
	if err != nil {
		return nil, mapError(err, "permissions of role "+roleID)
	}
	defer rows.Close()
	perms := []auth.Permission{}
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
