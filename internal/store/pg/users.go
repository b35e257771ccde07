package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/auth"
	"fleetops.org/internal/ids"
)

var (
	_ auth.UserStore     = (*Store)(nil)
	_ auth.SessionStore  = (*Store)(nil)
	_ auth.RegistryStore = (*Store)(nil)
)

const userColumns = `id, email, name, password_hash, role, status, vessel_id, last_login_at, created_at, updated_at`

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		role      string
		vesselID  sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.Status, &vesselID, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	u.Role = auth.Role(role)
	u.VesselID = vesselID.String
	u.LastLoginAt = timePtr(lastLogin)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, password_hash, role, status, vessel_id)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+userColumns,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Status, nullIfEmpty(u.VesselID))
	created, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapError(err, "user "+u.Email)
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapError(err, "user "+id)
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, strings.TrimSpace(email))
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapError(err, "user with email "+email)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, filter auth.UserFilter) ([]auth.User, error) {
	query := `select ` + userColumns + ` from users where true`
	var args []any
	if filter.VesselID != "" {
		args = append(args, filter.VesselID)
		query += fmt.Sprintf(" and vessel_id = $%d", len(args))
	}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		query += fmt.Sprintf(" and role = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" and status = $%d", len(args))
	}
	query += " order by email"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "users")
	}
	defer rows.Close()
	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SetUserStatus(ctx context.Context, id, status string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users set status = $2, updated_at = now()
		where id = $1
		returning `+userColumns, id, status)
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapError(err, "user "+id)
	}
	return u, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return mapError(err, "user "+id)
	}
	return expectOne(res, "user "+id)
}

// DeleteUserCascade removes sessions first and the user second inside one
// transaction. A failed session delete leaves the user and sessions intact.
// beforeCommit runs once both rows are gone; its error rolls back.
func (s *Store) DeleteUserCascade(ctx context.Context, id string, beforeCommit func(context.Context) error) error {
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `delete from sessions where user_id = $1`, id); err != nil {
			return fmt.Errorf("%w: could not revoke sessions: %v", apperr.ErrConflict, err)
		}
		res, err := tx.ExecContext(ctx, `delete from users where id = $1`, id)
		if err != nil {
			return err
		}
		if err := expectOne(res, "user "+id); err != nil {
			return err
		}
		if beforeCommit != nil {
			return beforeCommit(ctx)
		}
		return nil
	})
	return mapError(err, "user "+id)
}
