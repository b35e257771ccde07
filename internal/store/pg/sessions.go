package pg

import (
	"context"
	"time"

	"fleetops.org/internal/auth"
)

// Session rows are keyed by the token digest; the raw token is never stored.

func (s *Store) CreateSession(ctx context.Context, sess auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (token_hash, user_id, expires_at, created_at)
		values ($1, $2, $3, $4)`,
		auth.TokenDigest(sess.Token), sess.UserID, sess.ExpiresAt.UTC(), sess.CreatedAt.UTC())
	return mapError(err, "session")
}

func (s *Store) FindSession(ctx context.Context, token string) (auth.Session, error) {
	sess := auth.Session{Token: token}
	err := s.db.QueryRowContext(ctx, `
		select user_id, expires_at, created_at from sessions where token_hash = $1`,
		auth.TokenDigest(token)).Scan(&sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		return auth.Session{}, mapError(err, "session")
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where token_hash = $1`, auth.TokenDigest(token))
	return mapError(err, "session")
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where user_id = $1`, userID)
	return mapError(err, "sessions of user "+userID)
}

func (s *Store) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, mapError(err, "sessions")
	}
	return res.RowsAffected()
}
