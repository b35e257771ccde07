// Package redisstore keeps sessions in Redis. Each session is a hash under
// session:<digest> that expires with the session, and each user has a set of
// digests under user_sessions:<userID> so all of a user's sessions can be revoked.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetops.org/internal/apperr"
	"fleetops.org/internal/auth"
)

var _ auth.SessionStore = (*Sessions)(nil)

type Sessions struct {
	rdb *redis.Client
}

// Connect parses url, dials and pings.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func New(rdb *redis.Client) *Sessions { return &Sessions{rdb: rdb} }

func sessionKey(digest string) string { return "session:" + digest }

func userKey(userID string) string { return "user_sessions:" + userID }

func (s *Sessions) CreateSession(ctx context.Context, sess auth.Session) error {
	digest := auth.TokenDigest(sess.Token)
	key := sessionKey(digest)
	created, err := s.rdb.HSetNX(ctx, key, "user_id", sess.UserID).Result()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: session token collision", apperr.ErrConflict)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"expires_at", sess.ExpiresAt.UTC().UnixMilli(),
			"created_at", sess.CreatedAt.UTC().UnixMilli())
		p.ExpireAt(ctx, key, sess.ExpiresAt)
		p.SAdd(ctx, userKey(sess.UserID), digest)
		return nil
	})
	if err != nil {
		_ = s.rdb.Del(ctx, key).Err()
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *Sessions) FindSession(ctx context.Context, token string) (auth.Session, error) {
	vals, err := s.rdb.HGetAll(ctx, sessionKey(auth.TokenDigest(token))).Result()
	if err != nil {
		return auth.Session{}, fmt.Errorf("load session: %w", err)
	}
	if len(vals) == 0 || vals["user_id"] == "" {
		return auth.Session{}, fmt.Errorf("%w: session", apperr.ErrNotFound)
	}
	expires, err := parseMillis(vals["expires_at"])
	if err != nil {
		return auth.Session{}, fmt.Errorf("decode session expiry: %w", err)
	}
	created, _ := parseMillis(vals["created_at"])
	return auth.Session{Token: token, UserID: vals["user_id"], ExpiresAt: expires, CreatedAt: created}, nil
}

func (s *Sessions) DeleteSession(ctx context.Context, token string) error {
	digest := auth.TokenDigest(token)
	key := sessionKey(digest)
	userID, err := s.rdb.HGet(ctx, key, "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.SRem(ctx, userKey(userID), digest)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Sessions) DeleteUserSessions(ctx context.Context, userID string) error {
	set := userKey(userID)
	digests, err := s.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(digests)+1)
	for _, d := range digests {
		keys = append(keys, sessionKey(d))
	}
	keys = append(keys, set)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// PurgeExpiredSessions only trims user_sessions sets: Redis expires the
// session hashes itself. The returned count is the number of stale digests.
func (s *Sessions) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var (
		cursor uint64
		purged int64
	)
	for {
		sets, next, err := s.rdb.Scan(ctx, cursor, userKey("*"), 100).Result()
		if err != nil {
			return purged, fmt.Errorf("scan user sessions: %w", err)
		}
		for _, set := range sets {
			digests, err := s.rdb.SMembers(ctx, set).Result()
			if err != nil {
				return purged, fmt.Errorf("list user sessions: %w", err)
			}
			for _, d := range digests {
				n, err := s.rdb.Exists(ctx, sessionKey(d)).Result()
				if err != nil {
					return purged, fmt.Errorf("check session: %w", err)
				}
				if n == 0 {
					if err := s.rdb.SRem(ctx, set, d).Err(); err != nil {
						return purged, fmt.Errorf("trim user sessions: %w", err)
					}
					purged++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return purged, nil
		}
	}
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
