// Package session keeps browser sessions for the login flow. Sessions are
// managed by scs; RedisStore lets every replica see the same sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "picshare_session:"

var _ scs.CtxStore = (*RedisStore)(nil)

// RedisStore is an scs.CtxStore backed by go-redis.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix selects the default.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// FindCtx returns the data of a live session.
func (s *RedisStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find session: %w", err)
	}
	return b, true, nil
}

// CommitCtx stores b until expiry. Sessions already past expiry are deleted.
func (s *RedisStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return s.DeleteCtx(ctx, token)
	}
	if err := s.rdb.Set(ctx, s.prefix+token, b, ttl).Err(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// DeleteCtx removes a session. Deleting a missing session is not an error.
func (s *RedisStore) DeleteCtx(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, s.prefix+token).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *RedisStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *RedisStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}
