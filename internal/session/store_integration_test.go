//go:build integration

package session_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmerrifield20/picshare/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisStore_lifecycle(t *testing.T) {
	ctx := context.Background()
	s := session.NewRedisStore(newRedis(t), "picshare_session_test:")
	token := "tok-" + time.Now().Format("150405.000000")

	_, found, err := s.FindCtx(ctx, token)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.CommitCtx(ctx, token, []byte("data"), time.Now().Add(time.Minute)))
	b, found, err := s.FindCtx(ctx, token)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("data"), b)

	require.NoError(t, s.DeleteCtx(ctx, token))
	_, found, _ = s.FindCtx(ctx, token)
	assert.False(t, found)
}

func TestRedisStore_expiredCommitDeletes(t *testing.T) {
	ctx := context.Background()
	s := session.NewRedisStore(newRedis(t), "picshare_session_test:")
	token := "expired-" + time.Now().Format("150405.000000")

	require.NoError(t, s.Commit(token, []byte("x"), time.Now().Add(time.Minute)))
	require.NoError(t, s.Commit(token, []byte("x"), time.Now().Add(-time.Second)))
	_, found, err := s.Find(token)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManager_withRedisStore(t *testing.T) {
	m := session.NewManager(session.Config{Store: session.NewRedisStore(newRedis(t), "picshare_session_test:")})
	assert.Equal(t, session.DefaultCookieName, m.CookieName())
}
