//go:build integration

package oauth_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStateStore_consumeOnce(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	s := oauth.NewRedisStateStore(rdb)
	key := uuid.NewString()

	require.NoError(t, s.Put(ctx, key, oauth.Pending{
		State:       "state-value",
		Provider:    "google",
		RedirectURL: "https://pics.example.com/oauth/callback",
		ExpiresAt:   time.Now().Add(time.Minute),
	}))

	p, err := s.Consume(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "state-value", p.State)
	assert.Equal(t, "google", p.Provider)

	_, err = s.Consume(ctx, key)
	assert.ErrorIs(t, err, oauth.ErrStateNotFound)
}
