package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned by Consume when no live pending state exists.
var ErrStateNotFound = errors.New("authorization state not found")

// Pending is the state recorded when an authorization attempt begins.
type Pending struct {
	State       string    `json:"state"`
	Provider    string    `json:"provider"`
	RedirectURL string    `json:"redirect_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// StateStore holds at most one pending authorization per browser session.
// Consume must be atomic: of two concurrent calls for the same key, at most
// one returns the pending state.
type StateStore interface {
	Put(ctx context.Context, sessionKey string, p Pending) error
	Consume(ctx context.Context, sessionKey string) (*Pending, error)
}

// newState returns 32 bytes of randomness, URL-safe encoded.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ── In-memory ───────────────────────────────────────────────────────────────

// MemoryStateStore is a StateStore for a single process.
type MemoryStateStore struct {
	mu      sync.Mutex
	pending map[string]Pending
	now     func() time.Time
}

// NewMemoryStateStore creates an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{pending: make(map[string]Pending), now: time.Now}
}

func (s *MemoryStateStore) Put(_ context.Context, sessionKey string, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.pending {
		if !now.Before(v.ExpiresAt) {
			delete(s.pending, k)
		}
	}
	s.pending[sessionKey] = p
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, sessionKey string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[sessionKey]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.pending, sessionKey)
	if !s.now().Before(p.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &p, nil
}

// ── Redis ───────────────────────────────────────────────────────────────────

// RedisStateStore keeps pending states in Redis with a TTL and consumes them
// with GETDEL, so concurrent callbacks across instances see a state once.
type RedisStateStore struct {
	rdb *redis.Client
}

// NewRedisStateStore creates a RedisStateStore.
func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func redisStateKey(sessionKey string) string {
	return "oauth_state:" + sessionKey
}

func (s *RedisStateStore) Put(ctx context.Context, sessionKey string, p Pending) error {
	ttl := time.Until(p.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("put oauth state: already expired")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal oauth state: %w", err)
	}
	if err := s.rdb.Set(ctx, redisStateKey(sessionKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("put oauth state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Consume(ctx context.Context, sessionKey string) (*Pending, error) {
	data, err := s.rdb.GetDel(ctx, redisStateKey(sessionKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	if !time.Now().Before(p.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &p, nil
}
