package users

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. InTx holds a single lock for the whole
// unit of work, so units are serialized, and restores a snapshot when fn fails.
// It backs tests and single-instance development servers.
type MemoryStore struct {
	mu         sync.Mutex
	accounts   map[uuid.UUID]*Account
	identities map[uuid.UUID]*ProviderIdentity
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[uuid.UUID]*Account),
		identities: make(map[uuid.UUID]*ProviderIdentity),
	}
}

// InTx runs fn with exclusive access to the store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := maps.Clone(s.accounts)
	identities := maps.Clone(s.identities)
	if err := fn(&memTx{s: s}); err != nil {
		s.accounts = accounts
		s.identities = identities
		return err
	}
	return nil
}

// Counts returns the number of stored accounts and identities.
func (s *MemoryStore) Counts() (accounts, identities int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts), len(s.identities)
}

// memTx mutates the store by replacing map entries, never by editing a stored
// value in place, so the shallow snapshot in InTx is enough to roll back.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) AccountByID(_ context.Context, id uuid.UUID) (*Account, error) {
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) AccountByEmail(_ context.Context, email string) (*Account, error) {
	for _, a := range t.s.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UsernameExists(_ context.Context, username string) (bool, error) {
	for _, a := range t.s.accounts {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateAccount(_ context.Context, a *Account) error {
	for _, existing := range t.s.accounts {
		if strings.EqualFold(existing.Email, a.Email) {
			return ErrDuplicateEmail
		}
		if existing.Username == a.Username {
			return ErrDuplicateUsername
		}
	}
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	t.s.accounts[a.ID] = &cp
	return nil
}

func (t *memTx) SetPasswordHash(_ context.Context, accountID uuid.UUID, hash string) error {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	cp := *a
	cp.PasswordHash = hash
	cp.UpdatedAt = time.Now().UTC()
	t.s.accounts[accountID] = &cp
	return nil
}

func (t *memTx) UpdateProfile(_ context.Context, accountID uuid.UUID, displayName, bio, avatarURL string) error {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	cp := *a
	cp.DisplayName = displayName
	cp.Bio = bio
	cp.AvatarURL = avatarURL
	cp.UpdatedAt = time.Now().UTC()
	t.s.accounts[accountID] = &cp
	return nil
}

func (t *memTx) IdentityBySubject(_ context.Context, provider, subject string) (*ProviderIdentity, error) {
	for _, p := range t.s.identities {
		if p.Provider == provider && p.Subject == subject {
			return copyIdentity(p), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) IdentityByAccount(_ context.Context, accountID uuid.UUID, provider string) (*ProviderIdentity, error) {
	for _, p := range t.s.identities {
		if p.AccountID == accountID && p.Provider == provider {
			return copyIdentity(p), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListIdentities(_ context.Context, accountID uuid.UUID) ([]*ProviderIdentity, error) {
	var out []*ProviderIdentity
	for _, p := range t.s.identities {
		if p.AccountID == accountID {
			out = append(out, copyIdentity(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) CreateIdentity(_ context.Context, p *ProviderIdentity) error {
	if _, ok := t.s.accounts[p.AccountID]; !ok {
		return ErrNotFound
	}
	for _, existing := range t.s.identities {
		if existing.Provider == p.Provider && existing.Subject == p.Subject {
			return ErrIdentityExists
		}
		if existing.AccountID == p.AccountID && existing.Provider == p.Provider {
			return ErrDuplicateProvider
		}
	}
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	t.s.identities[p.ID] = copyIdentity(p)
	return nil
}

func (t *memTx) UpdateIdentity(_ context.Context, p *ProviderIdentity) error {
	existing, ok := t.s.identities[p.ID]
	if !ok {
		return ErrNotFound
	}
	cp := copyIdentity(existing)
	cp.ProviderEmail = p.ProviderEmail
	cp.AccessToken = p.AccessToken
	cp.RefreshToken = p.RefreshToken
	cp.TokenExpiry = p.TokenExpiry
	cp.Profile = maps.Clone(p.Profile)
	cp.UpdatedAt = time.Now().UTC()
	p.UpdatedAt = cp.UpdatedAt
	t.s.identities[p.ID] = cp
	return nil
}

func (t *memTx) DeleteIdentity(_ context.Context, id uuid.UUID) error {
	if _, ok := t.s.identities[id]; !ok {
		return ErrNotFound
	}
	delete(t.s.identities, id)
	return nil
}

func copyIdentity(p *ProviderIdentity) *ProviderIdentity {
	cp := *p
	cp.Profile = maps.Clone(p.Profile)
	if p.TokenExpiry != nil {
		exp := *p.TokenExpiry
		cp.TokenExpiry = &exp
	}
	return &cp
}
