package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup finds no matching record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned when an account email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicateUsername is returned when a username is already taken.
	ErrDuplicateUsername = errors.New("username already taken")

	// ErrIdentityExists is returned when the (provider, subject) pair is already
	// linked. Raised by the uniqueness constraint when two logins race.
	ErrIdentityExists = errors.New("provider identity already exists")

	// ErrDuplicateProvider is returned when the account already holds an
	// identity for the same provider.
	ErrDuplicateProvider = errors.New("account already linked to provider")

	// ErrTxConflict is returned when a serializable transaction could not
	// commit because of a concurrent writer. The whole unit may be retried.
	ErrTxConflict = errors.New("transaction conflict")
)

// Tx is the set of reads and writes available inside one transaction.
type Tx interface {
	AccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CreateAccount(ctx context.Context, a *Account) error
	SetPasswordHash(ctx context.Context, accountID uuid.UUID, hash string) error
	UpdateProfile(ctx context.Context, accountID uuid.UUID, displayName, bio, avatarURL string) error

	IdentityBySubject(ctx context.Context, provider, subject string) (*ProviderIdentity, error)
	IdentityByAccount(ctx context.Context, accountID uuid.UUID, provider string) (*ProviderIdentity, error)
	ListIdentities(ctx context.Context, accountID uuid.UUID) ([]*ProviderIdentity, error)
	CreateIdentity(ctx context.Context, p *ProviderIdentity) error
	UpdateIdentity(ctx context.Context, p *ProviderIdentity) error
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
}

// Store runs units of work against the account database. fn's writes are
// committed only if fn returns nil; any error rolls back every write made
// inside fn.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
