package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes and constraint names the store translates into sentinels.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	constraintAccountEmail     = "accounts_email_key"
	constraintAccountUsername  = "accounts_username_key"
	constraintIdentitySubject  = "provider_identities_provider_subject_key"
	constraintIdentityProvider = "provider_identities_account_provider_key"
)

const accountColumns = `id, username, email, password_hash, display_name, bio, avatar_url, signup_method, created_at, updated_at`

const identityColumns = `id, account_id, provider, subject, provider_email, access_token, refresh_token, token_expiry, profile, created_at, updated_at`

// PostgresStore is the Store backed by PostgreSQL. Every unit of work runs
// in a SERIALIZABLE transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx runs fn inside a serializable transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return translateTxErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translateTxErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func translateTxErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %v", ErrTxConflict, err)
	}
	return err
}

// uniqueViolation maps a unique-constraint failure to its sentinel.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case constraintAccountEmail:
		return ErrDuplicateEmail
	case constraintAccountUsername:
		return ErrDuplicateUsername
	case constraintIdentitySubject:
		return ErrIdentityExists
	case constraintIdentityProvider:
		return ErrDuplicateProvider
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) AccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return t.scanAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (t *pgTx) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	return t.scanAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
}

func (t *pgTx) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

// CreateAccount inserts a. Sets ID, CreatedAt and UpdatedAt.
func (t *pgTx) CreateAccount(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	q := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := t.tx.Exec(ctx, q,
		a.ID, a.Username, a.Email, a.PasswordHash, a.DisplayName,
		a.Bio, a.AvatarURL, a.SignupMethod, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if sentinel := uniqueViolation(err); sentinel != nil {
			return sentinel
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (t *pgTx) SetPasswordHash(ctx context.Context, accountID uuid.UUID, hash string) error {
	return t.execOne(ctx, "set password",
		`UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		accountID, hash, time.Now().UTC())
}

func (t *pgTx) UpdateProfile(ctx context.Context, accountID uuid.UUID, displayName, bio, avatarURL string) error {
	return t.execOne(ctx, "update profile",
		`UPDATE accounts SET display_name = $2, bio = $3, avatar_url = $4, updated_at = $5 WHERE id = $1`,
		accountID, displayName, bio, avatarURL, time.Now().UTC())
}

func (t *pgTx) IdentityBySubject(ctx context.Context, provider, subject string) (*ProviderIdentity, error) {
	return t.scanIdentity(ctx,
		`SELECT `+identityColumns+` FROM provider_identities WHERE provider = $1 AND subject = $2`,
		provider, subject)
}

func (t *pgTx) IdentityByAccount(ctx context.Context, accountID uuid.UUID, provider string) (*ProviderIdentity, error) {
	return t.scanIdentity(ctx,
		`SELECT `+identityColumns+` FROM provider_identities WHERE account_id = $1 AND provider = $2`,
		accountID, provider)
}

func (t *pgTx) ListIdentities(ctx context.Context, accountID uuid.UUID) ([]*ProviderIdentity, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+identityColumns+` FROM provider_identities WHERE account_id = $1 ORDER BY created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []*ProviderIdentity
	for rows.Next() {
		p, err := scanIdentityRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateIdentity inserts p. Sets ID, CreatedAt and UpdatedAt.
func (t *pgTx) CreateIdentity(ctx context.Context, p *ProviderIdentity) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Profile == nil {
		p.Profile = map[string]any{}
	}

	q := `
		INSERT INTO provider_identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := t.tx.Exec(ctx, q,
		p.ID, p.AccountID, p.Provider, p.Subject, p.ProviderEmail,
		p.AccessToken, p.RefreshToken, p.TokenExpiry, p.Profile,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if sentinel := uniqueViolation(err); sentinel != nil {
			return sentinel
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// UpdateIdentity rewrites the token and profile columns of p.
func (t *pgTx) UpdateIdentity(ctx context.Context, p *ProviderIdentity) error {
	p.UpdatedAt = time.Now().UTC()
	if p.Profile == nil {
		p.Profile = map[string]any{}
	}
	return t.execOne(ctx, "update identity", `
		UPDATE provider_identities
		SET provider_email = $2, access_token = $3, refresh_token = $4,
		    token_expiry = $5, profile = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, p.ProviderEmail, p.AccessToken, p.RefreshToken,
		p.TokenExpiry, p.Profile, p.UpdatedAt)
}

func (t *pgTx) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	return t.execOne(ctx, "delete identity", `DELETE FROM provider_identities WHERE id = $1`, id)
}

// execOne runs a write that must touch exactly one row.
func (t *pgTx) execOne(ctx context.Context, op, q string, args ...any) error {
	tag, err := t.tx.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) scanAccount(ctx context.Context, q string, args ...any) (*Account, error) {
	var a Account
	err := t.tx.QueryRow(ctx, q, args...).Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.DisplayName,
		&a.Bio, &a.AvatarURL, &a.SignupMethod, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func (t *pgTx) scanIdentity(ctx context.Context, q string, args ...any) (*ProviderIdentity, error) {
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	p, err := scanIdentityRow(rows)
	if err != nil {
		return nil, err
	}
	return p, rows.Err()
}

func scanIdentityRow(rows pgx.Rows) (*ProviderIdentity, error) {
	var p ProviderIdentity
	if err := rows.Scan(
		&p.ID, &p.AccountID, &p.Provider, &p.Subject, &p.ProviderEmail,
		&p.AccessToken, &p.RefreshToken, &p.TokenExpiry, &p.Profile,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	return &p, nil
}
