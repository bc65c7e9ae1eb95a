//go:build integration

package users_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/picshare/internal/users"
	"github.com/jmerrifield20/picshare/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresStore(t *testing.T) *users.PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	m, err := migrations.New(dbURL)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return users.NewPostgresStore(pool)
}

func uniqueName(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
}

func createAccount(t *testing.T, s users.Store, username, email string) *users.Account {
	t.Helper()
	a := &users.Account{Username: username, Email: email, SignupMethod: "github"}
	require.NoError(t, s.InTx(context.Background(), func(tx users.Tx) error {
		return tx.CreateAccount(context.Background(), a)
	}))
	return a
}

func TestPostgresStore_accountLookups(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	name := uniqueName("pg")
	a := createAccount(t, s, name, name+"@Example.com")

	err := s.InTx(ctx, func(tx users.Tx) error {
		got, err := tx.AccountByEmail(ctx, strings.ToUpper(name)+"@example.COM")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)

		exists, err := tx.UsernameExists(ctx, name)
		require.NoError(t, err)
		assert.True(t, exists)

		_, err = tx.AccountByID(ctx, uuid.New())
		assert.ErrorIs(t, err, users.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresStore_uniqueConstraints(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	name := uniqueName("uc")
	createAccount(t, s, name, name+"@example.com")

	err := s.InTx(ctx, func(tx users.Tx) error {
		return tx.CreateAccount(ctx, &users.Account{Username: name + "x", Email: strings.ToUpper(name) + "@EXAMPLE.com"})
	})
	assert.ErrorIs(t, err, users.ErrDuplicateEmail)

	err = s.InTx(ctx, func(tx users.Tx) error {
		return tx.CreateAccount(ctx, &users.Account{Username: name, Email: name + "-other@example.com"})
	})
	assert.ErrorIs(t, err, users.ErrDuplicateUsername)
}

func TestPostgresStore_identities(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	name := uniqueName("id")
	a := createAccount(t, s, name, name+"@example.com")
	b := createAccount(t, s, name+"b", name+"b@example.com")
	subject := uniqueName("sub")
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	ident := &users.ProviderIdentity{
		AccountID:     a.ID,
		Provider:      "github",
		Subject:       subject,
		ProviderEmail: name + "@example.com",
		AccessToken:   "v1:ciphertext",
		TokenExpiry:   &expiry,
		Profile:       map[string]any{"login": name},
	}
	require.NoError(t, s.InTx(ctx, func(tx users.Tx) error {
		return tx.CreateIdentity(ctx, ident)
	}))

	err := s.InTx(ctx, func(tx users.Tx) error {
		return tx.CreateIdentity(ctx, &users.ProviderIdentity{AccountID: b.ID, Provider: "github", Subject: subject})
	})
	assert.ErrorIs(t, err, users.ErrIdentityExists)

	err = s.InTx(ctx, func(tx users.Tx) error {
		return tx.CreateIdentity(ctx, &users.ProviderIdentity{AccountID: a.ID, Provider: "github", Subject: subject + "-2"})
	})
	assert.ErrorIs(t, err, users.ErrDuplicateProvider)

	err = s.InTx(ctx, func(tx users.Tx) error {
		got, err := tx.IdentityBySubject(ctx, "github", subject)
		require.NoError(t, err)
		assert.Equal(t, ident.ID, got.ID)
		assert.Equal(t, "v1:ciphertext", got.AccessToken)
		assert.Equal(t, name, got.Profile["login"])
		require.NotNil(t, got.TokenExpiry)
		assert.True(t, expiry.Equal(*got.TokenExpiry))

		got.AccessToken = "v1:rotated"
		require.NoError(t, tx.UpdateIdentity(ctx, got))

		list, err := tx.ListIdentities(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "v1:rotated", list[0].AccessToken)

		require.NoError(t, tx.DeleteIdentity(ctx, got.ID))
		_, err = tx.IdentityByAccount(ctx, a.ID, "github")
		assert.ErrorIs(t, err, users.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresStore_rollbackOnError(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	name := uniqueName("rb")

	err := s.InTx(ctx, func(tx users.Tx) error {
		if err := tx.CreateAccount(ctx, &users.Account{Username: name, Email: name + "@example.com"}); err != nil {
			return err
		}
		return users.ErrNotFound
	})
	require.ErrorIs(t, err, users.ErrNotFound)

	err = s.InTx(ctx, func(tx users.Tx) error {
		exists, err := tx.UsernameExists(ctx, name)
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	})
	require.NoError(t, err)
}
