// Package linking maps provider identities onto local accounts. Resolve
// decides, for a social login, whether to reuse, link or create an account;
// Link, Unlink and Linked manage the provider identities of an account that
// is already signed in.
package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/picshare/internal/autherr"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/jmerrifield20/picshare/internal/users"
	"go.uber.org/zap"
)

// maxAttempts bounds how often a unit of work is retried after losing a race
// on a uniqueness constraint or a serialization failure.
const maxAttempts = 3

// tokenCipher is satisfied by *tokencipher.Cipher.
type tokenCipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(enc string) (string, error)
}

// notifier is satisfied by *email.LinkNotifier.
type notifier interface {
	ProviderLinked(ctx context.Context, a *users.Account, provider string) error
	ProviderUnlinked(ctx context.Context, a *users.Account, provider string) error
}

// Service implements identity resolution and account linking.
type Service struct {
	store    users.Store
	cipher   tokenCipher
	notifier notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service. n may be nil to disable link notifications.
func NewService(store users.Store, cipher tokenCipher, n notifier, logger *zap.Logger) *Service {
	return &Service{store: store, cipher: cipher, notifier: n, logger: logger, now: time.Now}
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Account  *users.Account
	Identity *users.ProviderIdentity
	IsNew    bool

	// linked is set when an existing account gained a new identity.
	linked bool
}

// sealedTokens are the encrypted forms of a TokenSet.
type sealedTokens struct {
	access  string
	refresh string
	expiry  *time.Time
}

func (s *Service) seal(tokens oauth.TokenSet) (sealedTokens, error) {
	access, err := s.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return sealedTokens{}, autherr.Wrap(autherr.ErrInternal, fmt.Errorf("encrypt access token: %w", err))
	}
	refresh, err := s.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return sealedTokens{}, autherr.Wrap(autherr.ErrInternal, fmt.Errorf("encrypt refresh token: %w", err))
	}
	st := sealedTokens{access: access, refresh: refresh}
	if !tokens.Expiry.IsZero() {
		exp := tokens.Expiry.UTC()
		st.expiry = &exp
	}
	return st, nil
}

// Resolve maps a verified provider profile to a local account. In order:
// an existing link for (provider, subject) is refreshed and its owner
// returned; else an account with the profile's email gets a new link; else a
// new account is created. All writes of one call commit or roll back together.
func (s *Service) Resolve(ctx context.Context, provider string, profile *oauth.ProviderProfile, tokens oauth.TokenSet) (*Resolution, error) {
	if profile == nil || profile.Subject == "" {
		return nil, autherr.ErrIncompleteProfile
	}
	sealed, err := s.seal(tokens)
	if err != nil {
		return nil, err
	}

	var res *Resolution
	err = s.retry(ctx, func(tx users.Tx) error {
		var err error
		res, err = s.resolveTx(ctx, tx, provider, profile, sealed)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.linked {
		s.notify(ctx, res.Account, provider, true)
	}

	s.logger.Info("provider identity resolved",
		zap.String("provider", provider),
		zap.String("account_id", res.Account.ID.String()),
		zap.Bool("new_account", res.IsNew),
	)
	return res, nil
}

func (s *Service) resolveTx(ctx context.Context, tx users.Tx, provider string, profile *oauth.ProviderProfile, sealed sealedTokens) (*Resolution, error) {
	ident, err := tx.IdentityBySubject(ctx, provider, profile.Subject)
	switch {
	case err == nil:
		applyLogin(ident, profile, sealed)
		if err := tx.UpdateIdentity(ctx, ident); err != nil {
			return nil, err
		}
		a, err := tx.AccountByID(ctx, ident.AccountID)
		if err != nil {
			return nil, err
		}
		return &Resolution{Account: a, Identity: ident}, nil
	case !errors.Is(err, users.ErrNotFound):
		return nil, err
	}

	if profile.Email != "" {
		a, err := tx.AccountByEmail(ctx, profile.Email)
		switch {
		case err == nil:
			ident := newIdentity(a.ID, provider, profile, sealed)
			if err := tx.CreateIdentity(ctx, ident); err != nil {
				return nil, err
			}
			return &Resolution{Account: a, Identity: ident, linked: true}, nil
		case !errors.Is(err, users.ErrNotFound):
			return nil, err
		}
	}

	a, err := s.createAccount(ctx, tx, provider, profile)
	if err != nil {
		return nil, err
	}
	ident = newIdentity(a.ID, provider, profile, sealed)
	if err := tx.CreateIdentity(ctx, ident); err != nil {
		return nil, err
	}
	return &Resolution{Account: a, Identity: ident, IsNew: true}, nil
}

func (s *Service) createAccount(ctx context.Context, tx users.Tx, provider string, profile *oauth.ProviderProfile) (*users.Account, error) {
	username, err := users.GenerateUsername(ctx, users.UsernameHints{
		Email:     profile.Email,
		GivenName: profile.GivenName,
		Name:      profile.Name,
		Provider:  provider,
	}, tx.UsernameExists, s.now)
	if err != nil {
		return nil, err
	}

	email := profile.Email
	if email == "" {
		email = username + "@" + provider + ".local"
	}
	displayName := profile.Name
	if displayName == "" {
		displayName = username
	}

	a := &users.Account{
		Username:     username,
		Email:        email,
		DisplayName:  displayName,
		AvatarURL:    profile.Picture,
		SignupMethod: provider,
	}
	if err := tx.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func newIdentity(accountID uuid.UUID, provider string, profile *oauth.ProviderProfile, sealed sealedTokens) *users.ProviderIdentity {
	return &users.ProviderIdentity{
		AccountID:     accountID,
		Provider:      provider,
		Subject:       profile.Subject,
		ProviderEmail: profile.Email,
		AccessToken:   sealed.access,
		RefreshToken:  sealed.refresh,
		TokenExpiry:   sealed.expiry,
		Profile:       profile.Snapshot(),
	}
}

// applyLogin copies a fresh login onto an existing identity. Providers send a
// refresh token only on first consent, so an absent one keeps the stored value.
func applyLogin(ident *users.ProviderIdentity, profile *oauth.ProviderProfile, sealed sealedTokens) {
	ident.ProviderEmail = profile.Email
	ident.AccessToken = sealed.access
	if sealed.refresh != "" {
		ident.RefreshToken = sealed.refresh
	}
	ident.TokenExpiry = sealed.expiry
	ident.Profile = profile.Snapshot()
}

// retry runs fn in a transaction, re-running it when it lost a race that a
// fresh read resolves. Other store errors are reported as internal.
func (s *Service) retry(ctx context.Context, fn func(tx users.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.store.InTx(ctx, fn)
		if err == nil || !retryable(err) {
			break
		}
		s.logger.Debug("retrying after concurrent write", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err == nil {
		return nil
	}
	if _, ok := autherr.As(err); ok {
		return err
	}
	if errors.Is(err, users.ErrDuplicateProvider) {
		return autherr.Wrap(autherr.ErrDuplicateProviderForAccount, err)
	}
	return autherr.Wrap(autherr.ErrInternal, err)
}

func retryable(err error) bool {
	return errors.Is(err, users.ErrIdentityExists) ||
		errors.Is(err, users.ErrTxConflict) ||
		errors.Is(err, users.ErrDuplicateEmail) ||
		errors.Is(err, users.ErrDuplicateUsername)
}

func (s *Service) notify(ctx context.Context, a *users.Account, provider string, linked bool) {
	if s.notifier == nil {
		return
	}
	var err error
	if linked {
		err = s.notifier.ProviderLinked(ctx, a, provider)
	} else {
		err = s.notifier.ProviderUnlinked(ctx, a, provider)
	}
	if err != nil {
		s.logger.Warn("send link notification",
			zap.String("account_id", a.ID.String()),
			zap.String("provider", provider),
			zap.Error(err),
		)
	}
}
