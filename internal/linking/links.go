package linking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/picshare/internal/autherr"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/jmerrifield20/picshare/internal/users"
	"go.uber.org/zap"
)

// LinkedAccount summarizes one provider identity. Token values are never
// included.
type LinkedAccount struct {
	ID            uuid.UUID `json:"id"`
	Provider      string    `json:"provider"`
	ProviderEmail string    `json:"provider_email"`
	LinkedAt      time.Time `json:"linked_at"`
	HasValidToken bool      `json:"has_valid_token"`
}

// Link attaches the provider identity described by profile to accountID.
// Linking an identity the account already holds succeeds without writing and
// reports created=false.
func (s *Service) Link(ctx context.Context, accountID uuid.UUID, provider string, tokens oauth.TokenSet, profile *oauth.ProviderProfile) (*users.ProviderIdentity, bool, error) {
	if profile == nil || profile.Subject == "" {
		return nil, false, autherr.ErrIncompleteProfile
	}
	sealed, err := s.seal(tokens)
	if err != nil {
		return nil, false, err
	}

	var (
		ident   *users.ProviderIdentity
		account *users.Account
		created bool
	)
	err = s.retry(ctx, func(tx users.Tx) error {
		created = false
		a, err := tx.AccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		account = a

		existing, err := tx.IdentityBySubject(ctx, provider, profile.Subject)
		switch {
		case err == nil:
			if existing.AccountID != accountID {
				return autherr.ErrAlreadyLinkedToOther
			}
			ident = existing
			return nil
		case !errors.Is(err, users.ErrNotFound):
			return err
		}

		if _, err := tx.IdentityByAccount(ctx, accountID, provider); err == nil {
			return autherr.ErrDuplicateProviderForAccount
		} else if !errors.Is(err, users.ErrNotFound) {
			return err
		}

		ident = newIdentity(accountID, provider, profile, sealed)
		if err := tx.CreateIdentity(ctx, ident); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("provider linked",
			zap.String("account_id", accountID.String()),
			zap.String("provider", provider),
		)
		s.notify(ctx, account, provider, true)
	}
	return ident, created, nil
}

// Unlink removes the account's identity for provider. It refuses to remove
// the last way of signing in to an account.
func (s *Service) Unlink(ctx context.Context, accountID uuid.UUID, provider string) error {
	var account *users.Account
	err := s.retry(ctx, func(tx users.Tx) error {
		a, err := tx.AccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		account = a

		ident, err := tx.IdentityByAccount(ctx, accountID, provider)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				return autherr.ErrNotLinked
			}
			return err
		}

		all, err := tx.ListIdentities(ctx, accountID)
		if err != nil {
			return err
		}
		if !a.HasPassword() && len(all) <= 1 {
			return autherr.ErrLastAuthMethod
		}
		return tx.DeleteIdentity(ctx, ident.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("provider unlinked",
		zap.String("account_id", accountID.String()),
		zap.String("provider", provider),
	)
	s.notify(ctx, account, provider, false)
	return nil
}

// Linked lists the provider identities of an account, oldest first.
func (s *Service) Linked(ctx context.Context, accountID uuid.UUID) ([]LinkedAccount, error) {
	var idents []*users.ProviderIdentity
	err := s.retry(ctx, func(tx users.Tx) error {
		var err error
		idents, err = tx.ListIdentities(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]LinkedAccount, 0, len(idents))
	for _, p := range idents {
		out = append(out, LinkedAccount{
			ID:            p.ID,
			Provider:      p.Provider,
			ProviderEmail: p.ProviderEmail,
			LinkedAt:      p.CreatedAt,
			HasValidToken: p.HasValidToken(now),
		})
	}
	return out, nil
}

// ProfileFetcher loads a provider profile with a plain access token.
type ProfileFetcher func(ctx context.Context, accessToken string) (*oauth.ProviderProfile, error)

// Refresh re-reads the provider profile of a linked identity using its stored
// access token and updates the snapshot. The token is decrypted only for the
// duration of the call.
func (s *Service) Refresh(ctx context.Context, accountID uuid.UUID, provider string, fetch ProfileFetcher) (*users.ProviderIdentity, error) {
	var ident *users.ProviderIdentity
	err := s.retry(ctx, func(tx users.Tx) error {
		var err error
		ident, err = tx.IdentityByAccount(ctx, accountID, provider)
		if errors.Is(err, users.ErrNotFound) {
			return autherr.ErrNotLinked
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ident.HasValidToken(s.now()) {
		return nil, autherr.WithMessage(autherr.ErrProviderProfileUnavailable, "stored provider token is missing or expired")
	}

	accessToken, err := s.cipher.Decrypt(ident.AccessToken)
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrInternal, err)
	}
	profile, err := fetch(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if profile.Subject != ident.Subject {
		return nil, autherr.WithMessage(autherr.ErrProviderProfileUnavailable, "stored token belongs to a different provider account")
	}

	err = s.retry(ctx, func(tx users.Tx) error {
		current, err := tx.IdentityByAccount(ctx, accountID, provider)
		if err != nil {
			return err
		}
		current.ProviderEmail = profile.Email
		current.Profile = profile.Snapshot()
		if err := tx.UpdateIdentity(ctx, current); err != nil {
			return err
		}
		ident = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ident, nil
}
