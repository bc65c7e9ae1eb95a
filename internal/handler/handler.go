// Package handler exposes the social-login and account-linking HTTP API.
package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/picshare/internal/linking"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/jmerrifield20/picshare/internal/users"
)

// oauthFlow is the subset of *oauth.Flow used by the handlers.
type oauthFlow interface {
	Provider(name string) (*oauth.Provider, error)
	Begin(ctx context.Context, sessionKey, provider, baseURL string) (string, error)
	Complete(ctx context.Context, in oauth.CallbackInput) (*oauth.Completion, error)
	FetchProfile(ctx context.Context, provider, accessToken string) (*oauth.ProviderProfile, error)
}

// resolver is satisfied by *linking.Service.
type resolver interface {
	Resolve(ctx context.Context, provider string, profile *oauth.ProviderProfile, tokens oauth.TokenSet) (*linking.Resolution, error)
}

// linkManager is satisfied by *linking.Service.
type linkManager interface {
	Link(ctx context.Context, accountID uuid.UUID, provider string, tokens oauth.TokenSet, profile *oauth.ProviderProfile) (*users.ProviderIdentity, bool, error)
	Unlink(ctx context.Context, accountID uuid.UUID, provider string) error
	Linked(ctx context.Context, accountID uuid.UUID) ([]linking.LinkedAccount, error)
	Refresh(ctx context.Context, accountID uuid.UUID, provider string, fetch linking.ProfileFetcher) (*users.ProviderIdentity, error)
}

// accountSvc is satisfied by *users.Service.
type accountSvc interface {
	Signup(ctx context.Context, email, password, displayName string) (*users.Account, error)
	Login(ctx context.Context, email, password string) (*users.Account, error)
	SetPassword(ctx context.Context, accountID uuid.UUID, current, next string) error
	GetByID(ctx context.Context, id uuid.UUID) (*users.Account, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, bio, avatarURL string) (*users.Account, error)
}

// chain returns mw followed by h in a new slice.
func chain(mw []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, h)
}
