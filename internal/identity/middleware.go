package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/picshare/internal/autherr"
	"github.com/jmerrifield20/picshare/internal/users"
)

const (
	ctxSessionClaims = "picshare_session_claims"
	ctxAccount       = "picshare_account"
)

// AccountLoader is satisfied by *users.Service.
type AccountLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.Account, error)
}

// RequireAccount returns a Gin middleware that authenticates the request with
// a Bearer session token and loads the account it names.
//
// On success the claims and the *users.Account are available through
// SessionClaimsFromCtx and CurrentAccount.
func RequireAccount(sessions *SessionIssuer, accounts AccountLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(autherr.ErrUnauthenticated.Status, autherr.ErrUnauthenticated)
			return
		}

		claims, err := sessions.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(autherr.ErrUnauthenticated.Status,
				autherr.WithMessage(autherr.ErrUnauthenticated, "invalid or expired session token"))
			return
		}
		id, err := uuid.Parse(claims.AccountID)
		if err != nil {
			c.AbortWithStatusJSON(autherr.ErrUnauthenticated.Status, autherr.ErrUnauthenticated)
			return
		}

		a, err := accounts.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				c.AbortWithStatusJSON(autherr.ErrUnauthenticated.Status,
					autherr.WithMessage(autherr.ErrUnauthenticated, "account no longer exists"))
				return
			}
			c.AbortWithStatusJSON(autherr.ErrInternal.Status, autherr.ErrInternal)
			return
		}

		c.Set(ctxSessionClaims, claims)
		c.Set(ctxAccount, a)
		c.Next()
	}
}

// CurrentAccount returns the account loaded by RequireAccount, or nil.
func CurrentAccount(c *gin.Context) *users.Account {
	v, _ := c.Get(ctxAccount)
	a, _ := v.(*users.Account)
	return a
}

// SessionClaimsFromCtx returns the claims verified by RequireAccount, or nil.
func SessionClaimsFromCtx(c *gin.Context) *SessionClaims {
	v, _ := c.Get(ctxSessionClaims)
	claims, _ := v.(*SessionClaims)
	return claims
}
