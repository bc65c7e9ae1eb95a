package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/picshare/internal/identity"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/jmerrifield20/picshare/internal/users"
	"go.uber.org/zap"
)

// LinkHandler manages the provider identities of a signed-in account.
type LinkHandler struct {
	flow     oauthFlow
	links    linkManager
	sessions *identity.SessionIssuer
	accounts identity.AccountLoader
	logger   *zap.Logger
	now      func() time.Time
}

// NewLinkHandler creates a LinkHandler.
func NewLinkHandler(flow oauthFlow, links linkManager, sessions *identity.SessionIssuer, accounts identity.AccountLoader, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		flow:     flow,
		links:    links,
		sessions: sessions,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

// Register mounts the link routes behind session authentication. mw runs
// before authentication.
func (h *LinkHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	auth := chain(mw, identity.RequireAccount(h.sessions, h.accounts))
	g := rg.Group("", auth...)
	g.POST("/link", h.Link)
	g.DELETE("/link/:provider", h.Unlink)
	g.POST("/link/:provider/refresh", h.Refresh)
	g.GET("/accounts/linked", h.Linked)
}

type linkRequest struct {
	Provider     string `json:"provider"      binding:"required"`
	AccessToken  string `json:"access_token"  binding:"required"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// providerLabel keeps metric labels to configured provider names.
func (h *LinkHandler) providerLabel(name string) string {
	if _, err := h.flow.Provider(name); err != nil {
		return "unknown"
	}
	return name
}

// Link handles POST /link. The access token is used to read the provider
// profile, then the identity is attached to the signed-in account.
func (h *LinkHandler) Link(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "provider and access_token are required")
		return
	}
	a := identity.CurrentAccount(c)
	ctx := c.Request.Context()

	ident, created, err := h.link(ctx, a, req)
	recordLink(h.providerLabel(req.Provider), "link", err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"provider":       ident.Provider,
		"provider_email": ident.ProviderEmail,
		"linked_at":      ident.CreatedAt.UTC().Format(time.RFC3339),
		"already_linked": !created,
	})
}

// maxTokenLifetime caps a client-reported expires_in.
const maxTokenLifetime = 365 * 24 * time.Hour

func (h *LinkHandler) link(ctx context.Context, a *users.Account, req linkRequest) (*users.ProviderIdentity, bool, error) {
	profile, err := h.flow.FetchProfile(ctx, req.Provider, req.AccessToken)
	if err != nil {
		return nil, false, err
	}
	lifetime := oauth.DefaultTokenLifetime
	switch {
	case req.ExpiresIn > int64(maxTokenLifetime/time.Second):
		lifetime = maxTokenLifetime
	case req.ExpiresIn > 0:
		lifetime = time.Duration(req.ExpiresIn) * time.Second
	}
	tokens := oauth.TokenSet{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       h.now().Add(lifetime),
	}
	return h.links.Link(ctx, a.ID, req.Provider, tokens, profile)
}

// Unlink handles DELETE /link/:provider.
func (h *LinkHandler) Unlink(c *gin.Context) {
	provider := c.Param("provider")
	a := identity.CurrentAccount(c)

	err := h.links.Unlink(c.Request.Context(), a.ID, provider)
	recordLink(h.providerLabel(provider), "unlink", err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider, "unlinked": true})
}

// Refresh handles POST /link/:provider/refresh. The stored token of the
// identity is used to re-read its provider profile.
func (h *LinkHandler) Refresh(c *gin.Context) {
	provider := c.Param("provider")
	a := identity.CurrentAccount(c)

	fetch := func(ctx context.Context, accessToken string) (*oauth.ProviderProfile, error) {
		return h.flow.FetchProfile(ctx, provider, accessToken)
	}
	ident, err := h.links.Refresh(c.Request.Context(), a.ID, provider, fetch)
	recordLink(h.providerLabel(provider), "refresh", err)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":        ident.Provider,
		"provider_email":  ident.ProviderEmail,
		"has_valid_token": ident.HasValidToken(h.now()),
		"refreshed_at":    ident.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// Linked handles GET /accounts/linked.
func (h *LinkHandler) Linked(c *gin.Context) {
	a := identity.CurrentAccount(c)
	linked, err := h.links.Linked(c.Request.Context(), a.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"linked_accounts": linked,
		"has_password":    a.HasPassword(),
	})
}
