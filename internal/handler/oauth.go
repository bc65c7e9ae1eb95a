package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/picshare/internal/autherr"
	"github.com/jmerrifield20/picshare/internal/identity"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/jmerrifield20/picshare/internal/session"
	"go.uber.org/zap"
)

// OAuthOptions configures an OAuthHandler.
type OAuthOptions struct {
	// CallbackBaseURL is used when the request carries no usable host.
	CallbackBaseURL string
	// TrustProxyHeaders lets X-Forwarded-Host/Proto decide the callback URL.
	TrustProxyHeaders bool
	// FrontendURL, when set, receives the result of a callback as a
	// redirect instead of a JSON body.
	FrontendURL string
}

// OAuthHandler serves the social login redirect and callback.
type OAuthHandler struct {
	flow     oauthFlow
	resolver resolver
	sessions *session.Manager
	tokens   *identity.SessionIssuer
	opts     OAuthOptions
	logger   *zap.Logger
}

// NewOAuthHandler creates an OAuthHandler.
func NewOAuthHandler(
	flow oauthFlow,
	res resolver,
	sessions *session.Manager,
	tokens *identity.SessionIssuer,
	opts OAuthOptions,
	logger *zap.Logger,
) *OAuthHandler {
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")
	return &OAuthHandler{
		flow:     flow,
		resolver: res,
		sessions: sessions,
		tokens:   tokens,
		opts:     opts,
		logger:   logger,
	}
}

// Register mounts the login routes. mw runs before each of them.
func (h *OAuthHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	rg.GET("/login/start", chain(mw, h.Start)...)
	rg.GET(oauth.DefaultCallbackPath, chain(mw, h.Callback)...)
}

// Start handles GET /login/start?provider=. It binds a fresh state to the
// browser session and sends the browser to the provider, or returns the
// authorization URL as JSON when asked to.
func (h *OAuthHandler) Start(c *gin.Context) {
	provider := c.Query("provider")
	if provider == "" {
		badRequest(c, "provider query parameter is required")
		return
	}

	ctx, err := h.sessions.Load(c.Request)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	key, err := h.sessions.Key(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	baseURL := oauth.BaseURL(c.Request, h.opts.TrustProxyHeaders, h.opts.CallbackBaseURL)
	authURL, err := h.flow.Begin(ctx, key, provider, baseURL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.sessions.Save(ctx, c.Writer); err != nil {
		respondError(c, h.logger, err)
		return
	}

	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"authorization_url": authURL})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback handles GET /oauth/callback. It verifies the state, exchanges the
// code, resolves the provider identity to an account and issues a session
// token for it.
func (h *OAuthHandler) Callback(c *gin.Context) {
	ctx, err := h.sessions.Load(c.Request)
	if err != nil {
		h.fail(c, "unknown", err)
		return
	}

	comp, err := h.flow.Complete(ctx, oauth.CallbackInput{
		SessionKey:       h.sessions.ExistingKey(ctx),
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	})
	if err != nil {
		h.fail(c, "unknown", err)
		return
	}

	profile, err := h.flow.FetchProfile(ctx, comp.Provider, comp.Tokens.AccessToken)
	if err != nil {
		h.fail(c, comp.Provider, err)
		return
	}
	res, err := h.resolver.Resolve(ctx, comp.Provider, profile, comp.Tokens)
	if err != nil {
		h.fail(c, comp.Provider, err)
		return
	}
	tok, err := h.tokens.Issue(res.Account)
	if err != nil {
		h.fail(c, comp.Provider, autherr.Wrap(autherr.ErrInternal, err))
		return
	}
	recordLogin(comp.Provider, res.IsNew, nil)

	if h.opts.FrontendURL != "" {
		frag := url.Values{
			"token":       {tok},
			"token_type":  {"Bearer"},
			"expires_in":  {strconv.Itoa(int(h.tokens.TTL().Seconds()))},
			"new_account": {strconv.FormatBool(res.IsNew)},
		}
		c.Redirect(http.StatusFound, h.opts.FrontendURL+oauth.DefaultCallbackPath+"#"+frag.Encode())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":          tok,
		"token_type":     "Bearer",
		"expires_in":     int(h.tokens.TTL().Seconds()),
		"provider":       comp.Provider,
		"is_new_account": res.IsNew,
		"account":        res.Account,
	})
}

// fail records and reports a failed callback. With a frontend configured the
// error code travels in the redirect fragment.
func (h *OAuthHandler) fail(c *gin.Context, provider string, err error) {
	recordLogin(provider, false, err)
	if h.opts.FrontendURL == "" {
		respondError(c, h.logger, err)
		return
	}

	e := classify(err)
	if e.Kind == autherr.KindInternal {
		h.logger.Error("oauth callback failed", zap.String("provider", provider), zap.Error(err))
	}
	frag := url.Values{"error": {e.Code}}
	if e.Hint != "" {
		frag.Set("hint", e.Hint)
	}
	c.Redirect(http.StatusFound, h.opts.FrontendURL+oauth.DefaultCallbackPath+"#"+frag.Encode())
}

func wantsJSON(c *gin.Context) bool {
	if c.Query("format") == "json" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
