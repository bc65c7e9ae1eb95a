package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmerrifield20/picshare/internal/autherr"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Flow defaults.
const (
	DefaultCallbackPath = "/oauth/callback"
	DefaultStateTTL     = 10 * time.Minute
	DefaultHTTPTimeout  = 10 * time.Second

	maxProfileBody = 1 << 16
)

// Options configures a Flow. Zero values select the defaults above.
type Options struct {
	CallbackPath string
	StateTTL     time.Duration
	HTTPTimeout  time.Duration
	// HTTPClient replaces the client used for token and profile calls.
	HTTPClient *http.Client
}

// Flow runs authorization-code logins against a set of providers.
type Flow struct {
	providers    map[string]*Provider
	states       StateStore
	client       *http.Client
	callbackPath string
	stateTTL     time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewFlow creates a Flow.
func NewFlow(providers map[string]*Provider, states StateStore, opts Options, logger *zap.Logger) *Flow {
	f := &Flow{
		providers:    providers,
		states:       states,
		client:       opts.HTTPClient,
		callbackPath: opts.CallbackPath,
		stateTTL:     opts.StateTTL,
		logger:       logger,
		now:          time.Now,
	}
	if f.callbackPath == "" {
		f.callbackPath = DefaultCallbackPath
	}
	if f.stateTTL <= 0 {
		f.stateTTL = DefaultStateTTL
	}
	if f.client == nil {
		timeout := opts.HTTPTimeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		f.client = &http.Client{Timeout: timeout}
	}
	return f
}

// Provider returns the configured provider called name.
func (f *Flow) Provider(name string) (*Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, autherr.WithMessage(autherr.ErrProviderUnavailable,
			fmt.Sprintf("OAuth provider %q is not configured", name))
	}
	return p, nil
}

// Providers lists the configured provider names.
func (f *Flow) Providers() []string {
	out := make([]string, 0, len(f.providers))
	for name := range f.providers {
		out = append(out, name)
	}
	return out
}

// Begin starts an authorization attempt for the browser session sessionKey and
// returns the provider authorization URL. Any earlier pending attempt of the
// same session is replaced.
func (f *Flow) Begin(ctx context.Context, sessionKey, provider, baseURL string) (string, error) {
	p, err := f.Provider(provider)
	if err != nil {
		return "", err
	}
	if sessionKey == "" {
		return "", autherr.Wrap(autherr.ErrInternal, errors.New("begin authorization: no session"))
	}

	state, err := newState()
	if err != nil {
		return "", autherr.Wrap(autherr.ErrInternal, err)
	}
	redirectURL := strings.TrimRight(baseURL, "/") + f.callbackPath

	pending := Pending{
		State:       state,
		Provider:    provider,
		RedirectURL: redirectURL,
		ExpiresAt:   f.now().Add(f.stateTTL),
	}
	if err := f.states.Put(ctx, sessionKey, pending); err != nil {
		return "", autherr.Wrap(autherr.ErrInternal, err)
	}

	authURL := p.oauthConfig(redirectURL).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	f.logger.Info("oauth authorization started",
		zap.String("provider", provider),
		zap.String("redirect_uri", redirectURL),
	)
	return authURL, nil
}

// CallbackInput carries the query parameters of a provider redirect.
type CallbackInput struct {
	SessionKey       string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Completion is the result of a successful callback.
type Completion struct {
	Provider string
	Tokens   TokenSet
}

// Complete verifies the callback against the session's pending state and
// exchanges the code. The pending state is consumed by every call, whatever
// the outcome, so a callback can never be replayed.
func (f *Flow) Complete(ctx context.Context, in CallbackInput) (*Completion, error) {
	var pending *Pending
	if in.SessionKey != "" {
		p, err := f.states.Consume(ctx, in.SessionKey)
		switch {
		case err == nil:
			pending = p
		case errors.Is(err, ErrStateNotFound):
		default:
			return nil, autherr.Wrap(autherr.ErrInternal, err)
		}
	}

	if in.Error != "" {
		base := autherr.ErrAuthorizationDenied
		if in.Error == "access_denied" {
			base = autherr.ErrAuthorizationCancelled
		}
		msg := in.ErrorDescription
		if msg == "" {
			msg = in.Error
		}
		return nil, autherr.Wrap(base, fmt.Errorf("provider returned %s", msg))
	}
	if in.Code == "" {
		return nil, autherr.ErrMissingCode
	}
	if in.State == "" {
		return nil, autherr.ErrMissingState
	}
	if pending == nil || subtle.ConstantTimeCompare([]byte(pending.State), []byte(in.State)) != 1 {
		f.logger.Warn("oauth state rejected",
			zap.String("event", "oauth_state_rejected"),
			zap.Bool("pending", pending != nil),
		)
		return nil, autherr.ErrInvalidState
	}

	p, err := f.Provider(pending.Provider)
	if err != nil {
		return nil, err
	}

	xctx := context.WithValue(ctx, oauth2.HTTPClient, f.client)
	tok, err := p.oauthConfig(pending.RedirectURL).Exchange(xctx, in.Code)
	if err != nil {
		f.logger.Error("oauth code exchange", zap.String("provider", p.Name), zap.Error(err))
		return nil, classifyExchangeErr(err)
	}
	if tok.AccessToken == "" {
		return nil, autherr.Wrap(autherr.ErrTokenExchangeFailed, errors.New("token response has no access token"))
	}

	return &Completion{Provider: p.Name, Tokens: tokenSetFrom(tok, f.now())}, nil
}

func classifyExchangeErr(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		status := rErr.Response.StatusCode
		cause := fmt.Errorf("token endpoint returned %d", status)
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return autherr.Wrap(autherr.ErrProviderOutage, cause)
		}
		return autherr.Wrap(autherr.ErrTokenExchangeFailed, cause)
	}
	if isNetworkErr(err) {
		return autherr.Wrap(autherr.ErrNetwork, err)
	}
	return autherr.Wrap(autherr.ErrTokenExchangeFailed, err)
}

func isNetworkErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// FetchProfile loads and validates the profile of the account that owns
// accessToken at provider.
func (f *Flow) FetchProfile(ctx context.Context, provider, accessToken string) (*ProviderProfile, error) {
	p, err := f.Provider(provider)
	if err != nil {
		return nil, err
	}

	body, err := f.apiGet(ctx, p.userInfoURL, accessToken)
	if err != nil {
		return nil, err
	}
	profile, err := p.decode(body)
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrProviderProfileUnavailable, err)
	}
	if err := json.Unmarshal(body, &profile.Raw); err != nil {
		return nil, autherr.Wrap(autherr.ErrProviderProfileUnavailable, err)
	}

	// GitHub omits private addresses from /user.
	if profile.Email == "" && p.emailsURL != "" {
		profile.Email, profile.EmailVerified = f.primaryEmail(ctx, p, accessToken)
	}

	if profile.Subject == "" {
		return nil, autherr.WithMessage(autherr.ErrIncompleteProfile, "provider profile has no subject id")
	}
	if profile.Email == "" && p.emailRequired {
		return nil, autherr.WithMessage(autherr.ErrIncompleteProfile, "provider profile has no email address")
	}
	return profile, nil
}

func (f *Flow) primaryEmail(ctx context.Context, p *Provider, accessToken string) (string, bool) {
	body, err := f.apiGet(ctx, p.emailsURL, accessToken)
	if err != nil {
		f.logger.Warn("fetch provider emails", zap.String("provider", p.Name), zap.Error(err))
		return "", false
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", false
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, e.Verified
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, emails[0].Verified
	}
	return "", false
}

func (f *Flow) apiGet(ctx context.Context, rawURL, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "picshare/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return nil, autherr.Wrap(autherr.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, autherr.Wrap(autherr.ErrProviderProfileUnavailable,
			fmt.Errorf("provider api returned %d", resp.StatusCode))
	}
	return body, nil
}
