// Package oauth drives the OAuth2 authorization-code flow against the
// configured social-login providers: it issues and verifies single-use
// authorization state, exchanges codes for tokens and maps provider profile
// payloads into ProviderProfile.
package oauth

import (
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Supported provider names.
const (
	Google   = "google"
	GitHub   = "github"
	Facebook = "facebook"
)

const (
	googleUserInfoURL   = "https://www.googleapis.com/oauth2/v2/userinfo"
	githubUserURL       = "https://api.github.com/user"
	githubEmailsURL     = "https://api.github.com/user/emails"
	facebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email,first_name,last_name,picture.type(large)"
)

// ProviderConfig holds the OAuth client credentials of one provider. The URL
// fields override the provider's public endpoints and are left empty in
// production.
type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	AuthURL     string `mapstructure:"auth_url"`
	TokenURL    string `mapstructure:"token_url"`
	UserInfoURL string `mapstructure:"userinfo_url"`
	EmailsURL   string `mapstructure:"emails_url"`
}

// Configured reports whether client credentials are present.
func (c ProviderConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Provider is one configured social-login provider.
type Provider struct {
	Name string

	config      oauth2.Config
	userInfoURL string
	emailsURL   string

	// emailRequired rejects profiles without an email address.
	emailRequired bool
	decode        func(body []byte) (*ProviderProfile, error)
}

// NewProvider builds the Provider called name from cfg.
func NewProvider(name string, cfg ProviderConfig) (*Provider, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("oauth provider %q: client id and secret are required", name)
	}

	p := &Provider{
		Name: name,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		},
	}
	switch name {
	case Google:
		p.config.Endpoint = google.Endpoint
		p.config.Scopes = []string{"openid", "email", "profile"}
		p.userInfoURL = googleUserInfoURL
		p.emailRequired = true
		p.decode = decodeGoogle
	case GitHub:
		p.config.Endpoint = github.Endpoint
		p.config.Scopes = []string{"read:user", "user:email"}
		p.userInfoURL = githubUserURL
		p.emailsURL = githubEmailsURL
		p.emailRequired = true
		p.decode = decodeGitHub
	case Facebook:
		p.config.Endpoint = facebook.Endpoint
		p.config.Scopes = []string{"email", "public_profile"}
		p.userInfoURL = facebookUserInfoURL
		p.decode = decodeFacebook
	default:
		return nil, fmt.Errorf("unsupported oauth provider %q", name)
	}

	if cfg.AuthURL != "" {
		p.config.Endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		p.config.Endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		p.userInfoURL = cfg.UserInfoURL
	}
	if cfg.EmailsURL != "" {
		p.emailsURL = cfg.EmailsURL
	}
	return p, nil
}

// NewProviders builds every configured provider in cfgs. Providers without
// credentials are skipped.
func NewProviders(cfgs map[string]ProviderConfig) (map[string]*Provider, error) {
	out := make(map[string]*Provider, len(cfgs))
	for name, cfg := range cfgs {
		if !cfg.Configured() {
			continue
		}
		p, err := NewProvider(name, cfg)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

// TokenURL returns the provider's token endpoint.
func (p *Provider) TokenURL() string { return p.config.Endpoint.TokenURL }

// oauthConfig returns a copy of the client config bound to redirectURL.
func (p *Provider) oauthConfig(redirectURL string) *oauth2.Config {
	cfg := p.config
	cfg.RedirectURL = redirectURL
	return &cfg
}

func decodeGoogle(body []byte) (*ProviderProfile, error) {
	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse google user info: %w", err)
	}
	return &ProviderProfile{
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
		Picture:       info.Picture,
	}, nil
}

func decodeGitHub(body []byte) (*ProviderProfile, error) {
	var info struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse github user info: %w", err)
	}
	p := &ProviderProfile{
		Email:     info.Email,
		Name:      info.Name,
		GivenName: info.Login,
		Picture:   info.AvatarURL,
	}
	if info.ID != 0 {
		p.Subject = strconv.FormatInt(info.ID, 10)
	}
	if p.Name == "" {
		p.Name = info.Login
	}
	return p, nil
}

func decodeFacebook(body []byte) (*ProviderProfile, error) {
	var info struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Picture   struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse facebook user info: %w", err)
	}
	return &ProviderProfile{
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.Email != "",
		Name:          info.Name,
		GivenName:     info.FirstName,
		FamilyName:    info.LastName,
		Picture:       info.Picture.Data.URL,
	}, nil
}
