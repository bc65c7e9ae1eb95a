package oauth

import (
	"maps"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenLifetime applies when a token response carries no expiry.
const DefaultTokenLifetime = 3600 * time.Second

// ProviderProfile is the validated user profile returned by a provider.
// Subject is always set; Email is set unless the provider does not require it.
type ProviderProfile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string

	// Raw is the provider's decoded JSON payload.
	Raw map[string]any
}

// Snapshot returns the profile as stored alongside a provider identity.
func (p *ProviderProfile) Snapshot() map[string]any {
	out := maps.Clone(p.Raw)
	if out == nil {
		out = make(map[string]any)
	}
	out["name"] = p.Name
	out["given_name"] = p.GivenName
	out["family_name"] = p.FamilyName
	out["picture"] = p.Picture
	out["verified_email"] = p.EmailVerified
	return out
}

// TokenSet is the credential set returned by a successful code exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

func tokenSetFrom(tok *oauth2.Token, now time.Time) TokenSet {
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if ts.Expiry.IsZero() {
		ts.Expiry = now.Add(DefaultTokenLifetime)
	}
	return ts
}
