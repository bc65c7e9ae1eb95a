package users

import (
	"time"

	"github.com/google/uuid"
)

// SignupPassword is the signup method of accounts created with email/password.
// Social signups record the provider name instead.
const SignupPassword = "password"

// Account is a local picshare account.
type Account struct {
	ID           uuid.UUID `json:"id"            db:"id"`
	Username     string    `json:"username"      db:"username"`
	Email        string    `json:"email"         db:"email"`
	PasswordHash string    `json:"-"             db:"password_hash"`
	DisplayName  string    `json:"display_name"  db:"display_name"`
	Bio          string    `json:"bio"           db:"bio"`
	AvatarURL    string    `json:"avatar_url"    db:"avatar_url"`
	SignupMethod string    `json:"signup_method" db:"signup_method"`
	CreatedAt    time.Time `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"    db:"updated_at"`
}

// HasPassword reports whether the account can log in with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// ProviderIdentity links an account to one (provider, subject) pair.
// AccessToken and RefreshToken hold ciphertexts, never plain tokens.
type ProviderIdentity struct {
	ID            uuid.UUID      `json:"id"             db:"id"`
	AccountID     uuid.UUID      `json:"account_id"     db:"account_id"`
	Provider      string         `json:"provider"       db:"provider"`
	Subject       string         `json:"-"              db:"subject"`
	ProviderEmail string         `json:"provider_email" db:"provider_email"`
	AccessToken   string         `json:"-"              db:"access_token"`
	RefreshToken  string         `json:"-"              db:"refresh_token"`
	TokenExpiry   *time.Time     `json:"-"              db:"token_expiry"`
	Profile       map[string]any `json:"-"              db:"profile"`
	CreatedAt     time.Time      `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"     db:"updated_at"`
}

// HasValidToken reports whether a token is stored and not known to be expired.
func (p *ProviderIdentity) HasValidToken(now time.Time) bool {
	if p.AccessToken == "" {
		return false
	}
	return p.TokenExpiry == nil || now.Before(*p.TokenExpiry)
}
