package identity

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmerrifield20/picshare/internal/users"
)

const sessionTokenType = "session"

// SessionClaims are the JWT claims of a picshare session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Type      string `json:"type"`
}

// SessionIssuer issues and verifies session JWTs.
type SessionIssuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	kid    string
	issuer string
	ttl    time.Duration
}

// NewSessionIssuer creates a SessionIssuer. A zero ttl means 24 hours.
func NewSessionIssuer(key *rsa.PrivateKey, issuerURL string, ttl time.Duration) *SessionIssuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &SessionIssuer{
		key:    key,
		pub:    &key.PublicKey,
		kid:    KeyID(&key.PublicKey),
		issuer: issuerURL,
		ttl:    ttl,
	}
}

// PublicKey returns the verification key.
func (s *SessionIssuer) PublicKey() *rsa.PublicKey { return s.pub }

// TTL returns the lifetime of issued tokens.
func (s *SessionIssuer) TTL() time.Duration { return s.ttl }

// Issue creates a signed session token for a.
func (s *SessionIssuer) Issue(a *users.Account) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.New().String(),
		},
		AccountID: a.ID.String(),
		Username:  a.Username,
		Email:     a.Email,
		Type:      sessionTokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (s *SessionIssuer) Verify(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return s.pub, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	if claims.Type != sessionTokenType {
		return nil, fmt.Errorf("not a session token")
	}
	return claims, nil
}
