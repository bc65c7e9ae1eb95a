package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
)

// DefaultCookieName names the session cookie when no name is configured.
const DefaultCookieName = "picshare_session"

// keyField is the session field holding the browser's login key.
const keyField = "login_key"

// Config configures NewManager. Zero values select scs defaults, except
// CookieName which defaults to DefaultCookieName.
type Config struct {
	CookieName string
	Lifetime   time.Duration
	Secure     bool
	// Store replaces the in-process scs store.
	Store scs.Store
}

// Manager binds requests to browser sessions.
type Manager struct {
	sm *scs.SessionManager
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	sm := scs.New()
	sm.Cookie.Name = cfg.CookieName
	if sm.Cookie.Name == "" {
		sm.Cookie.Name = DefaultCookieName
	}
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = cfg.Secure
	if cfg.Lifetime > 0 {
		sm.Lifetime = cfg.Lifetime
	}
	if cfg.Store != nil {
		sm.Store = cfg.Store
	}
	return &Manager{sm: sm}
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.sm.Cookie.Name }

// Load reads the session named by r's cookie into the returned context.
// A missing or unknown cookie yields a fresh, empty session.
func (m *Manager) Load(r *http.Request) (context.Context, error) {
	var token string
	if c, err := r.Cookie(m.sm.Cookie.Name); err == nil {
		token = c.Value
	}
	ctx, err := m.sm.Load(r.Context(), token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return ctx, nil
}

// Key returns the login key of the session in ctx, creating one if the
// session has none yet.
func (m *Manager) Key(ctx context.Context) (string, error) {
	if k := m.sm.GetString(ctx, keyField); k != "" {
		return k, nil
	}
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	k := base64.RawURLEncoding.EncodeToString(b)
	m.sm.Put(ctx, keyField, k)
	return k, nil
}

// ExistingKey returns the login key of the session in ctx or "" if it has none.
func (m *Manager) ExistingKey(ctx context.Context) string {
	return m.sm.GetString(ctx, keyField)
}

// Save persists a modified session and sets its cookie on w. It must run
// before the response body is written.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter) error {
	switch m.sm.Status(ctx) {
	case scs.Modified:
		token, expiry, err := m.sm.Commit(ctx)
		if err != nil {
			return fmt.Errorf("commit session: %w", err)
		}
		m.sm.WriteSessionCookie(ctx, w, token, expiry)
	case scs.Destroyed:
		m.sm.WriteSessionCookie(ctx, w, "", time.Time{})
	}
	return nil
}
