package users

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Username length bounds.
const (
	UsernameMaxLen = 30
	UsernameMinLen = 3

	usernameMaxAttempts = 9999
	shortUsernamePrefix = "user_"
)

// UsernameHints are the profile fields a username may be derived from.
type UsernameHints struct {
	Email     string
	GivenName string
	Name      string
	// Provider names the fallback placeholder ("<provider>_user").
	Provider string
}

// UsernameTaken reports whether a username is already in use.
type UsernameTaken func(ctx context.Context, username string) (bool, error)

// UsernameBase returns the normalized base name for h: the email local part,
// else the given name, else the full name, else a placeholder.
func UsernameBase(h UsernameHints) string {
	local := h.Email
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	for _, c := range []string{local, h.GivenName, h.Name} {
		if s := sanitizeUsername(c); s != "" {
			return normalizeUsername(s)
		}
	}
	provider := sanitizeUsername(h.Provider)
	if provider == "" {
		return "user"
	}
	return normalizeUsername(provider + "_user")
}

// GenerateUsername returns a username derived from h that taken reports as free.
// Collisions are resolved with a numeric suffix (name, name1, name2, ...). After
// usernameMaxAttempts collisions it falls back to a timestamp-derived name.
func GenerateUsername(ctx context.Context, h UsernameHints, taken UsernameTaken, now func() time.Time) (string, error) {
	base := UsernameBase(h)
	for i := 0; i <= usernameMaxAttempts; i++ {
		candidate := withSuffix(base, i)
		exists, err := taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username %q: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
	}

	ts := now().UnixNano()
	for {
		candidate := truncate(shortUsernamePrefix+strconv.FormatInt(ts, 10), UsernameMaxLen)
		exists, err := taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username %q: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		ts++
	}
}

// withSuffix appends n (when non-zero), trimming base so the result stays
// within UsernameMaxLen.
func withSuffix(base string, n int) string {
	if n == 0 {
		return base
	}
	suffix := strconv.Itoa(n)
	return truncate(base, UsernameMaxLen-len(suffix)) + suffix
}

// sanitizeUsername lowercases s and keeps only [a-z0-9_].
func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeUsername(s string) string {
	s = truncate(s, UsernameMaxLen)
	if len(s) < UsernameMinLen {
		s = shortUsernamePrefix + s
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
