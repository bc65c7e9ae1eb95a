// Package autherr is the error taxonomy shared by the social-login flow,
// the identity resolver and the account-link manager.
//
// Every failure surfaced to a caller is an *Error carrying a Kind (which
// decides retry policy and HTTP class), a stable machine Code, and an
// optional remediation Hint. Sentinels are compared with errors.Is by Code,
// so a wrapped copy produced by Wrap still matches its sentinel.
package autherr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for retry policy and transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindValidation
	KindSecurity
	KindProvider
	KindConflict
	KindInvariant
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindSecurity:
		return "security"
	case KindProvider:
		return "provider"
	case KindConflict:
		return "conflict"
	case KindInvariant:
		return "invariant"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified, status-aware error.
type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"error"`
	Status  int    `json:"-"`
	Message string `json:"message,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether restarting the whole flow may succeed.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindTransient
}

func newErr(kind Kind, code string, status int, message string) *Error {
	return &Error{Kind: kind, Code: code, Status: status, Message: message}
}

// Wrap returns a copy of base with cause attached. A nil cause yields a
// plain copy of base.
func Wrap(base *Error, cause error) *Error {
	if base == nil {
		base = ErrInternal
	}
	cp := *base
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of base with a more specific message.
func WithMessage(base *Error, message string) *Error {
	cp := *base
	cp.Message = message
	return &cp
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// Status maps err to an HTTP status. Unclassified errors are 500.
func Status(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// KindOf returns the Kind of err, or KindInternal if unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrInternal = newErr(KindInternal, "internal_error", http.StatusInternalServerError, "internal error")

	// Configuration
	ErrProviderUnavailable = newErr(KindConfiguration, "provider_unavailable", http.StatusServiceUnavailable, "OAuth provider is not configured")

	// Validation
	ErrMissingCode  = newErr(KindValidation, "missing_code", http.StatusBadRequest, "authorization code is missing")
	ErrMissingState = newErr(KindValidation, "missing_state", http.StatusBadRequest, "state parameter is missing")
	ErrInvalidInput = newErr(KindValidation, "invalid_input", http.StatusBadRequest, "invalid request")

	// Security
	ErrInvalidState    = newErr(KindSecurity, "invalid_state", http.StatusBadRequest, "invalid state parameter")
	ErrUnauthenticated = newErr(KindSecurity, "unauthenticated", http.StatusUnauthorized, "a valid session token is required")
	ErrBadCredentials  = newErr(KindSecurity, "invalid_credentials", http.StatusUnauthorized, "invalid email or password")

	// Provider
	ErrAuthorizationCancelled     = newErr(KindProvider, "authorization_cancelled", http.StatusBadRequest, "authorization was cancelled at the provider")
	ErrAuthorizationDenied        = newErr(KindProvider, "authorization_denied", http.StatusBadRequest, "authorization was denied by the provider")
	ErrTokenExchangeFailed        = newErr(KindProvider, "token_exchange_failed", http.StatusBadRequest, "failed to exchange authorization code")
	ErrProviderProfileUnavailable = newErr(KindProvider, "provider_profile_unavailable", http.StatusBadGateway, "failed to fetch profile from provider")
	ErrIncompleteProfile          = newErr(KindProvider, "incomplete_profile", http.StatusBadGateway, "provider returned an incomplete profile")

	// Conflict
	ErrAlreadyLinkedToOther        = newErr(KindConflict, "already_linked_to_other", http.StatusBadRequest, "this provider account is linked to another user")
	ErrDuplicateProviderForAccount = newErr(KindConflict, "duplicate_provider_for_account", http.StatusBadRequest, "a different account of this provider is already linked")
	ErrEmailTaken                  = newErr(KindConflict, "email_taken", http.StatusConflict, "email already registered")

	ErrNotLinked = newErr(KindValidation, "not_linked", http.StatusBadRequest, "provider is not linked to this account")

	// Invariant
	ErrLastAuthMethod = &Error{
		Kind: KindInvariant, Code: "last_auth_method", Status: http.StatusBadRequest,
		Message: "cannot remove the only login method of this account",
		Hint:    "set a password or link another provider before unlinking",
	}

	// Transient
	ErrNetwork     = newErr(KindTransient, "network_error", http.StatusBadGateway, "network error while contacting provider")
	ErrRateLimited = newErr(KindTransient, "rate_limited", http.StatusTooManyRequests, "too many requests")

	// ErrProviderOutage is a 5xx or 429 from a provider endpoint. The
	// request was not rejected on its merits, so the flow may be restarted.
	ErrProviderOutage = newErr(KindTransient, "provider_unavailable_upstream", http.StatusBadGateway, "provider is temporarily unavailable")
)
