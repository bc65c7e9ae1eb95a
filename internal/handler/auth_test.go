package handler_test

import (
	"net/http"
	"testing"

	"github.com/jmerrifield20/picshare/internal/handler"
)

func TestSignup_201(t *testing.T) {
	e := newTestEnv(t, handler.OAuthOptions{})

	w := e.do(t, http.MethodPost, "/auth/signup", map[string]string{
		"email": "alice@example.com", "password": "password123", "display_name": "Alice",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["token"] == nil {
		t.Error("expected token in response")
	}
	account := body["account"].(map[string]any)
	if account["display_name"] != "Alice" || account["username"] != "alice" {
		t.Errorf("unexpected account %v", account)
	}
	if _, ok := account["password_hash"]; ok {
		t.Error("password hash must not be serialized")
	}
}

func TestSignup_errors(t *testing.T) {
	e := newTestEnv(t, handler.OAuthOptions{})
	e.signup(t, "alice@example.com")

	expectError(t, e.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "alice@example.com", "password": "password123"}, ""),
		http.StatusConflict, "email_taken")
	expectError(t, e.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "bob@example.com", "password": "short"}, ""),
		http.StatusBadRequest, "invalid_input")
	expectError(t, e.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "not-an-email", "password": "password123"}, ""),
		http.StatusBadRequest, "invalid_input")
	expectError(t, e.do(t, http.MethodPost, "/auth/signup", map[string]string{}, ""),
		http.StatusBadRequest, "invalid_input")
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t, handler.OAuthOptions{})
	e.signup(t, "alice@example.com")

	w := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "password123"}, "")
	if w.Code != http.StatusOK || decode(t, w)["token"] == nil {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	expectError(t, e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "wrong-password"}, ""),
		http.StatusUnauthorized, "invalid_credentials")
	expectError(t, e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "nobody@example.com", "password": "password123"}, ""),
		http.StatusUnauthorized, "invalid_credentials")
}

func TestMe_getAndUpdate(t *testing.T) {
	e := newTestEnv(t, handler.OAuthOptions{})
	token, id := e.signup(t, "alice@example.com")

	w := e.do(t, http.MethodGet, "/auth/me", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d", w.Code)
	}
	if got := decode(t, w)["account"].(map[string]any)["id"]; got != id {
		t.Errorf("me id: got %v", got)
	}

	w = e.do(t, http.MethodPatch, "/auth/me", map[string]string{"bio": "photos of cats"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	account := decode(t, w)["account"].(map[string]any)
	if account["bio"] != "photos of cats" || account["display_name"] != "alice" {
		t.Errorf("unexpected account %v", account)
	}
}

func TestSetPassword_requiresCurrent(t *testing.T) {
	e := newTestEnv(t, handler.OAuthOptions{})
	token, _ := e.signup(t, "alice@example.com")

	expectError(t, e.do(t, http.MethodPut, "/auth/password", map[string]string{"new_password": "another-password"}, token),
		http.StatusUnauthorized, "invalid_credentials")

	w := e.do(t, http.MethodPut, "/auth/password", map[string]string{
		"current_password": "password123", "new_password": "another-password",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("set password: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "another-password"}, ""); w.Code != http.StatusOK {
		t.Errorf("login with new password: %d", w.Code)
	}
}
