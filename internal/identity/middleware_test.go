package identity_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/picshare/internal/identity"
	"github.com/jmerrifield20/picshare/internal/users"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeRawURL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

type stubLoader struct {
	accounts map[uuid.UUID]*users.Account
}

func (l *stubLoader) GetByID(_ context.Context, id uuid.UUID) (*users.Account, error) {
	a, ok := l.accounts[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return a, nil
}

func newProtectedRouter(s *identity.SessionIssuer, loader identity.AccountLoader) *gin.Engine {
	r := gin.New()
	r.GET("/me", identity.RequireAccount(s, loader), func(c *gin.Context) {
		a := identity.CurrentAccount(c)
		claims := identity.SessionClaimsFromCtx(c)
		c.JSON(http.StatusOK, gin.H{"username": a.Username, "jti": claims.ID})
	})
	r.GET("/.well-known/jwks.json", identity.JWKSHandler(s))
	return r
}

func TestRequireAccount(t *testing.T) {
	s := identity.NewSessionIssuer(newTestKey(t), testIssuer, time.Hour)
	a := testAccount()
	loader := &stubLoader{accounts: map[uuid.UUID]*users.Account{a.ID: a}}
	r := newProtectedRouter(s, loader)

	valid, _ := s.Issue(a)
	orphan, _ := s.Issue(testAccount())

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"deleted account", "Bearer " + orphan, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
			var body map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if tc.want == http.StatusOK && body["username"] != "ann" {
				t.Errorf("username = %v", body["username"])
			}
			if tc.want == http.StatusUnauthorized && body["error"] != "unauthenticated" {
				t.Errorf("error code = %v", body["error"])
			}
		})
	}
}

func TestJWKSHandler(t *testing.T) {
	key := newTestKey(t)
	s := identity.NewSessionIssuer(key, testIssuer, time.Hour)
	r := newProtectedRouter(s, &stubLoader{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var set identity.JWKSet
	if err := json.Unmarshal(w.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(set.Keys))
	}
	k := set.Keys[0]
	if k.Kty != "RSA" || k.Alg != "RS256" || k.E != "AQAB" {
		t.Errorf("unexpected jwk: %+v", k)
	}
	if k.Kid != identity.KeyID(&key.PublicKey) {
		t.Errorf("kid = %q", k.Kid)
	}
	if jwkModulus(t, k.N).Cmp(key.N) != 0 {
		t.Error("modulus mismatch")
	}
}
