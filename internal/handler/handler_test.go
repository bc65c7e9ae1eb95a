package handler_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/picshare/internal/autherr"
	"github.com/jmerrifield20/picshare/internal/handler"
	"github.com/jmerrifield20/picshare/internal/identity"
	"github.com/jmerrifield20/picshare/internal/linking"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/jmerrifield20/picshare/internal/session"
	"github.com/jmerrifield20/picshare/internal/tokencipher"
	"github.com/jmerrifield20/picshare/internal/users"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── Stub OAuth flow ───────────────────────────────────────────────────────

type pendingLogin struct {
	provider string
	state    string
}

// stubFlow stands in for *oauth.Flow. The authorization code doubles as the
// access token, which selects the profile returned by FetchProfile.
type stubFlow struct {
	mu       sync.Mutex
	seq      int
	pending  map[string]pendingLogin
	profiles map[string]*oauth.ProviderProfile
	lastBase string
}

func newStubFlow() *stubFlow {
	return &stubFlow{
		pending:  make(map[string]pendingLogin),
		profiles: make(map[string]*oauth.ProviderProfile),
	}
}

func (f *stubFlow) setProfile(token string, p *oauth.ProviderProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[token] = p
}

func (f *stubFlow) Provider(name string) (*oauth.Provider, error) {
	switch name {
	case oauth.Google, oauth.GitHub:
		return &oauth.Provider{Name: name}, nil
	}
	return nil, autherr.ErrProviderUnavailable
}

func (f *stubFlow) Begin(_ context.Context, sessionKey, provider, baseURL string) (string, error) {
	if _, err := f.Provider(provider); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	state := "state-" + strconv.Itoa(f.seq)
	f.pending[sessionKey] = pendingLogin{provider: provider, state: state}
	f.lastBase = baseURL
	q := url.Values{"provider": {provider}, "state": {state}, "redirect_uri": {baseURL + oauth.DefaultCallbackPath}}
	return "https://accounts.example.com/auth?" + q.Encode(), nil
}

func (f *stubFlow) Complete(_ context.Context, in oauth.CallbackInput) (*oauth.Completion, error) {
	f.mu.Lock()
	p, ok := f.pending[in.SessionKey]
	delete(f.pending, in.SessionKey)
	f.mu.Unlock()

	switch {
	case !ok:
		return nil, autherr.ErrInvalidState
	case in.Error == "access_denied":
		return nil, autherr.ErrAuthorizationCancelled
	case in.State != p.state:
		return nil, autherr.ErrInvalidState
	}
	return &oauth.Completion{
		Provider: p.provider,
		Tokens:   oauth.TokenSet{AccessToken: in.Code, TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)},
	}, nil
}

func (f *stubFlow) FetchProfile(_ context.Context, _, accessToken string) (*oauth.ProviderProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[accessToken]
	if !ok {
		return nil, autherr.ErrProviderProfileUnavailable
	}
	cp := *p
	return &cp, nil
}

// ── Test setup ────────────────────────────────────────────────────────────

type testEnv struct {
	router   *gin.Engine
	flow     *stubFlow
	store    *users.MemoryStore
	accounts *users.Service
	issuer   *identity.SessionIssuer
}

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func sharedKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return testKey
}

func newTestEnv(t *testing.T, opts handler.OAuthOptions) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store := users.NewMemoryStore()
	accounts := users.NewService(store, logger)
	cipher, err := tokencipher.New("handler-test-secret-0123456789")
	if err != nil {
		t.Fatalf("tokencipher: %v", err)
	}
	links := linking.NewService(store, cipher, nil, logger)
	issuer := identity.NewSessionIssuer(sharedKey(t), "http://test", time.Hour)
	flow := newStubFlow()
	if opts.CallbackBaseURL == "" {
		opts.CallbackBaseURL = "https://pics.example.com"
	}

	r := gin.New()
	root := r.Group("")
	handler.NewOAuthHandler(flow, links, session.NewManager(session.Config{}), issuer, opts, logger).Register(root)
	handler.NewLinkHandler(flow, links, issuer, accounts, logger).Register(root)
	handler.NewAuthHandler(accounts, issuer, logger).Register(root)

	return &testEnv{router: r, flow: flow, store: store, accounts: accounts, issuer: issuer}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["error"] != code {
		t.Fatalf("expected error %q, got %v", code, body["error"])
	}
	return body
}

// signup creates a password account and returns its session token.
func (e *testEnv) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": email, "password": "password123"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	account := body["account"].(map[string]any)
	return body["token"].(string), account["id"].(string)
}
