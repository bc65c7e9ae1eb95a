package session_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmerrifield20/picshare/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_keySurvivesRoundTrip(t *testing.T) {
	m := session.NewManager(session.Config{})

	req := httptest.NewRequest(http.MethodGet, "/login/start", nil)
	ctx, err := m.Load(req)
	require.NoError(t, err)
	assert.Empty(t, m.ExistingKey(ctx))

	key, err := m.Key(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	again, err := m.Key(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	w := httptest.NewRecorder()
	require.NoError(t, m.Save(ctx, w))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	next := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
	next.AddCookie(cookies[0])
	ctx2, err := m.Load(next)
	require.NoError(t, err)
	assert.Equal(t, key, m.ExistingKey(ctx2))
}

func TestManager_unmodifiedSessionSetsNoCookie(t *testing.T) {
	m := session.NewManager(session.Config{CookieName: "sid"})
	assert.Equal(t, "sid", m.CookieName())

	ctx, err := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, m.Save(ctx, w))
	assert.Empty(t, w.Result().Cookies())
}

func TestManager_unknownCookieStartsFreshSession(t *testing.T) {
	m := session.NewManager(session.Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "forged"})

	ctx, err := m.Load(req)
	require.NoError(t, err)
	assert.Empty(t, m.ExistingKey(ctx))
}

func TestManager_distinctBrowsersGetDistinctKeys(t *testing.T) {
	m := session.NewManager(session.Config{})
	ctxA, _ := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	ctxB, _ := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	a, _ := m.Key(ctxA)
	b, _ := m.Key(ctxB)
	assert.NotEqual(t, a, b)
}
