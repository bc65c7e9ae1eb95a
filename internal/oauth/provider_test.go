package oauth_test

import (
	"testing"

	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_rejectsUnknownOrUnconfigured(t *testing.T) {
	_, err := oauth.NewProvider("myspace", oauth.ProviderConfig{ClientID: "id", ClientSecret: "secret"})
	assert.Error(t, err)

	_, err = oauth.NewProvider(oauth.Google, oauth.ProviderConfig{ClientID: "id"})
	assert.Error(t, err)
}

func TestNewProviders_skipsUnconfigured(t *testing.T) {
	got, err := oauth.NewProviders(map[string]oauth.ProviderConfig{
		oauth.Google:   {ClientID: "id", ClientSecret: "secret"},
		oauth.Facebook: {},
	})
	require.NoError(t, err)
	assert.Contains(t, got, oauth.Google)
	assert.NotContains(t, got, oauth.Facebook)
}

func TestProfileSnapshot(t *testing.T) {
	p := &oauth.ProviderProfile{
		Subject: "g1", Name: "Ann Lee", GivenName: "Ann", EmailVerified: true,
		Raw: map[string]any{"locale": "en"},
	}
	snap := p.Snapshot()
	assert.Equal(t, "en", snap["locale"])
	assert.Equal(t, "Ann Lee", snap["name"])
	assert.Equal(t, true, snap["verified_email"])
	_, leaked := p.Raw["name"]
	assert.False(t, leaked, "Snapshot must not mutate Raw")
}
