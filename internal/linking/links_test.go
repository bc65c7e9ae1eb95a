package linking_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmerrifield20/picshare/internal/autherr"
	"github.com/jmerrifield20/picshare/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLink_createsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.accounts.Signup(ctx, "ann@x.com", "password123", "Ann")
	require.NoError(t, err)

	ident, created, err := f.svc.Link(ctx, a.ID, oauth.GitHub, tokens("gh-1"), &oauth.ProviderProfile{Subject: "42", Email: "octo@x.com"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, a.ID, ident.AccountID)
	assert.Equal(t, "octo@x.com", ident.ProviderEmail)
	assert.Equal(t, []notice{{a.ID, oauth.GitHub, true}}, f.notifier.all())
}

func TestLink_alreadyLinkedToSelfIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Resolve(ctx, oauth.Google, annProfile(), tokens("at-1"))
	require.NoError(t, err)
	before := f.identity(t, oauth.Google, "g1")

	ident, created, err := f.svc.Link(ctx, res.Account.ID, oauth.Google, tokens("at-2"), annProfile())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, before.ID, ident.ID)

	after := f.identity(t, oauth.Google, "g1")
	assert.Equal(t, before.AccessToken, after.AccessToken, "no-op must not write")
	assert.Empty(t, f.notifier.all())
}

func TestLink_alreadyLinkedToOther(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner, err := f.svc.Resolve(ctx, oauth.Google, annProfile(), tokens("at-1"))
	require.NoError(t, err)
	other, err := f.accounts.Signup(ctx, "bob@x.com", "password123", "Bob")
	require.NoError(t, err)
	accountsBefore, identitiesBefore := f.store.Counts()

	_, _, err = f.svc.Link(ctx, other.ID, oauth.Google, tokens("at-2"), annProfile())
	require.ErrorIs(t, err, autherr.ErrAlreadyLinkedToOther)
	assert.Equal(t, autherr.KindConflict, autherr.KindOf(err))

	accountsAfter, identitiesAfter := f.store.Counts()
	assert.Equal(t, accountsBefore, accountsAfter)
	assert.Equal(t, identitiesBefore, identitiesAfter)
	assert.Equal(t, owner.Account.ID, f.identity(t, oauth.Google, "g1").AccountID)
}

func TestLink_duplicateProviderForAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Resolve(ctx, oauth.Google, annProfile(), tokens("at-1"))
	require.NoError(t, err)

	_, _, err = f.svc.Link(ctx, res.Account.ID, oauth.Google, tokens("at-2"), &oauth.ProviderProfile{Subject: "g2", Email: "a2@x.com"})
	assert.ErrorIs(t, err, autherr.ErrDuplicateProviderForAccount)
}

func TestUnlink_lastAuthMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Resolve(ctx, oauth.Google, annProfile(), tokens("at-1"))
	require.NoError(t, err)

	err = f.svc.Unlink(ctx, res.Account.ID, oauth.Google)
	require.ErrorIs(t, err, autherr.ErrLastAuthMethod)
	ae, ok := autherr.As(err)
	require.True(t, ok)
	assert.Equal(t, autherr.KindInvariant, ae.Kind)
	assert.NotEmpty(t, ae.Hint)

	require.NoError(t, f.accounts.SetPassword(ctx, res.Account.ID, "", "password123"))
	require.NoError(t, f.svc.Unlink(ctx, res.Account.ID, oauth.Google))

	_, identities := f.store.Counts()
	assert.Zero(t, identities)
	assert.Equal(t, []notice{{res.Account.ID, oauth.Google, false}}, f.notifier.all())
}

func TestUnlink_keepsAccountWithAnotherProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Resolve(ctx, oauth.Google, annProfile(), tokens("at-1"))
	require.NoError(t, err)
	_, _, err = f.svc.Link(ctx, res.Account.ID, oauth.GitHub, tokens("gh-1"), &oauth.ProviderProfile{Subject: "42"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Unlink(ctx, res.Account.ID, oauth.Google))
	err = f.svc.Unlink(ctx, res.Account.ID, oauth.GitHub)
	assert.ErrorIs(t, err, autherr.ErrLastAuthMethod)
}

func TestUnlink_notLinked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.accounts.Signup(ctx, "ann@x.com", "password123", "Ann")
	require.NoError(t, err)

	err = f.svc.Unlink(ctx, a.ID, oauth.Google)
	assert.ErrorIs(t, err, autherr.ErrNotLinked)
}

func TestLinked_summaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Resolve(ctx, oauth.Google, annProfile(), tokens("at-1"))
	require.NoError(t, err)
	_, _, err = f.svc.Link(ctx, res.Account.ID, oauth.GitHub,
		oauth.TokenSet{AccessToken: "gh-1", Expiry: time.Now().Add(-time.Minute)},
		&oauth.ProviderProfile{Subject: "42", Email: "octo@x.com"})
	require.NoError(t, err)

	got, err := f.svc.Linked(ctx, res.Account.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byProvider := map[string]bool{}
	for _, l := range got {
		byProvider[l.Provider] = l.HasValidToken
		assert.False(t, l.LinkedAt.IsZero())
	}
	assert.True(t, byProvider[oauth.Google])
	assert.False(t, byProvider[oauth.GitHub], "expired token is not valid")
}

func TestRefresh_usesDecryptedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Resolve(ctx, oauth.Google, annProfile(), tokens("at-1"))
	require.NoError(t, err)

	var seen string
	fetch := func(_ context.Context, accessToken string) (*oauth.ProviderProfile, error) {
		seen = accessToken
		p := annProfile()
		p.Email = "ann.new@x.com"
		p.Name = "Ann L."
		return p, nil
	}

	ident, err := f.svc.Refresh(ctx, res.Account.ID, oauth.Google, fetch)
	require.NoError(t, err)
	assert.Equal(t, "at-1", seen)
	assert.Equal(t, "ann.new@x.com", ident.ProviderEmail)
	assert.Equal(t, "Ann L.", f.identity(t, oauth.Google, "g1").Profile["name"])

	_, err = f.svc.Refresh(ctx, res.Account.ID, oauth.GitHub, fetch)
	assert.ErrorIs(t, err, autherr.ErrNotLinked)
}

func TestRefresh_rejectsOtherSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Resolve(ctx, oauth.Google, annProfile(), tokens("at-1"))
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, res.Account.ID, oauth.Google, func(context.Context, string) (*oauth.ProviderProfile, error) {
		return &oauth.ProviderProfile{Subject: "someone-else"}, nil
	})
	assert.ErrorIs(t, err, autherr.ErrProviderProfileUnavailable)
	assert.Equal(t, "a@x.com", f.identity(t, oauth.Google, "g1").ProviderEmail)
}
