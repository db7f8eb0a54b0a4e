package accounts_test

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-accounts"
)

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	auther := f.authenticator()
	ctx := accounts.WithClientIP(context.Background(), "192.0.2.10")

	approved := f.registerApproved(t, "in")
	pending := f.register(t, "wait")

	t.Run("by email ignores case", func(t *testing.T) {
		account, err := auther.Authenticate(ctx, "ANAIN@Example.com", testPassword)
		require.NoError(t, err)
		assert.Equal(t, approved.ID, account.ID)
	})

	t.Run("by username", func(t *testing.T) {
		account, err := auther.Authenticate(ctx, "anain", testPassword)
		require.NoError(t, err)
		assert.Equal(t, approved.ID, account.ID)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := auther.Authenticate(ctx, "nobody@example.com", testPassword)
		require.Error(t, err)
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("empty identifier", func(t *testing.T) {
		_, err := auther.Authenticate(ctx, "  ", testPassword)
		require.Error(t, err)
		assert.True(t, accounts.IsNotFound(err))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := auther.Authenticate(ctx, "anain", "not-the-password")
		require.Error(t, err)
		assert.True(t, accounts.IsBadCredential(err))
	})

	t.Run("empty password on approved account", func(t *testing.T) {
		_, err := auther.Authenticate(ctx, "anain", "")
		require.Error(t, err)
		assert.True(t, accounts.IsBadCredential(err))
		assert.False(t, accounts.IsNotFound(err))
	})

	t.Run("pending account with right password", func(t *testing.T) {
		_, err := auther.Authenticate(ctx, pending.Username, testPassword)
		require.Error(t, err)
		assert.True(t, accounts.IsNotApproved(err))
	})

	t.Run("pending account with wrong password", func(t *testing.T) {
		_, err := auther.Authenticate(ctx, pending.Username, "not-the-password")
		require.Error(t, err)
		assert.True(t, accounts.IsNotApproved(err), "status is checked before the password")
	})

	logins := f.activity(t, accounts.ActivityFilter{Action: accounts.ActionLogin})
	require.Len(t, logins, 2)
	for _, entry := range logins {
		assert.Equal(t, approved.ID, entry.AccountID)
		assert.Equal(t, "192.0.2.10", entry.IP)
	}

	stored, err := f.service.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.PasswordHash, stored.PasswordHash)
	assert.Equal(t, accounts.AccountStatusPending, stored.Status)
}

type countingHasher struct {
	accounts.PasswordHasher
	compares atomic.Int32
}

func (h *countingHasher) Compare(password, hash string) error {
	h.compares.Add(1)
	return h.PasswordHasher.Compare(password, hash)
}

func TestAuthenticate_EveryFailureComparesHash(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	hasher := &countingHasher{PasswordHasher: testHasher()}
	auther := f.authenticator().WithHasher(hasher)

	approved := f.registerApproved(t, "ok")
	pending := f.register(t, "pend")
	rejected := f.register(t, "nope")
	_, err := f.service.Reject(context.Background(), accounts.SystemActor(""), rejected.ID)
	require.NoError(t, err)
	disabled := f.registerApproved(t, "off")
	_, err = f.service.Disable(context.Background(), accounts.SystemActor(""), disabled.ID)
	require.NoError(t, err)

	cases := []struct {
		name       string
		identifier string
		password   string
	}{
		{"unknown identifier", "nobody_here", testPassword},
		{"empty identifier", "", testPassword},
		{"wrong password", approved.Username, "not-the-password"},
		{"empty password", approved.Username, ""},
		{"pending", pending.Username, testPassword},
		{"rejected", rejected.Username, "not-the-password"},
		{"disabled", disabled.Email, testPassword},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := hasher.compares.Load()
			_, err := auther.Authenticate(context.Background(), tc.identifier, tc.password)
			require.Error(t, err)
			assert.Equal(t, before+1, hasher.compares.Load(), "exactly one hash compare per attempt")
		})
	}
}

func TestAuthenticate_DisabledAccount(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	auther := f.authenticator()
	account := f.registerApproved(t, "off")

	_, err := f.service.Disable(context.Background(), accounts.SystemActor(""), account.ID)
	require.NoError(t, err)

	_, err = auther.Authenticate(context.Background(), account.Email, testPassword)
	require.Error(t, err)
	assert.True(t, accounts.IsNotApproved(err))
}

func TestLogin_SessionRoundTrip(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	auther := f.authenticator()
	account := f.registerApproved(t, "jwt")
	ctx := context.Background()

	token, err := auther.Login(ctx, account.Username, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	session, err := auther.SessionFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(account.ID, 10), session.Subject)
	assert.Equal(t, account.Username, session.Username)
	assert.Equal(t, string(accounts.RoleDesigner), session.Role)
	assert.False(t, session.Admin)

	identity, err := auther.IdentityFromSession(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, account.Email, identity.GetEmail())

	t.Run("tampered token", func(t *testing.T) {
		_, err := auther.SessionFromToken(token + "x")
		require.Error(t, err)
		assert.True(t, accounts.HasTextCode(err, accounts.TextCodeSessionInvalid))
	})

	t.Run("token signed with another key", func(t *testing.T) {
		cfg := defaultAuthConfig()
		cfg.signingKey = "some-other-key-0123456789"
		other := accounts.NewTokenService(cfg, nopLogger{})

		forged, err := other.Generate(account)
		require.NoError(t, err)

		_, err = auther.SessionFromToken(forged)
		require.Error(t, err)
	})

	t.Run("session dies with the account status", func(t *testing.T) {
		_, err := f.service.Disable(ctx, accounts.SystemActor(""), account.ID)
		require.NoError(t, err)

		_, err = auther.IdentityFromSession(ctx, session)
		require.Error(t, err)
		assert.True(t, accounts.IsNotApproved(err))
	})

	t.Run("session dies with the account", func(t *testing.T) {
		require.NoError(t, f.service.Delete(ctx, accounts.SystemActor(""), account.ID))

		_, err = auther.IdentityFromSession(ctx, session)
		require.Error(t, err)
		assert.True(t, accounts.HasTextCode(err, accounts.TextCodeSessionInvalid))
	})
}

func TestLogin_PublicErrors(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	auther := f.authenticator()
	pending := f.register(t, "pub")
	ctx := context.Background()

	_, unknownErr := auther.Login(ctx, "ghost", testPassword)
	_, pendingErr := auther.Login(ctx, pending.Username, testPassword)

	require.Error(t, unknownErr)
	require.Error(t, pendingErr)

	assert.Equal(t, accounts.ErrInvalidCredentials, accounts.PublicError(unknownErr, false))
	assert.Equal(t, accounts.ErrInvalidCredentials, accounts.PublicError(pendingErr, false))
	assert.Equal(t, accounts.ErrNotApproved, accounts.PublicError(pendingErr, true))
}
