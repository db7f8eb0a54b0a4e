package accounts_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-accounts"
)

func guardContext(header string) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return(header)
	ctx.On("Context").Return(context.Background())
	ctx.On("IP").Return("127.0.0.1").Maybe()
	ctx.On("Locals", accounts.SessionLocalsKey, mock.AnythingOfType("*accounts.SessionClaims")).Return(nil).Maybe()
	ctx.On("SetContext", mock.Anything).Return().Maybe()
	return ctx
}

func TestSessionGuard(t *testing.T) {
	f := newFixture(t, accounts.ServiceConfig{})
	auther := f.authenticator()
	ctx := context.Background()

	member := f.registerApproved(t, "member")
	memberToken, err := auther.Login(ctx, member.Username, testPassword)
	require.NoError(t, err)

	adminMsg := validRegistration("boss")
	_, err = f.service.EnsureAdmin(ctx, adminMsg)
	require.NoError(t, err)
	adminToken, err := auther.Login(ctx, adminMsg.Username, testPassword)
	require.NoError(t, err)

	tests := []struct {
		name      string
		header    string
		adminOnly bool
		status    int
		code      string
	}{
		{"member on session route", "Bearer " + memberToken, false, 0, ""},
		{"scheme is case insensitive", "bearer " + memberToken, false, 0, ""},
		{"admin on admin route", "Bearer " + adminToken, true, 0, ""},
		{"member on admin route", "Bearer " + memberToken, true, http.StatusForbidden, accounts.TextCodeForbidden},
		{"missing header", "", false, http.StatusUnauthorized, accounts.TextCodeSessionInvalid},
		{"wrong scheme", "Basic " + memberToken, false, http.StatusUnauthorized, accounts.TextCodeSessionInvalid},
		{"garbage token", "Bearer not.a.token", false, http.StatusUnauthorized, accounts.TextCodeSessionInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mctx := guardContext(tt.header)

			var body *map[string]any
			if tt.status != 0 {
				body = captureJSON(mctx, tt.status)
			}

			called := false
			handler := accounts.SessionGuard(auther, tt.adminOnly, nopLogger{})(func(router.Context) error {
				called = true
				return nil
			})

			require.NoError(t, handler(mctx))

			if tt.status == 0 {
				assert.True(t, called)
				return
			}
			assert.False(t, called)
			assert.Equal(t, tt.code, (*body)["code"])
		})
	}

	t.Run("disabled after login", func(t *testing.T) {
		_, err := f.service.Disable(ctx, accounts.SystemActor(""), member.ID)
		require.NoError(t, err)

		mctx := guardContext("Bearer " + memberToken)
		body := captureJSON(mctx, http.StatusUnauthorized)

		called := false
		handler := accounts.SessionGuard(auther, false, nopLogger{})(func(router.Context) error {
			called = true
			return nil
		})

		require.NoError(t, handler(mctx))
		assert.False(t, called)
		assert.Equal(t, accounts.TextCodeSessionInvalid, (*body)["code"])
	})
}
