package accounts

import (
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWith_DoesNotShareMetadata(t *testing.T) {
	a := errorWith(ErrAccountNotFound, map[string]any{"id": 1})
	b := errorWith(ErrAccountNotFound, nil)

	assert.Equal(t, 1, a.Metadata["id"])
	assert.Empty(t, b.Metadata)
	assert.Empty(t, ErrAccountNotFound.Metadata)
	assert.True(t, IsNotFound(a))
	assert.Equal(t, goerrors.CodeNotFound, a.Code)
}

func TestHasTextCode(t *testing.T) {
	assert.False(t, HasTextCode(nil, TextCodeNotFound))
	assert.False(t, HasTextCode(errors.New("plain"), TextCodeNotFound))
	assert.True(t, IsBadCredential(ErrBadCredential))
	assert.False(t, IsBadCredential(ErrNotApproved))
}

func TestPublicError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reveal bool
		want   string
	}{
		{"unknown identifier", ErrAccountNotFound, false, TextCodeInvalidCredentials},
		{"bad password", ErrBadCredential, false, TextCodeInvalidCredentials},
		{"not approved hidden", ErrNotApproved, false, TextCodeInvalidCredentials},
		{"not approved revealed", ErrNotApproved, true, TextCodeNotApproved},
		{"validation passes through", ErrWeakPassword, false, TextCodeWeakPassword},
		{"storage is masked", storageError(errors.New("disk I/O error"), "test"), false, TextCodeStorageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PublicError(tt.err, tt.reveal)

			var richErr *goerrors.Error
			require.True(t, goerrors.As(got, &richErr))
			assert.Equal(t, tt.want, richErr.TextCode)
			assert.NotContains(t, richErr.Error(), "disk I/O")
		})
	}

	assert.Nil(t, PublicError(nil, false))

	plain := PublicError(errors.New("boom"), false)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(plain, &richErr))
	assert.Equal(t, goerrors.CodeInternal, richErr.Code)
}

func TestUniqueViolation(t *testing.T) {
	field, ok := uniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: accounts.email (2067)"))
	assert.True(t, ok)
	assert.Equal(t, "email", field)

	field, ok = uniqueViolation(errors.New("UNIQUE constraint failed: accounts.username"))
	assert.True(t, ok)
	assert.Equal(t, "username", field)

	_, ok = uniqueViolation(errors.New("no such table: accounts"))
	assert.False(t, ok)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "***", maskToken("abc"))
	assert.Equal(t, "abcdef***", maskToken("abcdefghijkl"))
}
