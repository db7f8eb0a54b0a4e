package accounts

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/lib/pq"
)

const (
	TextCodeValidation            = "VALIDATION_FAILED"
	TextCodeDuplicateIdentity     = "DUPLICATE_IDENTITY"
	TextCodeNotFound              = "ACCOUNT_NOT_FOUND"
	TextCodeInvalidTransition     = "INVALID_ACCOUNT_TRANSITION"
	TextCodeBadCredential         = "BAD_CREDENTIAL"
	TextCodeNotApproved           = "ACCOUNT_NOT_APPROVED"
	TextCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeMismatch              = "PASSWORD_MISMATCH"
	TextCodeWeakPassword          = "WEAK_PASSWORD"
	TextCodeStorageFailure        = "STORAGE_FAILURE"
	TextCodeNotificationFailure   = "NOTIFICATION_FAILURE"
	TextCodeRateLimited           = "RESET_RATE_LIMITED"
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeSessionInvalid        = "SESSION_INVALID"
	TextCodeForbidden             = "ADMIN_REQUIRED"
)

var (
	// ErrDuplicateIdentity is returned when the email or username is taken
	ErrDuplicateIdentity = goerrors.New("email or username already registered", goerrors.CategoryConflict).
				WithTextCode(TextCodeDuplicateIdentity).
				WithCode(goerrors.CodeConflict)

	// ErrAccountNotFound is returned when no account matches the lookup
	ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
				WithTextCode(TextCodeNotFound).
				WithCode(goerrors.CodeNotFound)

	// ErrInvalidTransition is returned when a status change is not in the lifecycle graph
	ErrInvalidTransition = goerrors.New("invalid account status transition", goerrors.CategoryValidation).
				WithTextCode(TextCodeInvalidTransition).
				WithCode(goerrors.CodeBadRequest)

	// ErrBadCredential is returned when the password does not match
	ErrBadCredential = goerrors.New("password does not match", goerrors.CategoryAuth).
				WithTextCode(TextCodeBadCredential).
				WithCode(goerrors.CodeUnauthorized)

	// ErrNotApproved is returned when a non approved account tries to authenticate
	ErrNotApproved = goerrors.New("account is not approved", goerrors.CategoryAuth).
			WithTextCode(TextCodeNotApproved).
			WithCode(goerrors.CodeForbidden)

	// ErrInvalidOrExpiredToken is returned when a reset token is unknown, used or past its expiry
	ErrInvalidOrExpiredToken = goerrors.New("reset token is invalid or expired", goerrors.CategoryAuth).
					WithTextCode(TextCodeInvalidOrExpiredToken).
					WithCode(goerrors.CodeBadRequest)

	// ErrPasswordMismatch is returned when password and confirmation differ
	ErrPasswordMismatch = goerrors.New("password confirmation does not match", goerrors.CategoryValidation).
				WithTextCode(TextCodeMismatch).
				WithCode(goerrors.CodeBadRequest)

	// ErrWeakPassword is returned when the password is shorter than the minimum length
	ErrWeakPassword = goerrors.New("password is too short", goerrors.CategoryValidation).
			WithTextCode(TextCodeWeakPassword).
			WithCode(goerrors.CodeBadRequest)

	// ErrResetRateLimited is returned when a caller asks for too many resets
	ErrResetRateLimited = goerrors.New("too many password reset attempts", goerrors.CategoryRateLimit).
				WithTextCode(TextCodeRateLimited).
				WithCode(goerrors.CodeTooManyRequests)

	// ErrInvalidCredentials is the public face of failed logins
	ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)

	// ErrSessionInvalid is returned when a session token can not be resolved
	ErrSessionInvalid = goerrors.New("session is invalid or expired", goerrors.CategoryAuth).
				WithTextCode(TextCodeSessionInvalid).
				WithCode(goerrors.CodeUnauthorized)

	// ErrAdminRequired is returned by the admin guard
	ErrAdminRequired = goerrors.New("administrator privileges required", goerrors.CategoryAuthz).
				WithTextCode(TextCodeForbidden).
				WithCode(goerrors.CodeForbidden)

	// ErrEmptyPassword is returned when hashing an empty string
	ErrEmptyPassword = errors.New("password can not be empty")
)

// errorWith builds a fresh error from a sentinel so metadata never leaks
// between calls through the shared value
func errorWith(base *goerrors.Error, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(base.Message, base.Category).
		WithTextCode(base.TextCode).
		WithCode(base.Code)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// storageError wraps a driver error as a storage failure
func storageError(err error, op string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "storage failure").
		WithTextCode(TextCodeStorageFailure).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"operation": op})
}

// notificationError wraps a notifier failure
func notificationError(err error, to, subject string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, "notification delivery failed").
		WithTextCode(TextCodeNotificationFailure).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"to": to, "subject": subject})
}

// HasTextCode reports whether err carries the given text code
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

func IsValidationError(err error) bool       { return HasTextCode(err, TextCodeValidation) }
func IsDuplicateIdentity(err error) bool     { return HasTextCode(err, TextCodeDuplicateIdentity) }
func IsNotFound(err error) bool              { return HasTextCode(err, TextCodeNotFound) }
func IsInvalidTransition(err error) bool     { return HasTextCode(err, TextCodeInvalidTransition) }
func IsBadCredential(err error) bool         { return HasTextCode(err, TextCodeBadCredential) }
func IsNotApproved(err error) bool           { return HasTextCode(err, TextCodeNotApproved) }
func IsInvalidOrExpiredToken(err error) bool { return HasTextCode(err, TextCodeInvalidOrExpiredToken) }
func IsStorageFailure(err error) bool        { return HasTextCode(err, TextCodeStorageFailure) }
func IsNotificationFailure(err error) bool   { return HasTextCode(err, TextCodeNotificationFailure) }
func IsResetRateLimited(err error) bool      { return HasTextCode(err, TextCodeRateLimited) }

// PublicError maps an internal error to what an end user is allowed to see.
// Unknown identifiers and wrong passwords collapse into ErrInvalidCredentials,
// ErrNotApproved is folded in too unless revealStatus is set.
func PublicError(err error, revealStatus bool) error {
	if err == nil {
		return nil
	}

	switch {
	case IsNotFound(err), IsBadCredential(err):
		return ErrInvalidCredentials
	case IsNotApproved(err):
		if revealStatus {
			return ErrNotApproved
		}
		return ErrInvalidCredentials
	case IsStorageFailure(err):
		return goerrors.New("request could not be completed", goerrors.CategoryInternal).
			WithTextCode(TextCodeStorageFailure).
			WithCode(goerrors.CodeInternal)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "request could not be completed").
		WithCode(goerrors.CodeInternal)
}

// uniqueViolation reports whether err is a UNIQUE constraint failure and
// which column tripped it when the driver tells us
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return columnFromConstraint(pqErr.Constraint), true
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return columnFromConstraint(msg[strings.LastIndex(msg, ".")+1:]), true
	}

	return "", false
}

func columnFromConstraint(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, "email"):
		return "email"
	case strings.Contains(name, "username"):
		return "username"
	}
	return ""
}
