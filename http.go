package accounts

import (
	"strings"

	"github.com/goliatone/go-router"
)

const (
	// SessionLocalsKey is the request local holding *SessionClaims
	SessionLocalsKey = "session"
	authScheme       = "Bearer"
)

// SessionGuard rejects requests without a valid bearer token for an
// approved account. With adminOnly set the account must also be an admin.
// The claims are stored in the request locals and the standard context.
func SessionGuard(auther Authenticator, adminOnly bool, logger Logger) router.MiddlewareFunc {
	logger = normalizeLogger(logger)
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token, ok := bearerToken(ctx.GetString(router.HeaderAuthorization, ""))
			if !ok {
				return writeError(ctx, logger, ErrSessionInvalid)
			}

			session, err := auther.SessionFromToken(token)
			if err != nil {
				logger.Debug("session token rejected", "error", err)
				return writeError(ctx, logger, ErrSessionInvalid)
			}

			identity, err := auther.IdentityFromSession(ctx.Context(), session)
			if err != nil {
				logger.Info("session account no longer usable", "sub", session.Subject, "error", err)
				return writeError(ctx, logger, ErrSessionInvalid)
			}

			if adminOnly && !identity.IsAdmin() {
				logger.Warn("admin route refused", "sub", session.Subject, "ip", ctx.IP())
				return writeError(ctx, logger, ErrAdminRequired)
			}

			ctx.Locals(SessionLocalsKey, session)
			ctx.SetContext(WithSession(ctx.Context(), session))

			return hf(ctx)
		}
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	l := len(authScheme)
	if len(header) <= l+1 || !strings.EqualFold(header[:l], authScheme) {
		return "", false
	}
	token := strings.TrimSpace(header[l:])
	return token, token != ""
}
