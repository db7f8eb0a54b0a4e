package accounts

import (
	"context"
	"strconv"
)

var clientIPCtxKey = &contextKey{"client_ip"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithClientIP stores the caller address recorded on activity entries
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPCtxKey, ip)
}

// ClientIPFromContext returns the caller address or an empty string
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPCtxKey).(string)
	return ip
}

// WithSession sets the resolved session in the given context
func WithSession(ctx context.Context, session *SessionClaims) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the session placed by the admin guard or the
// session middleware
func SessionFromContext(ctx context.Context) (*SessionClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(sessionCtxKey).(*SessionClaims)
	return raw, ok && raw != nil
}

// ActorFromContext returns the account acting in ctx, or the system actor
// when the request carries no session
func ActorFromContext(ctx context.Context) ActorRef {
	actor := ActorRef{ID: SystemAccountID, Type: ActorTypeSystem, IP: ClientIPFromContext(ctx)}
	session, ok := SessionFromContext(ctx)
	if !ok {
		return actor
	}
	if id, err := strconv.ParseInt(session.Subject, 10, 64); err == nil {
		actor.ID = id
		actor.Type = ActorTypeAccount
		if session.Admin {
			actor.Type = ActorTypeAdmin
		}
	}
	return actor
}
