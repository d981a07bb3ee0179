package auth

import (
	"context"
)

var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithSessionContext sets the Session in the given context
func WithSessionContext(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the session in the context
func SessionFromContext(ctx context.Context) (Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(Session)
	return raw, ok
}

// CanActOn reports whether the session in ctx may modify accountID
func CanActOn(ctx context.Context, accountID string) bool {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return false
	}
	return session.GetUserID() == accountID || session.GetRole() == RoleAdmin
}
