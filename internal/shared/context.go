package shared

import (
	"context"

	"github.com/google/uuid"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// SubjectFromContext returns the authenticated user id of the request, or
// uuid.Nil when the session is anonymous.
func SubjectFromContext(ctx context.Context) uuid.UUID {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return uuid.Nil
	}
	return sess.UserID()
}
