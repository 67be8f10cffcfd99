package middlewares

import (
	"context"

	"github.com/dropDatabas3/tokencache/internal/session"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxPrincipalKey ctxKey = "principal"
	ctxSessionKey   ctxKey = "session_id"
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// WithPrincipal inyecta el usuario autenticado y su session id.
func WithPrincipal(ctx context.Context, sessionID string, p *session.Principal) context.Context {
	ctx = context.WithValue(ctx, ctxSessionKey, sessionID)
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

// GetRequestID devuelve "" si WithRequestID no corrió.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetPrincipal devuelve nil para requests anónimos.
func GetPrincipal(ctx context.Context) *session.Principal {
	if p, ok := ctx.Value(ctxPrincipalKey).(*session.Principal); ok {
		return p
	}
	return nil
}

func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxSessionKey).(string); ok {
		return v
	}
	return ""
}

// GetUserID es el home account id del principal, o "".
func GetUserID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.UserID
	}
	return ""
}
