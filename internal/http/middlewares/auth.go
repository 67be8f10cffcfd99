package middlewares

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/tokencache/internal/http/errors"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
	"github.com/dropDatabas3/tokencache/internal/session"
)

// SessionReader resuelve un session id al principal.
type SessionReader interface {
	Get(ctx context.Context, id string) (*session.Principal, error)
}

// WithAuthentication lee la cookie de sesión y, si es válida, deja el principal
// en el contexto. Nunca rechaza: un request sin sesión sigue como anónimo.
func WithAuthentication(sessions SessionReader, cookieName string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookieName)
			if err != nil || c.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			p, err := sessions.Get(ctx, c.Value)
			if err != nil {
				if !stderrors.Is(err, session.ErrNoSession) {
					logger.From(ctx).Warn("session lookup failed", logger.Op("authenticate"), logger.Err(err))
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx = WithPrincipal(ctx, c.Value, p)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserID(p.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser responde 401 si no hay principal autenticado.
func RequireUser() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetPrincipal(r.Context()) == nil {
				errors.WriteError(w, errors.ErrUnauthorized.WithDetail("sign in at /signin"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithNoStore agrega Cache-Control: no-store (respuestas con datos del usuario).
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
