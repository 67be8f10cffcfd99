package middlewares

import (
	"net/http"

	"github.com/dropDatabas3/tokencache/internal/http/errors"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

// WithRecover captura panics y devuelve un 500 en lugar de tirar el proceso.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.From(r.Context()).Error("panic recovered",
					logger.Op("recover"),
					logger.Path(r.URL.Path),
					logger.Any("panic", rec),
				)
				errors.WriteError(w, errors.ErrInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
