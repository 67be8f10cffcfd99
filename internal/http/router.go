package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencache/internal/http/errors"
	"github.com/dropDatabas3/tokencache/internal/http/handlers"
	mw "github.com/dropDatabas3/tokencache/internal/http/middlewares"
)

// RouterDeps agrupa lo que necesitan las rutas.
type RouterDeps struct {
	Auth     *handlers.AuthHandler
	Me       *handlers.MeHandler
	Health   *handlers.HealthHandler
	Sessions mw.SessionReader
	// Metrics sirve /metrics; nil usa el registry default de prometheus.
	Metrics http.Handler
	Logger  *zap.Logger

	CookiePolicy mw.CookiePolicy
}

// NewRouter arma el pipeline completo:
// recover -> request id -> logging -> security headers -> cookie policy ->
// authentication -> (RequireUser en rutas protegidas) -> chi.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		errors.WriteError(w, errors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		errors.WriteError(w, errors.ErrMethodNotAllowed)
	})

	metricsHandler := d.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	if d.Health != nil {
		r.Method(http.MethodGet, "/healthz", d.Health)
	}

	r.Get("/signin", d.Auth.SignIn)
	r.Get("/signin-oidc", d.Auth.Callback)

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireUser(), mw.WithNoStore())
		r.Post("/signout", d.Auth.SignOut)
		r.Method(http.MethodGet, "/api/me", d.Me)
	})

	return mw.Chain(r,
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(d.Logger),
		mw.WithSecurityHeaders(),
		mw.WithCookiePolicy(d.CookiePolicy),
		mw.WithAuthentication(d.Sessions, d.Auth.Cookie.Name),
	)
}
