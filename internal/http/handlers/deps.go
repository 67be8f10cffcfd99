// Package handlers implementa los endpoints de la app web: sign-in OIDC,
// sign-out y el perfil del usuario leído del directorio con un token del cache.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/tokencache/internal/graph"
	"github.com/dropDatabas3/tokencache/internal/session"
	"github.com/dropDatabas3/tokencache/internal/tokenacquisition"
	"github.com/dropDatabas3/tokencache/internal/tokencache/entry"
)

// Authenticator arma la URL de sign-in del identity provider.
type Authenticator interface {
	AuthCodeURL(state, verifier string) string
}

// Tokens es la parte de la façade que usan los handlers.
type Tokens interface {
	AddAccountFromCode(ctx context.Context, code, verifier string, scopes []string) (*entry.Account, error)
	GetUserToken(ctx context.Context, userID string, scopes []string) (*tokenacquisition.AccessToken, error)
	Account(ctx context.Context, userID string) (*entry.Account, bool)
	EvictUser(ctx context.Context, userID string) error
}

type Sessions interface {
	Create(ctx context.Context, p session.Principal) (string, error)
	Destroy(ctx context.Context, id string) error
	SavePending(ctx context.Context, state string, p session.PendingSignIn) error
	TakePending(ctx context.Context, state string) (*session.PendingSignIn, error)
	TTL() time.Duration
}

// Profiles lee el perfil del usuario en el directorio.
type Profiles interface {
	Me(ctx context.Context, accessToken string) (*graph.Profile, error)
}

// Cookie describe la cookie de sesión.
type Cookie struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (c Cookie) issue(w http.ResponseWriter, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.path(),
		Domain:   c.Domain,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	})
}

func (c Cookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.path(),
		Domain:   c.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	})
}

func (c Cookie) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}
