package handlers

import (
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/tokencache/internal/audit"
	"github.com/dropDatabas3/tokencache/internal/http/errors"
	"github.com/dropDatabas3/tokencache/internal/http/middlewares"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
	"github.com/dropDatabas3/tokencache/internal/session"
	"github.com/dropDatabas3/tokencache/internal/tokenacquisition"
	"github.com/dropDatabas3/tokencache/internal/util"
)

// DefaultLanding es adonde vuelve el usuario tras el sign-in si no pidió otra ruta.
const DefaultLanding = "/api/me"

// AuthHandler maneja /signin, /signin-oidc y /signout.
type AuthHandler struct {
	Auth     Authenticator
	Tokens   Tokens
	Sessions Sessions
	Cookie   Cookie
	// Scopes que se piden al canjear el code (además de openid/profile/offline_access).
	Scopes []string
}

// SignIn guarda state + PKCE verifier y redirige al provider.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := randomState()
	if err != nil {
		errors.WriteError(w, errors.ErrInternalServerError.WithCause(err))
		return
	}
	pending := session.PendingSignIn{
		Verifier:  oauth2.GenerateVerifier(),
		ReturnURL: safeReturnURL(r.URL.Query().Get("return_url")),
	}
	if err := h.Sessions.SavePending(ctx, state, pending); err != nil {
		logger.From(ctx).Error("save pending sign-in failed", logger.Op("signin"), logger.Err(err))
		errors.WriteError(w, errors.ErrServiceUnavailable)
		return
	}
	http.Redirect(w, r, h.Auth.AuthCodeURL(state, pending.Verifier), http.StatusFound)
}

// Callback canjea el code, siembra el cache del usuario y abre la sesión.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx)
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		log.Warn("provider returned error", logger.Op("signin_callback"),
			logger.String("error", e), logger.String("error_description", q.Get("error_description")))
		errors.WriteError(w, errors.ErrUnauthorized.WithDetail(e))
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		errors.WriteError(w, errors.ErrBadRequest.WithDetail("state and code are required"))
		return
	}

	pending, err := h.Sessions.TakePending(ctx, state)
	if err != nil {
		if stderrors.Is(err, session.ErrNoSession) {
			errors.WriteError(w, errors.ErrBadRequest.WithDetail("unknown or expired state"))
			return
		}
		log.Error("take pending sign-in failed", logger.Op("signin_callback"), logger.Err(err))
		errors.WriteError(w, errors.ErrServiceUnavailable)
		return
	}

	acc, err := h.Tokens.AddAccountFromCode(ctx, code, pending.Verifier, h.Scopes)
	if err != nil {
		log.Error("redeem authorization code failed", logger.Op("signin_callback"), logger.Err(err))
		if stderrors.Is(err, tokenacquisition.ErrInteractionRequired) {
			errors.WriteError(w, errors.ErrUnauthorized)
			return
		}
		errors.WriteError(w, errors.ErrBadGateway)
		return
	}

	sid, err := h.Sessions.Create(ctx, session.Principal{
		UserID:   acc.HomeAccountID,
		Username: acc.Username,
		Name:     acc.Name,
	})
	if err != nil {
		log.Error("create session failed", logger.Op("signin_callback"), logger.Err(err))
		errors.WriteError(w, errors.ErrServiceUnavailable)
		return
	}
	h.Cookie.issue(w, sid, h.Sessions.TTL())
	audit.Log(ctx, audit.EventSignIn, logger.UserID(acc.HomeAccountID), logger.String("username", util.MaskEmail(acc.Username)))

	dest := pending.ReturnURL
	if dest == "" {
		dest = DefaultLanding
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// SignOut borra la partición del usuario y la sesión. Requiere principal.
// Si la partición no se pudo borrar la sesión se conserva para reintentar.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx)
	p := middlewares.GetPrincipal(ctx)
	if p == nil {
		errors.WriteError(w, errors.ErrUnauthorized)
		return
	}

	if err := h.Tokens.EvictUser(ctx, p.UserID); err != nil {
		log.Error("evict user partition failed", logger.Op("signout"), logger.Err(err))
		errors.WriteError(w, errors.ErrBadGateway)
		return
	}
	if sid := middlewares.GetSessionID(ctx); sid != "" {
		if err := h.Sessions.Destroy(ctx, sid); err != nil {
			log.Warn("destroy session failed", logger.Op("signout"), logger.Err(err))
		}
	}
	h.Cookie.clear(w)
	audit.Log(ctx, audit.EventSignOut, logger.UserID(p.UserID))
	w.WriteHeader(http.StatusNoContent)
}

func randomState() (string, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// safeReturnURL solo acepta paths locales (evita open redirect).
func safeReturnURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	return raw
}
