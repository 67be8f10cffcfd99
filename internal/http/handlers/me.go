package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/tokencache/internal/graph"
	"github.com/dropDatabas3/tokencache/internal/http/errors"
	"github.com/dropDatabas3/tokencache/internal/http/middlewares"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
	"github.com/dropDatabas3/tokencache/internal/tokenacquisition"
)

// DefaultProfileScopes alcanza para leer /me.
var DefaultProfileScopes = []string{"User.Read"}

// MeHandler resuelve GET /api/me: token del cache (o refresh) y perfil del directorio.
type MeHandler struct {
	Tokens   Tokens
	Profiles Profiles
	Scopes   []string
}

type meResponse struct {
	Profile *graph.Profile `json:"profile"`
	Account *accountDTO    `json:"account,omitempty"`
	Token   tokenDTO       `json:"token"`
}

type accountDTO struct {
	HomeAccountID string `json:"home_account_id"`
	Username      string `json:"username,omitempty"`
	Name          string `json:"name,omitempty"`
}

// tokenDTO nunca incluye el secreto.
type tokenDTO struct {
	ExpiresAt time.Time `json:"expires_at"`
	Scopes    []string  `json:"scopes"`
	FromCache bool      `json:"from_cache"`
}

func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx)
	p := middlewares.GetPrincipal(ctx)
	if p == nil {
		errors.WriteError(w, errors.ErrUnauthorized)
		return
	}
	scopes := h.Scopes
	if len(scopes) == 0 {
		scopes = DefaultProfileScopes
	}

	tok, err := h.Tokens.GetUserToken(ctx, p.UserID, scopes)
	if err != nil {
		if stderrors.Is(err, tokenacquisition.ErrInteractionRequired) {
			log.Info("interaction required", logger.Op("me"), logger.Err(err))
			errors.WriteError(w, errors.ErrInteractionRequired)
			return
		}
		log.Error("acquire user token failed", logger.Op("me"), logger.Scopes(scopes), logger.Err(err))
		errors.WriteError(w, errors.ErrBadGateway)
		return
	}

	prof, err := h.Profiles.Me(ctx, tok.Token)
	if err != nil {
		log.Error("graph /me failed", logger.Op("me"), logger.Err(err))
		if stderrors.Is(err, graph.ErrUnauthorized) {
			errors.WriteError(w, errors.ErrInteractionRequired)
			return
		}
		errors.WriteError(w, errors.ErrBadGateway)
		return
	}

	resp := meResponse{
		Profile: prof,
		Token:   tokenDTO{ExpiresAt: tok.ExpiresAt.UTC(), Scopes: tok.Scopes, FromCache: tok.FromCache},
	}
	if acc, ok := h.Tokens.Account(ctx, p.UserID); ok {
		resp.Account = &accountDTO{HomeAccountID: acc.HomeAccountID, Username: acc.Username, Name: acc.Name}
	}
	errors.WriteJSON(w, http.StatusOK, resp)
}
