package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

// ErrInvalidGrant: el provider rechazó el refresh token o el code (revocado, expirado,
// consentimiento retirado). El usuario tiene que volver a autenticarse.
var ErrInvalidGrant = errors.New("invalid_grant")

// Grants, usados como label de métricas.
const (
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantAuthorizationCode = "authorization_code"
)

// TokenResponse es la respuesta del token endpoint ya normalizada.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresAt    time.Time
	// Scopes concedidos; si el provider no los informa, los pedidos.
	Scopes []string
}

type Config struct {
	// Authority es el issuer OIDC (ej. https://login.microsoftonline.com/<tenant>/v2.0).
	Authority    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes del sign-in interactivo. openid y offline_access se agregan siempre.
	Scopes     []string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client implementa tokenacquisition.Provider.
type Client struct {
	cfg      Config
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	http     *http.Client
	log      *zap.Logger
}

// New hace discovery contra la authority y arma el cliente.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Authority == "" || cfg.ClientID == "" {
		return nil, errors.New("identity: authority and client id are required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, hc), strings.TrimRight(cfg.Authority, "/"))
	if err != nil {
		return nil, fmt.Errorf("identity: oidc discovery: %w", err)
	}
	ep := provider.Endpoint()

	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       signInScopes(cfg.Scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.AuthURL,
				TokenURL:  ep.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		http:     hc,
		log:      logger.OrNamed(cfg.Logger, "identity"),
	}, nil
}

func signInScopes(extra []string) []string {
	out := []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess}
	for _, s := range extra {
		dup := false
		for _, o := range out {
			if strings.EqualFold(o, s) {
				dup = true
				break
			}
		}
		if !dup && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// AuthCodeURL arma la URL de sign-in con PKCE S256.
func (c *Client) AuthCodeURL(state, verifier string) string {
	return c.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// AcquireForClient pide un token app-only (client credentials).
func (c *Client) AcquireForClient(ctx context.Context, scopes []string) (*TokenResponse, error) {
	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.oauth.Endpoint.TokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(c.ctx(ctx))
	if err != nil {
		return nil, c.mapErr(GrantClientCredentials, err)
	}
	return toResponse(tok, scopes), nil
}

// AcquireByRefreshToken redime un refresh token pidiendo scopes puntuales.
// oauth2.Config.TokenSource no permite pasar scope en el refresh, por eso se usa
// clientcredentials con grant_type sobreescrito.
func (c *Client) AcquireByRefreshToken(ctx context.Context, refreshToken string, scopes []string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrInvalidGrant)
	}
	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.oauth.Endpoint.TokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refreshToken},
		},
	}
	tok, err := cc.Token(c.ctx(ctx))
	if err != nil {
		return nil, c.mapErr(GrantRefreshToken, err)
	}
	resp := toResponse(tok, scopes)
	if resp.RefreshToken == "" {
		// sin rotación: el refresh token sigue siendo el mismo
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

// AcquireByAuthorizationCode canjea el code (PKCE) y verifica el id_token.
func (c *Client) AcquireByAuthorizationCode(ctx context.Context, code, verifier string, scopes []string) (*TokenResponse, error) {
	opts := []oauth2.AuthCodeOption{}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	if len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")))
	}
	tok, err := c.oauth.Exchange(c.ctx(ctx), code, opts...)
	if err != nil {
		return nil, c.mapErr(GrantAuthorizationCode, err)
	}
	resp := toResponse(tok, scopes)
	if resp.IDToken == "" {
		return nil, fmt.Errorf("%w: token response without id_token", ErrInvalidIDToken)
	}
	if _, err := c.verifier.Verify(oidc.ClientContext(ctx, c.http), resp.IDToken); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	return resp, nil
}

func toResponse(tok *oauth2.Token, requested []string) *TokenResponse {
	r := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
		Scopes:       requested,
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		r.IDToken = v
	}
	if v, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(v) != "" {
		r.Scopes = strings.Fields(v)
	}
	if r.ExpiresAt.IsZero() {
		// sin expires_in: asumir la hora estándar
		r.ExpiresAt = time.Now().Add(time.Hour)
	}
	return r
}

func (c *Client) mapErr(grant string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		c.log.Warn("token endpoint error",
			logger.Grant(grant),
			zap.String("error_code", re.ErrorCode),
			zap.String("error_description", re.ErrorDescription),
		)
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "interaction_required" {
			return fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorDescription)
		}
		return fmt.Errorf("identity: %s: %s", grant, re.ErrorCode)
	}
	return fmt.Errorf("identity: %s: %w", grant, err)
}
