// Package tokenacquisition es la façade que usa la aplicación para obtener tokens.
//
// Orden de resolución: access token vigente en cache, luego refresh token en cache
// (o client credentials para la app), y recién entonces el identity provider.
// Las adquisiciones concurrentes idénticas (misma partición y scopes) se colapsan
// en una sola, y dentro del lock de escritura se vuelve a mirar el cache: quien
// pierde la carrera reutiliza el token que escribió el ganador.
package tokenacquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/tokencache/internal/identity"
	"github.com/dropDatabas3/tokencache/internal/metrics"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
	"github.com/dropDatabas3/tokencache/internal/store"
	"github.com/dropDatabas3/tokencache/internal/tokencache"
	"github.com/dropDatabas3/tokencache/internal/tokencache/entry"
)

var (
	// ErrInteractionRequired: no hay refresh token usable; el usuario debe volver a loguearse.
	ErrInteractionRequired = errors.New("interaction required")
	// ErrNoScopes: se pidió un token sin scopes.
	ErrNoScopes = errors.New("at least one scope is required")
)

// DefaultRefreshSkew: un token que vence dentro de este margen se considera vencido.
const DefaultRefreshSkew = 5 * time.Minute

// Provider es el identity provider visto desde la façade (ver identity.Client).
type Provider interface {
	AcquireForClient(ctx context.Context, scopes []string) (*identity.TokenResponse, error)
	AcquireByRefreshToken(ctx context.Context, refreshToken string, scopes []string) (*identity.TokenResponse, error)
	AcquireByAuthorizationCode(ctx context.Context, code, verifier string, scopes []string) (*identity.TokenResponse, error)
}

// Cache es el coordinador de un tipo de identidad (ver tokencache.Coordinator).
type Cache interface {
	AcquireForRead(ctx context.Context, key string) *entry.Set
	AcquireForWrite(ctx context.Context, key string, produce tokencache.Producer) (*entry.Set, error)
	Evict(ctx context.Context, key string) error
}

type Config struct {
	Authority   string
	ClientID    string
	RefreshSkew time.Duration
	// ServeUnpersisted: si el token se obtuvo pero no se pudo persistir, devolverlo
	// igual (se loguea). Con false la operación falla con ErrStoreUnavailable.
	ServeUnpersisted bool

	Logger  *zap.Logger
	Metrics *metrics.Cache
	// Now permite fijar el reloj en tests.
	Now func() time.Time
}

// AccessToken es lo que recibe el caller.
type AccessToken struct {
	Token     string
	TokenType string
	ExpiresAt time.Time
	Scopes    []string
	// FromCache indica que no hubo request al provider.
	FromCache bool
}

type Service struct {
	cfg       Config
	authority entry.Authority
	provider  Provider
	app       Cache
	user      Cache
	sf        singleflight.Group
	log       *zap.Logger
	m         *metrics.Cache
	now       func() time.Time
}

// New arma la façade. app y user pueden ser el mismo coordinador o no.
func New(cfg Config, p Provider, app, user Cache) (*Service, error) {
	a, err := entry.ParseAuthority(cfg.Authority)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		return nil, errors.New("tokenacquisition: client id is required")
	}
	if p == nil || app == nil || user == nil {
		return nil, errors.New("tokenacquisition: provider and caches are required")
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = DefaultRefreshSkew
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:       cfg,
		authority: a,
		provider:  p,
		app:       app,
		user:      user,
		log:       logger.OrNamed(cfg.Logger, "tokenacquisition"),
		m:         cfg.Metrics,
		now:       now,
	}, nil
}

// Authority devuelve la authority parseada.
func (s *Service) Authority() entry.Authority { return s.authority }

// AppPartitionKey de esta aplicación.
func (s *Service) AppPartitionKey() string {
	return entry.AppPartitionKey(s.cfg.ClientID, s.authority)
}

// UserPartitionKey del usuario bajo esta authority.
func (s *Service) UserPartitionKey(userID string) string {
	return entry.UserPartitionKey(userID, s.authority)
}

// GetAppToken devuelve un token app-only para scopes.
func (s *Service) GetAppToken(ctx context.Context, scopes []string) (*AccessToken, error) {
	scopes = entry.NormalizeScopes(scopes)
	if len(scopes) == 0 {
		return nil, ErrNoScopes
	}
	key := s.AppPartitionKey()

	if t, ok := s.app.AcquireForRead(ctx, key).FindAccessToken("", s.authority, s.cfg.ClientID, scopes, s.now(), s.cfg.RefreshSkew); ok {
		return fromEntry(t), nil
	}
	return s.flight(ctx, key, scopes, func(fctx context.Context) (*AccessToken, error) {
		return s.refreshApp(fctx, key, scopes)
	})
}

// GetUserToken devuelve un token del usuario userID (home account id) para scopes.
// Sin access token ni refresh token en cache devuelve ErrInteractionRequired.
func (s *Service) GetUserToken(ctx context.Context, userID string, scopes []string) (*AccessToken, error) {
	scopes = entry.NormalizeScopes(scopes)
	if len(scopes) == 0 {
		return nil, ErrNoScopes
	}
	if userID == "" {
		return nil, ErrInteractionRequired
	}
	key := s.UserPartitionKey(userID)

	set := s.user.AcquireForRead(ctx, key)
	if t, ok := set.FindAccessToken(userID, s.authority, s.cfg.ClientID, scopes, s.now(), s.cfg.RefreshSkew); ok {
		return fromEntry(t), nil
	}
	if _, ok := set.FindRefreshToken(userID, s.authority, s.cfg.ClientID); !ok {
		return nil, ErrInteractionRequired
	}
	return s.flight(ctx, key, scopes, func(fctx context.Context) (*AccessToken, error) {
		return s.refreshUser(fctx, key, userID, scopes)
	})
}

// AddAccountFromCode canjea el authorization code del sign-in y siembra la
// partición del usuario con cuenta, tokens e id_token.
func (s *Service) AddAccountFromCode(ctx context.Context, code, verifier string, scopes []string) (*entry.Account, error) {
	scopes = entry.NormalizeScopes(scopes)
	resp, err := s.provider.AcquireByAuthorizationCode(ctx, code, verifier, scopes)
	s.observe(identity.GrantAuthorizationCode, err)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidGrant) {
			return nil, fmt.Errorf("%w: %v", ErrInteractionRequired, err)
		}
		return nil, err
	}
	claims, err := identity.ParseClaims(resp.IDToken)
	if err != nil {
		return nil, err
	}
	userID := claims.HomeAccountID()
	key := s.UserPartitionKey(userID)
	account := s.accountEntry(userID, claims)

	_, err = s.user.AcquireForWrite(ctx, key, func(context.Context, *entry.Set) (*entry.Set, error) {
		return s.userEntries(userID, resp, scopes, &account), nil
	})
	if err != nil && !s.degrade(err, key) {
		return nil, err
	}
	s.log.Info("account added", logger.UserID(userID), logger.Scopes(scopes))
	return &account, nil
}

// Account devuelve la cuenta cacheada del usuario.
func (s *Service) Account(ctx context.Context, userID string) (*entry.Account, bool) {
	acc, ok := s.user.AcquireForRead(ctx, s.UserPartitionKey(userID)).FindAccount(userID, s.authority)
	if !ok {
		return nil, false
	}
	return &acc, true
}

// EvictUser borra la partición del usuario (sign-out).
func (s *Service) EvictUser(ctx context.Context, userID string) error {
	return s.user.Evict(ctx, s.UserPartitionKey(userID))
}

// EvictApp borra la partición app-only (revocación administrativa).
func (s *Service) EvictApp(ctx context.Context) error {
	return s.app.Evict(ctx, s.AppPartitionKey())
}

// ─────────────────────────────────────────────────────────────
// internos
// ─────────────────────────────────────────────────────────────

// flight colapsa adquisiciones idénticas. El trabajo compartido corre desacoplado
// del contexto de cada caller; cada caller espera lo que su contexto le permita.
func (s *Service) flight(ctx context.Context, key string, scopes []string, fn func(context.Context) (*AccessToken, error)) (*AccessToken, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.sf.DoChan(key+"|"+entry.Target(scopes), func() (any, error) {
		return fn(shared)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*AccessToken), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) refreshApp(ctx context.Context, key string, scopes []string) (*AccessToken, error) {
	var fresh *AccessToken
	_, err := s.app.AcquireForWrite(ctx, key, func(pctx context.Context, cur *entry.Set) (*entry.Set, error) {
		if t, ok := cur.FindAccessToken("", s.authority, s.cfg.ClientID, scopes, s.now(), s.cfg.RefreshSkew); ok {
			fresh = fromEntry(t)
			return nil, nil
		}
		resp, err := s.provider.AcquireForClient(pctx, scopes)
		s.observe(identity.GrantClientCredentials, err)
		if err != nil {
			return nil, err
		}
		at := s.accessTokenEntry("", resp, scopes)
		fresh = fromEntry(at)
		fresh.FromCache = false

		out := entry.NewSet()
		out.PutAccessToken(at)
		out.PutAppMetadata(entry.AppMetadata{Environment: s.authority.Environment, ClientID: s.cfg.ClientID})
		return out, nil
	})
	if err != nil {
		if fresh != nil && s.degrade(err, key) {
			return fresh, nil
		}
		return nil, err
	}
	return fresh, nil
}

func (s *Service) refreshUser(ctx context.Context, key, userID string, scopes []string) (*AccessToken, error) {
	var fresh *AccessToken
	_, err := s.user.AcquireForWrite(ctx, key, func(pctx context.Context, cur *entry.Set) (*entry.Set, error) {
		if t, ok := cur.FindAccessToken(userID, s.authority, s.cfg.ClientID, scopes, s.now(), s.cfg.RefreshSkew); ok {
			fresh = fromEntry(t)
			return nil, nil
		}
		rt, ok := cur.FindRefreshToken(userID, s.authority, s.cfg.ClientID)
		if !ok {
			return nil, ErrInteractionRequired
		}
		resp, err := s.provider.AcquireByRefreshToken(pctx, rt.Secret, scopes)
		s.observe(identity.GrantRefreshToken, err)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidGrant) {
				return nil, fmt.Errorf("%w: %v", ErrInteractionRequired, err)
			}
			return nil, err
		}

		var account *entry.Account
		if resp.IDToken != "" {
			if claims, err := identity.ParseClaims(resp.IDToken); err == nil {
				a := s.accountEntry(userID, claims)
				account = &a
			}
		}
		out := s.userEntries(userID, resp, scopes, account)
		for _, at := range out.AccessTokens {
			fresh = fromEntry(at)
			fresh.FromCache = false
		}
		return out, nil
	})
	if err != nil {
		if fresh != nil && !fresh.FromCache && s.degrade(err, key) {
			return fresh, nil
		}
		return nil, err
	}
	return fresh, nil
}

// degrade decide si un fallo de persistencia se tolera.
func (s *Service) degrade(err error, key string) bool {
	if !s.cfg.ServeUnpersisted || !store.IsUnavailable(err) {
		return false
	}
	s.log.Warn("serving token that could not be persisted",
		logger.Event("unpersisted_token"),
		logger.PartitionKey(key),
		logger.Err(err),
	)
	return true
}

func (s *Service) observe(grant string, err error) {
	if err != nil {
		s.m.Provider(grant, metrics.ResultError)
		return
	}
	s.m.Provider(grant, metrics.ResultOK)
}

func (s *Service) accessTokenEntry(owner string, resp *identity.TokenResponse, requested []string) entry.AccessToken {
	now := s.now()
	return entry.AccessToken{
		HomeAccountID: owner,
		Environment:   s.authority.Environment,
		Realm:         s.authority.Realm,
		ClientID:      s.cfg.ClientID,
		// pedidos + concedidos: si el provider informa menos scopes que los pedidos
		// el token no volvería a encontrarse nunca
		Target:    entry.Target(append(append([]string{}, requested...), resp.Scopes...)),
		Secret:    resp.AccessToken,
		TokenType: resp.TokenType,
		CachedAt:  now.Unix(),
		ExpiresOn: resp.ExpiresAt.Unix(),
	}
}

func (s *Service) accountEntry(userID string, c identity.Claims) entry.Account {
	return entry.Account{
		HomeAccountID:  userID,
		Environment:    s.authority.Environment,
		Realm:          s.authority.Realm,
		LocalAccountID: c.ObjectID,
		Username:       c.Username(),
		Name:           c.Name,
		AuthorityType:  "MSSTS",
	}
}

func (s *Service) userEntries(userID string, resp *identity.TokenResponse, scopes []string, account *entry.Account) *entry.Set {
	out := entry.NewSet()
	if resp.AccessToken != "" {
		out.PutAccessToken(s.accessTokenEntry(userID, resp, scopes))
	}
	if resp.RefreshToken != "" {
		out.PutRefreshToken(entry.RefreshToken{
			HomeAccountID: userID,
			Environment:   s.authority.Environment,
			ClientID:      s.cfg.ClientID,
			Secret:        resp.RefreshToken,
		})
	}
	if resp.IDToken != "" {
		out.PutIDToken(entry.IDToken{
			HomeAccountID: userID,
			Environment:   s.authority.Environment,
			Realm:         s.authority.Realm,
			ClientID:      s.cfg.ClientID,
			Secret:        resp.IDToken,
		})
	}
	if account != nil {
		out.PutAccount(*account)
	}
	out.PutAppMetadata(entry.AppMetadata{Environment: s.authority.Environment, ClientID: s.cfg.ClientID})
	return out
}

func fromEntry(t entry.AccessToken) *AccessToken {
	return &AccessToken{
		Token:     t.Secret,
		TokenType: t.TokenType,
		ExpiresAt: t.ExpiresAt(),
		Scopes:    t.Scopes(),
		FromCache: true,
	}
}
