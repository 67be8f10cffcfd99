// Package app arma el grafo de dependencias a partir de la configuración.
// Lo usan los comandos del CLI: migrate/evict/inspect solo necesitan el núcleo
// (stores, codec, coordinadores); serve además levanta identity, sesiones y HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencache/internal/cache"
	"github.com/dropDatabas3/tokencache/internal/config"
	"github.com/dropDatabas3/tokencache/internal/graph"
	apphttp "github.com/dropDatabas3/tokencache/internal/http"
	"github.com/dropDatabas3/tokencache/internal/http/handlers"
	mw "github.com/dropDatabas3/tokencache/internal/http/middlewares"
	"github.com/dropDatabas3/tokencache/internal/identity"
	"github.com/dropDatabas3/tokencache/internal/infra/storefactory"
	"github.com/dropDatabas3/tokencache/internal/metrics"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
	"github.com/dropDatabas3/tokencache/internal/security/secretbox"
	"github.com/dropDatabas3/tokencache/internal/session"
	"github.com/dropDatabas3/tokencache/internal/store"
	"github.com/dropDatabas3/tokencache/internal/tokenacquisition"
	"github.com/dropDatabas3/tokencache/internal/tokencache"
	"github.com/dropDatabas3/tokencache/internal/tokencache/entry"
	"github.com/dropDatabas3/tokencache/internal/util"
)

// Container es el núcleo del token cache.
type Container struct {
	Config    *config.Config
	Log       *zap.Logger
	Metrics   *metrics.Cache
	Authority entry.Authority

	AppStore  store.PartitionStore
	UserStore store.PartitionStore
	AppCache  *tokencache.Coordinator
	UserCache *tokencache.Coordinator

	closers []func() error
}

// New abre los stores, arma el codec y los coordinadores. reg nil no registra métricas.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	// migrate no necesita authority; evict/inspect/serve sí
	var authority entry.Authority
	if cfg.Identity.Authority != "" {
		a, err := entry.ParseAuthority(cfg.Identity.Authority)
		if err != nil {
			return nil, fmt.Errorf("identity.authority: %w", err)
		}
		authority = a
	}
	codec, err := secretbox.NewFromStrings(cfg.Security.SecretBoxMasterKey, cfg.Security.SecretBoxPreviousKeys...)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}

	c := &Container{
		Config:    cfg,
		Log:       logger.Named("app"),
		Metrics:   metrics.New(),
		Authority: authority,
	}
	if reg != nil {
		if err := c.Metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	if c.AppStore, err = c.openStore(ctx, cfg.AppStoreDSN()); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.UserStore = c.AppStore
	if cfg.SplitStores() {
		if c.UserStore, err = c.openStore(ctx, cfg.UserStoreDSN()); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	opts := func(kind string) tokencache.Options {
		return tokencache.Options{
			Kind:         kind,
			Metrics:      c.Metrics,
			LockTimeout:  cfg.Cache.LockTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		}
	}
	c.AppCache = tokencache.New(c.AppStore, codec, opts(tokencache.KindApp))
	c.UserCache = tokencache.New(c.UserStore, codec, opts(tokencache.KindUser))
	return c, nil
}

func (c *Container) openStore(ctx context.Context, dsn string) (store.PartitionStore, error) {
	cfg := c.Config.Storage
	s, err := storefactory.Open(ctx, store.Config{
		Driver:          cfg.Driver,
		DSN:             dsn,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		AutoMigrate:     cfg.AutoMigrate,
	}, store.Retry{
		MaxTries:        cfg.Retry.MaxTries,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open store (%s): %w", cfg.Driver, err)
	}
	c.closers = append(c.closers, s.Close)
	// con AutoMigrate el backend ya aplicó el schema al abrir
	c.Log.Info("partition store opened",
		logger.String("driver", cfg.Driver),
		logger.String("dsn", util.MaskDSN(dsn)),
		zap.Bool("auto_migrate", cfg.AutoMigrate))
	return s, nil
}

// Migrate aplica el schema en los stores configurados.
func (c *Container) Migrate(ctx context.Context) error {
	if err := storefactory.Migrate(ctx, c.AppStore); err != nil {
		return err
	}
	if c.UserStore != c.AppStore {
		return storefactory.Migrate(ctx, c.UserStore)
	}
	return nil
}

// ErrNoAuthority: la operación necesita identity.authority.
var ErrNoAuthority = errors.New("identity.authority es requerido para calcular partition keys")

// AppPartitionKey de la aplicación configurada.
func (c *Container) AppPartitionKey() (string, error) {
	if c.Authority.Environment == "" {
		return "", ErrNoAuthority
	}
	if c.Config.Identity.ClientID == "" {
		return "", errors.New("identity.client_id es requerido para la partición app")
	}
	return entry.AppPartitionKey(c.Config.Identity.ClientID, c.Authority), nil
}

// UserPartitionKey de un usuario (home account id).
func (c *Container) UserPartitionKey(userID string) (string, error) {
	if c.Authority.Environment == "" {
		return "", ErrNoAuthority
	}
	return entry.UserPartitionKey(userID, c.Authority), nil
}

// Ping chequea los stores.
func (c *Container) Ping(ctx context.Context) error {
	if err := c.AppStore.Ping(ctx); err != nil {
		return err
	}
	if c.UserStore != c.AppStore {
		return c.UserStore.Ping(ctx)
	}
	return nil
}

// Close libera stores y demás recursos en orden inverso.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Tokens arma la façade sobre el provider dado.
func (c *Container) Tokens(p tokenacquisition.Provider) (*tokenacquisition.Service, error) {
	return tokenacquisition.New(tokenacquisition.Config{
		Authority:        c.Config.Identity.Authority,
		ClientID:         c.Config.Identity.ClientID,
		RefreshSkew:      c.Config.Cache.RefreshSkew,
		ServeUnpersisted: c.Config.Cache.ServeUnpersisted,
		Metrics:          c.Metrics,
	}, p, c.AppCache, c.UserCache)
}

// Handler levanta identity (discovery), sesiones, graph y el router HTTP.
func (c *Container) Handler(ctx context.Context) (http.Handler, error) {
	cfg := c.Config
	if err := cfg.ValidateIdentity(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	idp, err := identity.New(ctx, identity.Config{
		Authority:    cfg.Identity.Authority,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		RedirectURL:  cfg.Identity.RedirectURL,
		Scopes:       cfg.Identity.Scopes,
	})
	if err != nil {
		return nil, err
	}
	tokens, err := c.Tokens(idp)
	if err != nil {
		return nil, err
	}

	sc, err := cache.New(ctx, cache.Config{
		Driver:   cfg.Session.Kind,
		Addr:     cfg.Session.Redis.Addr,
		Password: cfg.Session.Redis.Password,
		DB:       cfg.Session.Redis.DB,
		Prefix:   cfg.Session.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("session backend: %w", err)
	}
	c.closers = append(c.closers, sc.Close)
	sessions := session.NewManager(sc, cfg.Session.TTL)

	sameSite, _ := config.ParseSameSite(cfg.Session.SameSite)
	return apphttp.NewRouter(apphttp.RouterDeps{
		Auth: &handlers.AuthHandler{
			Auth:     idp,
			Tokens:   tokens,
			Sessions: sessions,
			Scopes:   cfg.Identity.Scopes,
			Cookie: handlers.Cookie{
				Name:     cfg.Session.CookieName,
				Domain:   cfg.Session.Domain,
				Secure:   cfg.Session.Secure,
				SameSite: sameSite,
			},
		},
		Me: &handlers.MeHandler{
			Tokens:   tokens,
			Profiles: graph.New(cfg.Graph.BaseURL, &http.Client{Timeout: 10 * time.Second}),
			Scopes:   cfg.Graph.Scopes,
		},
		Health: &handlers.HealthHandler{Checks: map[string]handlers.Pinger{
			"store":   c.Ping,
			"session": sc.Ping,
		}},
		Sessions: sessions,
		Logger:   logger.Named("http"),
		CookiePolicy: mw.CookiePolicy{
			MinimumSameSite: http.SameSiteLaxMode,
			AlwaysSecure:    cfg.Session.Secure,
			HTTPOnly:        true,
		},
	}), nil
}
