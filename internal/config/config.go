package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/tokencache/internal/validation"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env  string `yaml:"env"`
		Name string `yaml:"name"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Storage es el store de particiones del token cache.
	Storage struct {
		Driver          string        `yaml:"driver"` // postgres | sqlite
		DSN             string        `yaml:"dsn"`
		MaxConns        int           `yaml:"max_conns"`
		MinConns        int           `yaml:"min_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		AutoMigrate     bool          `yaml:"auto_migrate"`
		Retry           struct {
			MaxTries        uint          `yaml:"max_tries"`
			InitialInterval time.Duration `yaml:"initial_interval"`
			MaxInterval     time.Duration `yaml:"max_interval"`
		} `yaml:"retry"`
	} `yaml:"storage"`

	Security struct {
		// base64(32 bytes); genere una con: tokencache keygen
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
		// Claves anteriores, solo para descifrar durante una rotación.
		SecretBoxPreviousKeys []string `yaml:"secretbox_previous_keys"`
	} `yaml:"security"`

	Identity struct {
		// Authority: https://<host>/<tenant>[/v2.0]
		Authority    string   `yaml:"authority"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		RedirectURL  string   `yaml:"redirect_url"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"identity"`

	// Cache es el comportamiento del token cache.
	Cache struct {
		LockTimeout      time.Duration `yaml:"lock_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		RefreshSkew      time.Duration `yaml:"refresh_skew"`
		ServeUnpersisted bool          `yaml:"serve_unpersisted"`
		// AppDSN / UserDSN: stores separados por tipo de identidad (mismo driver).
		// Vacíos => storage.dsn.
		AppDSN  string `yaml:"app_dsn"`
		UserDSN string `yaml:"user_dsn"`
	} `yaml:"cache"`

	Session struct {
		Kind       string        `yaml:"kind"` // memory | redis
		CookieName string        `yaml:"cookie_name"`
		Domain     string        `yaml:"domain"`
		SameSite   string        `yaml:"samesite"` // Lax | Strict | None
		Secure     bool          `yaml:"secure"`
		TTL        time.Duration `yaml:"ttl"`
		Redis      struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"session"`

	Graph struct {
		BaseURL string   `yaml:"base_url"`
		Scopes  []string `yaml:"scopes"`
	} `yaml:"graph"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load lee path (si no es vacío), aplica defaults y luego las variables de entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "tokencache"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "file:tokencache.db"
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 10
	}
	if c.Storage.ConnMaxLifetime == 0 {
		c.Storage.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Storage.Retry.MaxTries == 0 {
		c.Storage.Retry.MaxTries = 3
	}
	if c.Storage.Retry.InitialInterval == 0 {
		c.Storage.Retry.InitialInterval = 50 * time.Millisecond
	}
	if c.Storage.Retry.MaxInterval == 0 {
		c.Storage.Retry.MaxInterval = time.Second
	}

	if len(c.Identity.Scopes) == 0 {
		c.Identity.Scopes = []string{"User.Read"}
	}

	if c.Cache.LockTimeout == 0 {
		c.Cache.LockTimeout = 10 * time.Second
	}
	if c.Cache.WriteTimeout == 0 {
		c.Cache.WriteTimeout = 30 * time.Second
	}
	if c.Cache.RefreshSkew == 0 {
		c.Cache.RefreshSkew = 5 * time.Minute
	}

	if c.Session.Kind == "" {
		c.Session.Kind = "memory"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "tc_session"
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "Lax"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 8 * time.Hour
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "tokencache:"
	}

	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if len(c.Graph.Scopes) == 0 {
		c.Graph.Scopes = []string{"User.Read"}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	// en prod la cookie de sesión siempre es Secure
	if c.IsProd() {
		c.Session.Secure = true
	}
}

// IsProd reporta si app.env es prod.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

// AppStoreDSN devuelve el DSN del store de tokens app-only.
func (c *Config) AppStoreDSN() string {
	if c.Cache.AppDSN != "" {
		return c.Cache.AppDSN
	}
	return c.Storage.DSN
}

// UserStoreDSN devuelve el DSN del store de tokens por usuario.
func (c *Config) UserStoreDSN() string {
	if c.Cache.UserDSN != "" {
		return c.Cache.UserDSN
	}
	return c.Storage.DSN
}

// SplitStores reporta si app y user usan stores distintos.
func (c *Config) SplitStores() bool { return c.AppStoreDSN() != c.UserStoreDSN() }

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvDur("SERVER_SHUTDOWN_TIMEOUT"); ok {
		c.Server.ShutdownTimeout = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("STORAGE_MAX_CONNS"); ok {
		c.Storage.MaxConns = v
	}
	if v, ok := getEnvInt("STORAGE_MIN_CONNS"); ok {
		c.Storage.MinConns = v
	}
	if v, ok := getEnvDur("STORAGE_CONN_MAX_LIFETIME"); ok {
		c.Storage.ConnMaxLifetime = v
	}
	if v, ok := getEnvBool("STORAGE_AUTO_MIGRATE"); ok {
		c.Storage.AutoMigrate = v
	}
	if v, ok := getEnvInt("STORAGE_RETRY_MAX_TRIES"); ok && v >= 0 {
		c.Storage.Retry.MaxTries = uint(v)
	}

	// SECURITY
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}
	if v, ok := getEnvCSV("SECRETBOX_PREVIOUS_KEYS"); ok {
		c.Security.SecretBoxPreviousKeys = v
	}

	// IDENTITY
	if v, ok := getEnvStr("IDENTITY_AUTHORITY"); ok {
		c.Identity.Authority = v
	}
	if v, ok := getEnvStr("IDENTITY_CLIENT_ID"); ok {
		c.Identity.ClientID = v
	}
	if v, ok := getEnvStr("IDENTITY_CLIENT_SECRET"); ok {
		c.Identity.ClientSecret = v
	}
	if v, ok := getEnvStr("IDENTITY_REDIRECT_URL"); ok {
		c.Identity.RedirectURL = v
	}
	if v, ok := getEnvCSV("IDENTITY_SCOPES"); ok {
		c.Identity.Scopes = v
	}

	// TOKEN CACHE
	if v, ok := getEnvDur("TOKENCACHE_LOCK_TIMEOUT"); ok {
		c.Cache.LockTimeout = v
	}
	if v, ok := getEnvDur("TOKENCACHE_WRITE_TIMEOUT"); ok {
		c.Cache.WriteTimeout = v
	}
	if v, ok := getEnvDur("TOKENCACHE_REFRESH_SKEW"); ok {
		c.Cache.RefreshSkew = v
	}
	if v, ok := getEnvBool("TOKENCACHE_SERVE_UNPERSISTED"); ok {
		c.Cache.ServeUnpersisted = v
	}
	if v, ok := getEnvStr("TOKENCACHE_APP_DSN"); ok {
		c.Cache.AppDSN = v
	}
	if v, ok := getEnvStr("TOKENCACHE_USER_DSN"); ok {
		c.Cache.UserDSN = v
	}

	// SESSION
	if v, ok := getEnvStr("SESSION_KIND"); ok {
		c.Session.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SESSION_COOKIE_NAME"); ok {
		c.Session.CookieName = v
	}
	if v, ok := getEnvStr("SESSION_COOKIE_DOMAIN"); ok {
		c.Session.Domain = v
	}
	if v, ok := getEnvStr("SESSION_SAMESITE"); ok {
		c.Session.SameSite = v
	}
	if v, ok := getEnvBool("SESSION_COOKIE_SECURE"); ok {
		c.Session.Secure = v
	}
	if v, ok := getEnvDur("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Session.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Session.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Session.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Session.Redis.Prefix = v
	}

	// GRAPH
	if v, ok := getEnvStr("GRAPH_BASE_URL"); ok {
		c.Graph.BaseURL = v
	}
	if v, ok := getEnvCSV("GRAPH_SCOPES"); ok {
		c.Graph.Scopes = v
	}

	// LOG
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

// Validate chequea lo necesario para abrir el store y cifrar blobs
// (migrate, evict, inspect). Serve además llama ValidateIdentity.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "postgres", "postgresql", "pg", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q no soportado (postgres|sqlite)", c.Storage.Driver))
	}
	if c.Storage.DSN == "" && c.Cache.AppDSN == "" && c.Cache.UserDSN == "" {
		errs = append(errs, errors.New("storage.dsn es requerido"))
	}
	if strings.TrimSpace(c.Security.SecretBoxMasterKey) == "" {
		errs = append(errs, errors.New("security.secretbox_master_key es requerido (tokencache keygen)"))
	}
	if c.Cache.LockTimeout < 0 || c.Cache.WriteTimeout < 0 || c.Cache.RefreshSkew < 0 {
		errs = append(errs, errors.New("cache: timeouts y refresh_skew no pueden ser negativos"))
	}
	switch c.Session.Kind {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			errs = append(errs, errors.New("session.redis.addr es requerido con session.kind=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.kind %q no soportado (memory|redis)", c.Session.Kind))
	}
	if _, ok := ParseSameSite(c.Session.SameSite); !ok {
		errs = append(errs, fmt.Errorf("session.samesite %q inválido (Lax|Strict|None)", c.Session.SameSite))
	}
	if strings.EqualFold(c.Session.SameSite, "none") && !c.Session.Secure {
		errs = append(errs, errors.New("session.samesite=None requiere session.secure=true"))
	}
	for section, scopes := range map[string][]string{"identity.scopes": c.Identity.Scopes, "graph.scopes": c.Graph.Scopes} {
		if bad := validation.InvalidScopes(scopes); len(bad) > 0 {
			errs = append(errs, fmt.Errorf("%s: scopes inválidos %q", section, bad))
		}
	}
	return errors.Join(errs...)
}

// ValidateIdentity chequea la sección identity (solo serve).
func (c *Config) ValidateIdentity() error {
	var errs []error
	if c.Identity.Authority == "" {
		errs = append(errs, errors.New("identity.authority es requerido"))
	}
	if c.Identity.ClientID == "" {
		errs = append(errs, errors.New("identity.client_id es requerido"))
	}
	if c.Identity.RedirectURL == "" {
		errs = append(errs, errors.New("identity.redirect_url es requerido"))
	}
	return errors.Join(errs...)
}
