// Package storefactory abre el PartitionStore configurado según el driver.
package storefactory

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/tokencache/internal/store"
	"github.com/dropDatabas3/tokencache/internal/store/pg"
	"github.com/dropDatabas3/tokencache/internal/store/sqlite"
)

// Open devuelve el backend de cfg.Driver, decorado con reintentos si retry.MaxTries > 1.
func Open(ctx context.Context, cfg store.Config, retry store.Retry) (store.PartitionStore, error) {
	var (
		s   store.PartitionStore
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres", "postgresql", "pg":
		s, err = pg.New(ctx, cfg)
	case "sqlite", "sqlite3", "":
		s, err = sqlite.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("storefactory: driver %q no soportado (postgres|sqlite)", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if retry.MaxTries > 1 {
		s = store.WithRetry(s, retry)
	}
	return s, nil
}

// Migrate aplica el schema si el backend lo soporta.
func Migrate(ctx context.Context, s store.PartitionStore) error {
	m, ok := s.(store.Migrator)
	if !ok {
		return fmt.Errorf("storefactory: %T no soporta migraciones", s)
	}
	return m.Migrate(ctx)
}
