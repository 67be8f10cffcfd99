package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

// RunMigrations aplica las migraciones pendientes de fsys (archivos .sql en la raíz).
func RunMigrations(ctx context.Context, db *sql.DB, dialect database.Dialect, fsys fs.FS) error {
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log := logger.Named("store.migrate")
	for _, r := range results {
		log.Info("migration applied",
			zap.String("dialect", string(dialect)),
			zap.String("source", r.Source.Path),
			logger.Duration(r.Duration),
		)
	}
	return nil
}
