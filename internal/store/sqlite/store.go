// Package sqlite implementa store.PartitionStore sobre SQLite (modernc.org/sqlite,
// sin cgo). Pensado para desarrollo, tests y despliegues de una sola instancia.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3/database"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	migrations "github.com/dropDatabas3/tokencache/migrations/sqlite"

	"github.com/dropDatabas3/tokencache/internal/observability/logger"
	"github.com/dropDatabas3/tokencache/internal/store"
)

// timeLayout se usa para last_write_time; ordena lexicográficamente.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

var _ store.PartitionStore = (*Store)(nil)

// New abre (o crea) la base indicada por cfg.DSN: un path o un DSN "file:...".
func New(ctx context.Context, cfg store.Config) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Un solo writer: SQLite serializa escrituras igual, así evitamos SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Store{db: db, log: logger.Named("store.sqlite")}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	s.log.Info("sqlite_ready", zap.String("dsn", redactDSN(cfg.DSN)))
	return s, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "?"); i >= 0 {
		return dsn[:i]
	}
	return dsn
}

// DB expone la conexión para tests y migraciones.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return store.Unavailable("sqlite ping", s.db.PingContext(ctx))
}

// Migrate aplica las migraciones embebidas.
func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations.PartitionsFS, migrations.PartitionsDir)
	if err != nil {
		return fmt.Errorf("sqlite: migrations fs: %w", err)
	}
	return store.RunMigrations(ctx, s.db, database.DialectSQLite3, sub)
}

const (
	qLoad = `SELECT cache_blob FROM token_cache WHERE partition_key = ?`

	qSave = `
INSERT INTO token_cache (partition_key, cache_blob, last_write_time)
VALUES (?, ?, ?)
ON CONFLICT (partition_key) DO UPDATE
SET cache_blob = excluded.cache_blob,
    last_write_time = excluded.last_write_time`

	qDelete = `DELETE FROM token_cache WHERE partition_key = ?`

	qLastWrite = `SELECT CAST(last_write_time AS TEXT) FROM token_cache WHERE partition_key = ?`
)

func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, qLoad, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Unavailable("sqlite load", err)
	}
	if blob == nil {
		blob = []byte{}
	}
	return blob, true, nil
}

func (s *Store) Save(ctx context.Context, key string, blob []byte) error {
	if blob == nil {
		blob = []byte{}
	}
	_, err := s.db.ExecContext(ctx, qSave, key, blob, time.Now().UTC().Format(timeLayout))
	return store.Unavailable("sqlite save", err)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, qDelete, key)
	return store.Unavailable("sqlite delete", err)
}

func (s *Store) LastWrite(ctx context.Context, key string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, qLastWrite, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, store.Unavailable("sqlite last_write", err)
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite: last_write_time %q: %w", raw, err)
	}
	return t, true, nil
}
