// Package pg implementa store.PartitionStore sobre Postgres (pgx/v5).
package pg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3/database"
	"go.uber.org/zap"

	migrations "github.com/dropDatabas3/tokencache/migrations/postgres"

	"github.com/dropDatabas3/tokencache/internal/observability/logger"
	"github.com/dropDatabas3/tokencache/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ store.PartitionStore = (*Store)(nil)

// Pool expone el pool interno para usos avanzados (metrics/migraciones).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// PoolStats devuelve un snapshot del estado del pool (puede ser nil si el pool no está inicializado).
func (s *Store) PoolStats() *pgxpool.Stat {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Stat()
}

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func New(ctx context.Context, cfg store.Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	// MinConns mantiene conexiones calientes para el hot path de lectura
	if cfg.MinConns > 0 {
		pcfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
		pcfg.MaxConnIdleTime = cfg.ConnMaxLifetime
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, store.Unavailable("pg connect", err)
	}
	log := logger.Named("store.pg")

	// Arranque no bloqueante: si el ping falla se loguea y se sigue, los reads degradan a miss.
	if err := pool.Ping(ctx); err != nil {
		log.Warn("pg_pool_startup_ping_failed", logger.Err(err))
	} else {
		log.Info("pg_pool_ready", zap.Int32("max_conns", pcfg.MaxConns))
	}

	s := &Store{pool: pool, log: log}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return store.Unavailable("pg ping", s.pool.Ping(ctx))
}

// Migrate aplica las migraciones embebidas usando goose sobre el mismo pool.
func (s *Store) Migrate(ctx context.Context) error {
	// sin Close: las conexiones pertenecen al pool, se liberan en s.Close
	db := stdlib.OpenDBFromPool(s.pool)

	sub, err := fs.Sub(migrations.PartitionsFS, migrations.PartitionsDir)
	if err != nil {
		return fmt.Errorf("pg: migrations fs: %w", err)
	}
	return store.RunMigrations(ctx, db, database.DialectPostgres, sub)
}

const (
	qLoad = `SELECT cache_blob FROM token_cache WHERE partition_key = $1`

	qSave = `
INSERT INTO token_cache (partition_key, cache_blob, last_write_time)
VALUES ($1, $2, $3)
ON CONFLICT (partition_key) DO UPDATE
SET cache_blob = EXCLUDED.cache_blob,
    last_write_time = EXCLUDED.last_write_time`

	qDelete = `DELETE FROM token_cache WHERE partition_key = $1`

	qLastWrite = `SELECT last_write_time FROM token_cache WHERE partition_key = $1`
)

func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, qLoad, key).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Unavailable("pg load", err)
	}
	return blob, true, nil
}

func (s *Store) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.pool.Exec(ctx, qSave, key, blob, time.Now().UTC())
	return store.Unavailable("pg save", err)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, qDelete, key)
	return store.Unavailable("pg delete", err)
}

func (s *Store) LastWrite(ctx context.Context, key string) (time.Time, bool, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, qLastWrite, key).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, store.Unavailable("pg last_write", err)
	}
	return t, true, nil
}
