// Package store define el almacenamiento durable de particiones del token cache.
//
// Una partición es una fila (partition_key, cache_blob, last_write_time). El store
// no interpreta ni la clave ni el blob: guarda bytes opacos y los devuelve tal cual.
// La coherencia ante escrituras concurrentes la resuelve el coordinador con locks
// por clave; acá no hay row locking.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable envuelve cualquier falla de I/O contra la base.
var ErrStoreUnavailable = errors.New("partition store unavailable")

// PartitionStore es el contrato de los backends (pg, sqlite).
type PartitionStore interface {
	// Load devuelve (nil, false, nil) si la partición no existe.
	Load(ctx context.Context, key string) ([]byte, bool, error)
	// Save reemplaza el blob completo en un único statement (upsert).
	Save(ctx context.Context, key string, blob []byte) error
	// Delete es idempotente.
	Delete(ctx context.Context, key string) error
	// LastWrite devuelve el last_write_time de la partición.
	LastWrite(ctx context.Context, key string) (time.Time, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Migrator lo implementan los backends que aplican su propio schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Config de conexión de un backend.
type Config struct {
	Driver          string // "postgres" | "sqlite"
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	// AutoMigrate aplica las migraciones al abrir.
	AutoMigrate bool
}

// Unavailable envuelve err como ErrStoreUnavailable, con la operación como contexto.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// IsUnavailable reporta si err proviene de una falla del store.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
