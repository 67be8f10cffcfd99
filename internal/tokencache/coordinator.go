// Package tokencache coordina el acceso a las particiones del token cache:
// lecturas sin lock, escrituras read-modify-write serializadas por partition key.
//
// El coordinador es el único que conoce las tres capas (store, codec, modelo).
// Los blobs se sellan con la partition key como AAD, así un blob copiado a otra
// fila no abre.
package tokencache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencache/internal/keylock"
	"github.com/dropDatabas3/tokencache/internal/metrics"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
	"github.com/dropDatabas3/tokencache/internal/store"
	"github.com/dropDatabas3/tokencache/internal/tokencache/entry"
)

// Tipos de identidad; se usan como label de métricas y campo de log.
const (
	KindApp  = "app"
	KindUser = "user"
)

// Eventos de integridad que se loguean al descartar una partición ilegible.
const (
	EventCorruptCacheData = "corrupt_cache_data"
	ReasonDecryption      = "decryption_failure"
	ReasonInvalidDocument = "invalid_document"
)

// ErrLockTimeout: la espera por el lock de la partición superó LockTimeout. Reintentable.
var ErrLockTimeout = keylock.ErrLockTimeout

const (
	DefaultLockTimeout  = 10 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Codec sella y abre blobs (implementado por secretbox.Codec).
type Codec interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(ciphertext, aad []byte) ([]byte, error)
}

// Producer recibe el contenido actual de la partición y devuelve las entradas nuevas.
// current es una copia: el producer puede leerla libremente.
type Producer func(ctx context.Context, current *entry.Set) (*entry.Set, error)

// Options del coordinador. Los campos cero toman defaults.
type Options struct {
	Kind         string
	Logger       *zap.Logger
	Metrics      *metrics.Cache
	LockTimeout  time.Duration
	WriteTimeout time.Duration
}

type Coordinator struct {
	store        store.PartitionStore
	codec        Codec
	locks        *keylock.Table
	log          *zap.Logger
	m            *metrics.Cache
	kind         string
	lockTimeout  time.Duration
	writeTimeout time.Duration
}

func New(s store.PartitionStore, codec Codec, opts Options) *Coordinator {
	if opts.Kind == "" {
		opts.Kind = KindUser
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Coordinator{
		store:        s,
		codec:        codec,
		locks:        keylock.New(),
		log:          logger.OrNamed(opts.Logger, "tokencache").With(logger.IdentityKind(opts.Kind)),
		m:            opts.Metrics,
		kind:         opts.Kind,
		lockTimeout:  opts.LockTimeout,
		writeTimeout: opts.WriteTimeout,
	}
}

// Kind devuelve el tipo de identidad que sirve este coordinador.
func (c *Coordinator) Kind() string { return c.kind }

// AcquireForRead devuelve el contenido de la partición sin tomar el lock.
// Nunca falla: miss, blob ilegible o store caído se ven como partición vacía.
func (c *Coordinator) AcquireForRead(ctx context.Context, key string) *entry.Set {
	set, result, err := c.load(ctx, key)
	if err != nil {
		c.m.Read(c.kind, metrics.ResultUnavailable)
		c.log.Warn("partition read failed, serving empty set", logger.PartitionKey(key), logger.Err(err))
		return entry.NewSet()
	}
	c.m.Read(c.kind, result)
	return set
}

// AcquireForWrite ejecuta un read-modify-write sobre la partición bajo su lock.
// Devuelve el set mergeado que quedó persistido.
//
// Una vez tomado el lock, el RMW corre con un contexto desacoplado del caller y
// acotado por WriteTimeout: si el caller cancela deja de esperar (recibe ctx.Err())
// pero la escritura termina y libera el lock.
func (c *Coordinator) AcquireForWrite(ctx context.Context, key string, produce Producer) (*entry.Set, error) {
	return c.locked(ctx, key, func(wctx context.Context) (*entry.Set, error) {
		return c.readModifyWrite(wctx, key, produce)
	})
}

// Evict elimina la partición (sign-out o revocación administrativa).
func (c *Coordinator) Evict(ctx context.Context, key string) error {
	_, err := c.locked(ctx, key, func(wctx context.Context) (*entry.Set, error) {
		if err := c.store.Delete(wctx, key); err != nil {
			return nil, err
		}
		c.m.Evicted(c.kind)
		c.log.Info("partition evicted", logger.PartitionKey(key))
		return nil, nil
	})
	return err
}

// Info es un resumen de diagnóstico de una partición.
type Info struct {
	Key           string
	Exists        bool
	LastWrite     time.Time
	Accounts      int
	AccessTokens  int
	RefreshTokens int
	IDTokens      int
	AppMetadata   int
}

// Describe devuelve el resumen de una partición. A diferencia de AcquireForRead,
// propaga ErrStoreUnavailable.
func (c *Coordinator) Describe(ctx context.Context, key string) (Info, error) {
	info := Info{Key: key}
	lw, ok, err := c.store.LastWrite(ctx, key)
	if err != nil {
		return info, err
	}
	if !ok {
		return info, nil
	}
	set, result, err := c.load(ctx, key)
	if err != nil {
		return info, err
	}
	c.m.Read(c.kind, result)
	info.Exists = true
	info.LastWrite = lw
	info.Accounts = len(set.Accounts)
	info.AccessTokens = len(set.AccessTokens)
	info.RefreshTokens = len(set.RefreshTokens)
	info.IDTokens = len(set.IDTokens)
	info.AppMetadata = len(set.AppMetadata)
	return info, nil
}

func (c *Coordinator) locked(ctx context.Context, key string, fn func(context.Context) (*entry.Set, error)) (*entry.Set, error) {
	start := time.Now()
	unlock, err := c.locks.Lock(ctx, key, c.lockTimeout)
	c.m.Waited(c.kind, time.Since(start))
	if err != nil {
		if errors.Is(err, keylock.ErrLockTimeout) {
			c.m.Write(c.kind, metrics.ResultLockTimeout)
			c.log.Warn("partition lock timeout", logger.PartitionKey(key), zap.Duration("timeout", c.lockTimeout))
		}
		return nil, err
	}

	type result struct {
		set *entry.Set
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer unlock()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
		defer cancel()
		set, err := fn(wctx)
		done <- result{set, err}
	}()

	select {
	case r := <-done:
		return r.set, r.err
	case <-ctx.Done():
		c.log.Debug("caller gave up waiting, write continues", logger.PartitionKey(key))
		return nil, ctx.Err()
	}
}

func (c *Coordinator) readModifyWrite(ctx context.Context, key string, produce Producer) (*entry.Set, error) {
	// el load interno no cuenta como lectura en tokencache_reads_total
	current, _, err := c.load(ctx, key)
	if err != nil {
		// sin el contenido actual no se puede mergear: escribir pisaría entradas ajenas
		c.m.Write(c.kind, metrics.ResultUnavailable)
		return nil, err
	}

	incoming, err := produce(ctx, current.Clone())
	if err != nil {
		c.m.Write(c.kind, metrics.ResultError)
		return nil, err
	}
	if incoming.IsEmpty() {
		return current, nil
	}

	merged := entry.Merge(current, incoming)
	sealed, err := c.codec.Seal(merged.Encode(), []byte(key))
	if err != nil {
		c.m.Write(c.kind, metrics.ResultError)
		return nil, err
	}
	if err := c.store.Save(ctx, key, sealed); err != nil {
		c.m.Write(c.kind, metrics.ResultUnavailable)
		c.log.Error("partition save failed", logger.PartitionKey(key), logger.Err(err))
		return nil, err
	}
	c.m.Write(c.kind, metrics.ResultOK)
	c.log.Debug("partition written", logger.PartitionKey(key), logger.Count(merged.Len()))
	return merged, nil
}

// load devuelve error solo si el store falla; un blob ilegible es un miss.
// result es la etiqueta de lectura; el caller decide si la registra.
func (c *Coordinator) load(ctx context.Context, key string) (*entry.Set, string, error) {
	raw, ok, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, metrics.ResultUnavailable, err
	}
	if !ok {
		return entry.NewSet(), metrics.ResultMiss, nil
	}

	plain, err := c.codec.Open(raw, []byte(key))
	if err != nil {
		c.integrityFailure(key, ReasonDecryption, err)
		return entry.NewSet(), metrics.ResultDecryptError, nil
	}
	set, err := entry.Decode(plain)
	if err != nil {
		c.integrityFailure(key, ReasonInvalidDocument, err)
		return entry.NewSet(), metrics.ResultCorrupt, nil
	}
	return set, metrics.ResultHit, nil
}

func (c *Coordinator) integrityFailure(key, reason string, err error) {
	c.log.Warn("partition unreadable, treating as miss",
		logger.Event(EventCorruptCacheData),
		zap.String("reason", reason),
		logger.PartitionKey(key),
		logger.Err(err),
	)
}
