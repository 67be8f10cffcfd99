package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

// Retry configura los reintentos ante ErrStoreUnavailable.
type Retry struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (r Retry) withDefaults() Retry {
	if r.MaxTries == 0 {
		r.MaxTries = 3
	}
	if r.InitialInterval <= 0 {
		r.InitialInterval = 50 * time.Millisecond
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = time.Second
	}
	return r
}

type retryStore struct {
	inner PartitionStore
	cfg   Retry
	log   *zap.Logger
}

// WithRetry decora inner reintentando con backoff exponencial las fallas
// transitorias. Cancelación de ctx y cualquier otro error no se reintentan.
// MaxTries == 1 desactiva los reintentos.
func WithRetry(inner PartitionStore, cfg Retry) PartitionStore {
	return &retryStore{inner: inner, cfg: cfg.withDefaults(), log: logger.Named("store.retry")}
}

// Unwrap devuelve el store decorado.
func (s *retryStore) Unwrap() PartitionStore { return s.inner }

func do[T any](ctx context.Context, s *retryStore, op string, fn func() (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.InitialInterval
	exp.MaxInterval = s.cfg.MaxInterval
	exp.Reset()

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !IsUnavailable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(s.cfg.MaxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.log.Warn("store op failed, retrying", logger.Op(op), logger.Err(err), zap.Duration("backoff", d))
		}),
	)
}

func (s *retryStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	type loaded struct {
		blob []byte
		ok   bool
	}
	r, err := do(ctx, s, "load", func() (loaded, error) {
		b, ok, err := s.inner.Load(ctx, key)
		return loaded{b, ok}, err
	})
	return r.blob, r.ok, err
}

func (s *retryStore) Save(ctx context.Context, key string, blob []byte) error {
	_, err := do(ctx, s, "save", func() (struct{}, error) {
		return struct{}{}, s.inner.Save(ctx, key, blob)
	})
	return err
}

func (s *retryStore) Delete(ctx context.Context, key string) error {
	_, err := do(ctx, s, "delete", func() (struct{}, error) {
		return struct{}{}, s.inner.Delete(ctx, key)
	})
	return err
}

func (s *retryStore) LastWrite(ctx context.Context, key string) (time.Time, bool, error) {
	type lw struct {
		t  time.Time
		ok bool
	}
	r, err := do(ctx, s, "last_write", func() (lw, error) {
		t, ok, err := s.inner.LastWrite(ctx, key)
		return lw{t, ok}, err
	})
	return r.t, r.ok, err
}

func (s *retryStore) Ping(ctx context.Context) error {
	_, err := do(ctx, s, "ping", func() (struct{}, error) {
		return struct{}{}, s.inner.Ping(ctx)
	})
	return err
}

func (s *retryStore) Close() error { return s.inner.Close() }

// Migrate delega si el store decorado sabe migrarse.
func (s *retryStore) Migrate(ctx context.Context) error {
	if m, ok := s.inner.(Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}
