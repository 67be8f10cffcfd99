package tokencache

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/tokencache/internal/metrics"
	"github.com/dropDatabas3/tokencache/internal/security/secretbox"
	"github.com/dropDatabas3/tokencache/internal/store"
	"github.com/dropDatabas3/tokencache/internal/store/sqlite"
	"github.com/dropDatabas3/tokencache/internal/tokencache/entry"
)

// ─────────────────────────────────────────────────────────────
// fakes
// ─────────────────────────────────────────────────────────────

type memStore struct {
	mu        sync.Mutex
	rows      map[string][]byte
	saves     int
	saveDelay time.Duration
	failLoad  error
	failSave  error
}

func newMemStore() *memStore { return &memStore{rows: map[string][]byte{}} }

func (s *memStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad != nil {
		return nil, false, s.failLoad
	}
	b, ok := s.rows[key]
	return b, ok, nil
}

func (s *memStore) Save(ctx context.Context, key string, blob []byte) error {
	if s.saveDelay > 0 {
		select {
		case <-time.After(s.saveDelay):
		case <-ctx.Done():
			return store.Unavailable("save", ctx.Err())
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.saves++
	s.rows[key] = append([]byte(nil), blob...)
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
	return nil
}

func (s *memStore) LastWrite(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[key]
	return time.Now(), ok, nil
}

func (s *memStore) Ping(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

func (s *memStore) raw(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[key]
}

func (s *memStore) put(key string, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = blob
}

func testCodec(t *testing.T) *secretbox.Codec {
	t.Helper()
	k, err := secretbox.GenerateKey()
	require.NoError(t, err)
	c, err := secretbox.NewFromStrings(k)
	require.NoError(t, err)
	return c
}

var auth = entry.Authority{Environment: "login.example.com", Realm: "tenant"}

const aliceID = "alice-oid.tenant"

func at(owner, target, secret string, exp time.Time) entry.AccessToken {
	return entry.AccessToken{
		HomeAccountID: owner,
		Environment:   auth.Environment,
		Realm:         auth.Realm,
		ClientID:      "client-1",
		Target:        target,
		Secret:        secret,
		TokenType:     "Bearer",
		CachedAt:      time.Now().Unix(),
		ExpiresOn:     exp.Unix(),
	}
}

func grant(tokens ...entry.AccessToken) Producer {
	return func(_ context.Context, _ *entry.Set) (*entry.Set, error) {
		s := entry.NewSet()
		for _, t := range tokens {
			s.PutAccessToken(t)
		}
		return s, nil
	}
}

// ─────────────────────────────────────────────────────────────
// escenarios
// ─────────────────────────────────────────────────────────────

func TestAcquireForRead_MissIsEmpty(t *testing.T) {
	c := New(newMemStore(), testCodec(t), Options{})
	set := c.AcquireForRead(context.Background(), entry.UserPartitionKey(aliceID, auth))
	require.True(t, set.IsEmpty())
}

func TestAliceFirstToken_ThenScopesCoexistAndRefreshReplaces(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New(ctx, store.Config{DSN: filepath.Join(t.TempDir(), "c.db"), AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c := New(s, testCodec(t), Options{Kind: KindUser})
	key := entry.UserPartitionKey(aliceID, auth)
	exp := time.Now().Add(time.Hour)

	// primer token: la partición no existe
	set, err := c.AcquireForWrite(ctx, key, grant(at(aliceID, "read", "at-read-1", exp)))
	require.NoError(t, err)
	require.Len(t, set.AccessTokens, 1)

	got, ok := c.AcquireForRead(ctx, key).FindAccessToken(aliceID, auth, "client-1", []string{"read"}, time.Now(), 0)
	require.True(t, ok)
	require.Equal(t, "at-read-1", got.Secret)

	// otro scope set convive
	_, err = c.AcquireForWrite(ctx, key, grant(at(aliceID, "write", "at-write-1", exp)))
	require.NoError(t, err)
	require.Len(t, c.AcquireForRead(ctx, key).AccessTokens, 2)

	// refresh del mismo scope set reemplaza
	exp2 := exp.Add(time.Hour)
	_, err = c.AcquireForWrite(ctx, key, grant(at(aliceID, "READ", "at-read-2", exp2)))
	require.NoError(t, err)

	final := c.AcquireForRead(ctx, key)
	require.Len(t, final.AccessTokens, 2)
	got, ok = final.FindAccessToken(aliceID, auth, "client-1", []string{"read"}, time.Now(), 0)
	require.True(t, ok)
	require.Equal(t, "at-read-2", got.Secret)
	require.Equal(t, exp2.Unix(), got.ExpiresOn)

	info, err := c.Describe(ctx, key)
	require.NoError(t, err)
	require.True(t, info.Exists)
	require.Equal(t, 2, info.AccessTokens)
}

func TestAcquireForWrite_BlobIsEncryptedAndBoundToKey(t *testing.T) {
	ms := newMemStore()
	c := New(ms, testCodec(t), Options{})
	key := entry.UserPartitionKey(aliceID, auth)

	_, err := c.AcquireForWrite(context.Background(), key, grant(at(aliceID, "read", "super-secret-token", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	require.NotContains(t, string(ms.raw(key)), "super-secret-token")

	// el mismo blob bajo otra clave no abre
	other := entry.UserPartitionKey("bob.tenant", auth)
	ms.put(other, ms.raw(key))
	require.True(t, c.AcquireForRead(context.Background(), other).IsEmpty())
}

func TestAcquireForWrite_SameKeyIsLinearized(t *testing.T) {
	ms := newMemStore()
	c := New(ms, testCodec(t), Options{})
	key := entry.UserPartitionKey(aliceID, auth)
	exp := time.Now().Add(time.Hour)

	// cada producer lee el contador actual y escribe +1: sin linearización se pierden updates
	incr := func(ctx context.Context, cur *entry.Set) (*entry.Set, error) {
		n := 0
		if t, ok := cur.FindAccessToken(aliceID, auth, "client-1", []string{"counter"}, time.Now(), 0); ok {
			n, _ = strconv.Atoi(t.Secret)
		}
		out := entry.NewSet()
		out.PutAccessToken(at(aliceID, "counter", strconv.Itoa(n+1), exp))
		return out, nil
	}

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.AcquireForWrite(context.Background(), key, incr)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, ok := c.AcquireForRead(context.Background(), key).FindAccessToken(aliceID, auth, "client-1", []string{"counter"}, time.Now(), 0)
	require.True(t, ok)
	require.Equal(t, strconv.Itoa(writers), got.Secret)
}

func TestAcquireForWrite_TwoProducersComposeInSomeOrder(t *testing.T) {
	ms := newMemStore()
	c := New(ms, testCodec(t), Options{})
	key := entry.UserPartitionKey(aliceID, auth)
	exp := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for _, tok := range []entry.AccessToken{at(aliceID, "read", "f1", exp), at(aliceID, "read", "f2", exp)} {
		wg.Add(1)
		go func(tok entry.AccessToken) {
			defer wg.Done()
			_, err := c.AcquireForWrite(context.Background(), key, grant(tok))
			assert.NoError(t, err)
		}(tok)
	}
	wg.Wait()

	final := c.AcquireForRead(context.Background(), key)
	require.Len(t, final.AccessTokens, 1)
	for _, tok := range final.AccessTokens {
		require.Contains(t, []string{"f1", "f2"}, tok.Secret)
	}
}

func TestAcquireForWrite_DifferentKeysRunConcurrently(t *testing.T) {
	ms := newMemStore()
	ms.saveDelay = 150 * time.Millisecond
	c := New(ms, testCodec(t), Options{})
	exp := time.Now().Add(time.Hour)

	start := time.Now()
	var wg sync.WaitGroup
	for _, owner := range []string{"a.tenant", "b.tenant", "c.tenant", "d.tenant"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			_, err := c.AcquireForWrite(context.Background(), entry.UserPartitionKey(owner, auth), grant(at(owner, "read", "x", exp)))
			assert.NoError(t, err)
		}(owner)
	}
	wg.Wait()
	require.Less(t, time.Since(start), 4*ms.saveDelay, "writes on different keys must not serialize")
}

func TestAcquireForWrite_ProducerErrorAbortsWithoutWrite(t *testing.T) {
	ms := newMemStore()
	c := New(ms, testCodec(t), Options{})
	boom := errors.New("provider down")

	_, err := c.AcquireForWrite(context.Background(), "user:x@e/r", func(context.Context, *entry.Set) (*entry.Set, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, ms.saves)
}

func TestAcquireForWrite_EmptyIncomingSkipsSave(t *testing.T) {
	ms := newMemStore()
	c := New(ms, testCodec(t), Options{})
	_, err := c.AcquireForWrite(context.Background(), "user:x@e/r", func(context.Context, *entry.Set) (*entry.Set, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Zero(t, ms.saves)
}

func TestAcquireForWrite_StoreUnavailablePropagates(t *testing.T) {
	ms := newMemStore()
	ms.failSave = store.Unavailable("save", errors.New("connection refused"))
	c := New(ms, testCodec(t), Options{})

	_, err := c.AcquireForWrite(context.Background(), "user:x@e/r", grant(at("x", "read", "s", time.Now().Add(time.Hour))))
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestAcquireForRead_StoreUnavailableDegradesToMiss(t *testing.T) {
	ms := newMemStore()
	ms.failLoad = store.Unavailable("load", errors.New("connection refused"))
	m := metrics.New()
	c := New(ms, testCodec(t), Options{Metrics: m})

	require.True(t, c.AcquireForRead(context.Background(), "user:x@e/r").IsEmpty())
	require.Equal(t, 1.0, testutil.ToFloat64(m.Reads.WithLabelValues(KindUser, metrics.ResultUnavailable)))

	// en escritura no se degrada: mergear contra vacío pisaría la partición
	_, err := c.AcquireForWrite(context.Background(), "user:x@e/r", grant(at("x", "read", "s", time.Now().Add(time.Hour))))
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
	require.Zero(t, ms.saves)
}

func TestAcquireForRead_TruncatedBlobIsCorruptEvent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.New()
	ms := newMemStore()
	c := New(ms, testCodec(t), Options{Logger: zap.New(core), Metrics: m})
	key := entry.UserPartitionKey(aliceID, auth)

	_, err := c.AcquireForWrite(context.Background(), key, grant(at(aliceID, "read", "s", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	blob := ms.raw(key)
	ms.put(key, blob[:len(blob)/2])

	require.True(t, c.AcquireForRead(context.Background(), key).IsEmpty())

	events := logs.FilterField(zap.String("event", EventCorruptCacheData)).All()
	require.Len(t, events, 1)
	require.Equal(t, ReasonDecryption, events[0].ContextMap()["reason"])
	require.Equal(t, 1.0, testutil.ToFloat64(m.Reads.WithLabelValues(KindUser, metrics.ResultDecryptError)))
}

func TestAcquireForRead_InvalidDocumentIsCorruptEvent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.New()
	ms := newMemStore()
	codec := testCodec(t)
	c := New(ms, codec, Options{Logger: zap.New(core), Metrics: m, Kind: KindApp})
	key := entry.AppPartitionKey("client-1", auth)

	sealed, err := codec.Seal([]byte(`{"AccessToken": [`), []byte(key))
	require.NoError(t, err)
	ms.put(key, sealed)

	require.True(t, c.AcquireForRead(context.Background(), key).IsEmpty())
	events := logs.FilterField(zap.String("event", EventCorruptCacheData)).All()
	require.Len(t, events, 1)
	require.Equal(t, ReasonInvalidDocument, events[0].ContextMap()["reason"])
	require.Equal(t, 1.0, testutil.ToFloat64(m.Reads.WithLabelValues(KindApp, metrics.ResultCorrupt)))

	// una escritura sobre una partición corrupta la reemplaza
	_, err = c.AcquireForWrite(context.Background(), key, grant(at("", "read", "fresh", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	require.Len(t, c.AcquireForRead(context.Background(), key).AccessTokens, 1)
}

func TestAcquireForRead_NullDocumentIsCorrupt(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.New()
	ms := newMemStore()
	codec := testCodec(t)
	c := New(ms, codec, Options{Logger: zap.New(core), Metrics: m})
	key := entry.UserPartitionKey(aliceID, auth)

	sealed, err := codec.Seal([]byte("null"), []byte(key))
	require.NoError(t, err)
	ms.put(key, sealed)

	require.True(t, c.AcquireForRead(context.Background(), key).IsEmpty())
	events := logs.FilterField(zap.String("event", EventCorruptCacheData)).All()
	require.Len(t, events, 1)
	require.Equal(t, ReasonInvalidDocument, events[0].ContextMap()["reason"])
	require.Equal(t, 1.0, testutil.ToFloat64(m.Reads.WithLabelValues(KindUser, metrics.ResultCorrupt)))
}

func TestAcquireForWrite_DoesNotCountAsRead(t *testing.T) {
	m := metrics.New()
	c := New(newMemStore(), testCodec(t), Options{Metrics: m})
	key := entry.UserPartitionKey(aliceID, auth)
	ctx := context.Background()

	_, err := c.AcquireForWrite(ctx, key, grant(at(aliceID, "read", "a", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	_, err = c.AcquireForWrite(ctx, key, grant(at(aliceID, "write", "b", time.Now().Add(time.Hour))))
	require.NoError(t, err)

	assert.Zero(t, testutil.ToFloat64(m.Reads.WithLabelValues(KindUser, metrics.ResultMiss)))
	assert.Zero(t, testutil.ToFloat64(m.Reads.WithLabelValues(KindUser, metrics.ResultHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Writes.WithLabelValues(KindUser, metrics.ResultOK)))

	c.AcquireForRead(ctx, key)
	_, err = c.Describe(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reads.WithLabelValues(KindUser, metrics.ResultHit)))
}

func TestAcquireForWrite_LockTimeout(t *testing.T) {
	ms := newMemStore()
	c := New(ms, testCodec(t), Options{LockTimeout: 30 * time.Millisecond})
	key := "user:x@e/r"

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = c.AcquireForWrite(context.Background(), key, func(context.Context, *entry.Set) (*entry.Set, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	_, err := c.AcquireForWrite(context.Background(), key, grant())
	require.ErrorIs(t, err, ErrLockTimeout)
	close(release)
}

func TestAcquireForWrite_CallerCancelDoesNotAbortWrite(t *testing.T) {
	ms := newMemStore()
	c := New(ms, testCodec(t), Options{})
	key := entry.UserPartitionKey(aliceID, auth)

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	started := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := c.AcquireForWrite(ctx, key, func(pctx context.Context, _ *entry.Set) (*entry.Set, error) {
			close(started)
			<-release
			if pctx.Err() != nil {
				return nil, pctx.Err()
			}
			return grant(at(aliceID, "read", "late", time.Now().Add(time.Hour)))(pctx, nil)
		})
		errc <- err
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := c.AcquireForRead(context.Background(), key).FindAccessToken(aliceID, auth, "client-1", []string{"read"}, time.Now(), 0)
		return ok
	}, time.Second, 5*time.Millisecond)

	// el lock quedó libre
	_, err := c.AcquireForWrite(context.Background(), key, grant())
	require.NoError(t, err)
}

func TestEvict(t *testing.T) {
	ms := newMemStore()
	m := metrics.New()
	c := New(ms, testCodec(t), Options{Metrics: m})
	key := entry.UserPartitionKey(aliceID, auth)

	_, err := c.AcquireForWrite(context.Background(), key, grant(at(aliceID, "read", "s", time.Now().Add(time.Hour))))
	require.NoError(t, err)

	require.NoError(t, c.Evict(context.Background(), key))
	require.NoError(t, c.Evict(context.Background(), key))
	require.True(t, c.AcquireForRead(context.Background(), key).IsEmpty())
	require.Equal(t, 2.0, testutil.ToFloat64(m.Evictions.WithLabelValues(KindUser)))

	info, err := c.Describe(context.Background(), key)
	require.NoError(t, err)
	require.False(t, info.Exists)
}
