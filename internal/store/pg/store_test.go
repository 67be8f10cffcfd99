package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencache/internal/store"
)

// Requiere TOKENCACHE_TEST_PG_DSN apuntando a una base descartable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TOKENCACHE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TOKENCACHE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, store.Config{DSN: dsn, AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoundTripAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "user:test-" + time.Now().Format("150405.000000000") + "@pg/tenant"
	t.Cleanup(func() { _ = s.Delete(ctx, key) })

	_, ok, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Save(ctx, key, []byte{1, 2, 3}))
	require.NoError(t, s.Save(ctx, key, []byte{4, 5}))

	got, ok, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{4, 5}, got)

	lw, ok, err := s.LastWrite(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, time.Now(), lw, time.Minute)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	_, ok, err = s.Load(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_UnavailableAfterClose(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	_, _, err := s.Load(context.Background(), "app:x@pg/tenant")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}
