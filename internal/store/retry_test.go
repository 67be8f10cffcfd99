package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// flakyStore falla las primeras n llamadas con err.
type flakyStore struct {
	mu    sync.Mutex
	n     int
	err   error
	calls int
	data  map[string][]byte
}

func (f *flakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.n {
		return f.err
	}
	return nil
}

func (f *flakyStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	if err := f.fail(); err != nil {
		return nil, false, err
	}
	b, ok := f.data[key]
	return b, ok, nil
}

func (f *flakyStore) Save(_ context.Context, key string, blob []byte) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.data[key] = blob
	return nil
}

func (f *flakyStore) Delete(_ context.Context, key string) error {
	if err := f.fail(); err != nil {
		return err
	}
	delete(f.data, key)
	return nil
}

func (f *flakyStore) LastWrite(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, f.fail()
}
func (f *flakyStore) Ping(context.Context) error { return f.fail() }
func (f *flakyStore) Close() error               { return nil }

var fastRetry = Retry{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestWithRetry_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyStore{n: 2, err: Unavailable("save", errors.New("conn reset")), data: map[string][]byte{}}
	s := WithRetry(inner, fastRetry)

	require.NoError(t, s.Save(context.Background(), "k", []byte("v")))
	require.Equal(t, 3, inner.calls)

	got, ok, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
}

func TestWithRetry_GivesUpAfterMaxTries(t *testing.T) {
	inner := &flakyStore{n: 10, err: Unavailable("load", errors.New("down")), data: map[string][]byte{}}
	s := WithRetry(inner, fastRetry)

	_, _, err := s.Load(context.Background(), "k")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Equal(t, 3, inner.calls)
}

func TestWithRetry_DoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("constraint")
	inner := &flakyStore{n: 10, err: boom, data: map[string][]byte{}}
	s := WithRetry(inner, fastRetry)

	err := s.Delete(context.Background(), "k")
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, inner.calls)
}

func TestWithRetry_StopsOnCancelledContext(t *testing.T) {
	inner := &flakyStore{n: 10, err: Unavailable("ping", context.Canceled), data: map[string][]byte{}}
	s := WithRetry(inner, fastRetry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.Ping(ctx))
	require.LessOrEqual(t, inner.calls, 1)
}

func TestUnavailable(t *testing.T) {
	require.NoError(t, Unavailable("x", nil))

	base := errors.New("dial tcp: refused")
	err := Unavailable("load", base)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, base)
	require.Same(t, err, Unavailable("again", err))
}
