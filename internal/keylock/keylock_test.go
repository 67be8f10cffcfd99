package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_SameKeyIsExclusive(t *testing.T) {
	tbl := New()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := tbl.Lock(context.Background(), "k", time.Second)
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen)
	require.Zero(t, tbl.Len(), "entries must be released")
}

func TestLock_DifferentKeysDoNotBlock(t *testing.T) {
	tbl := New()
	unlockA, err := tbl.Lock(context.Background(), "a", time.Second)
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := tbl.Lock(context.Background(), "b", time.Second)
		if err == nil {
			unlockB()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("lock on b blocked by holder of a")
	}
}

func TestLock_Timeout(t *testing.T) {
	tbl := New()
	unlock, err := tbl.Lock(context.Background(), "k", 0)
	require.NoError(t, err)

	_, err = tbl.Lock(context.Background(), "k", 20*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock() // idempotente
	require.Zero(t, tbl.Len())

	unlock2, err := tbl.Lock(context.Background(), "k", 20*time.Millisecond)
	require.NoError(t, err)
	unlock2()
}

func TestLock_ContextCancelled(t *testing.T) {
	tbl := New()
	unlock, err := tbl.Lock(context.Background(), "k", 0)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = tbl.Lock(ctx, "k", time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, tbl.Len(), "only the holder remains")
}

func TestTable_ZeroValueUsable(t *testing.T) {
	var tbl Table
	unlock, err := tbl.Lock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	unlock()
	require.Zero(t, tbl.Len())
}
