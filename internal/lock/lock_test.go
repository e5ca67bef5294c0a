package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExcludesSecondHolder(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "rinv-1", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "rinv-1", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = l.TryLock(ctx, "rinv-2", time.Minute)
	assert.NoError(t, err, "different keys are independent")

	require.NoError(t, unlock(ctx))
	_, err = l.TryLock(ctx, "rinv-1", time.Minute)
	assert.NoError(t, err)
}

func TestLocalLockerExpiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	staleUnlock, err := l.TryLock(ctx, "rinv-1", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = l.TryLock(ctx, "rinv-1", time.Minute)
	require.NoError(t, err, "expired lease can be taken over")

	// The stale holder must not release the new lease.
	require.NoError(t, staleUnlock(ctx))
	_, err = l.TryLock(ctx, "rinv-1", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestLocalLockerConcurrentAcquire(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryLock(ctx, "rinv-1", time.Minute); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, winners.Load())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("INVOICESHELF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set INVOICESHELF_TEST_REDIS_ADDR to run redis integration test")
	}

	l := NewRedisLocker(addr, os.Getenv("INVOICESHELF_TEST_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = l.Close() })
	ctx := context.Background()
	require.NoError(t, l.Ping(ctx))

	key := "test-" + time.Now().Format("150405.000000000")
	unlock, err := l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock(ctx))
	again, err := l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
