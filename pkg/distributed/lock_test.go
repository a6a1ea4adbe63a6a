package distributed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "group-1")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := km.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	km := NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // double release is harmless
	assert.Equal(t, 0, km.Len())
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDistributedLock_ExclusiveUntilUnlock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewDistributedLock(client, "lock:g1", time.Second)
	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := NewDistributedLock(client, "lock:g1", time.Second)
	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Unlock(ctx))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx))
}

func TestDistributedLock_UnlockForeign(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "lock:g2", time.Second)
	require.NoError(t, holder.LockWithTimeout(ctx, 100*time.Millisecond))

	other := NewDistributedLock(client, "lock:g2", time.Second)
	assert.Error(t, other.Unlock(ctx))
	require.NoError(t, holder.Unlock(ctx))
}

func TestRedisLocker_Timeout(t *testing.T) {
	client := newTestRedis(t)
	locker := NewRedisLocker(client, "chatty:lock:", time.Second, 50*time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "g3")
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "g3")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock2, err := locker.Lock(ctx, "g3")
	require.NoError(t, err)
	unlock2()
}
