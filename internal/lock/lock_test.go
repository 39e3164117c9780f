package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/treasurehub/treasurehub-api/internal/lock"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestWithLockSerialisesCallers(t *testing.T) {
	client, _ := newClient(t)
	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, "cart:u1", time.Second, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestTryWithLockSkipsWhenHeld(t *testing.T) {
	client, mr := newClient(t)
	locker := lock.Locker{R: client}
	ctx := context.Background()

	require.NoError(t, mr.Set("job:sweep", "someone-else"))
	ran := false
	err := locker.TryWithLock(ctx, "job:sweep", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, lock.ErrLocked)
	require.False(t, ran)

	mr.Del("job:sweep")
	err = locker.TryWithLock(ctx, "job:sweep", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists("job:sweep"))
}

func TestLockerRequiresClient(t *testing.T) {
	err := lock.Locker{}.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestHolderAllOrNothing(t *testing.T) {
	client, mr := newClient(t)
	holder := lock.Holder{R: client, TTL: time.Minute}
	ctx := context.Background()

	require.NoError(t, holder.Acquire(ctx, "order-a", "l1", "l2"))
	owner, err := mr.Get("hold:listing:l1")
	require.NoError(t, err)
	require.Equal(t, "order-a", owner)

	err = holder.Acquire(ctx, "order-b", "l3", "l2")
	var held *lock.HeldError
	require.ErrorAs(t, err, &held)
	require.Equal(t, "l2", held.ListingID)
	require.False(t, mr.Exists("hold:listing:l3"))

	// The owner may refresh its own holds.
	require.NoError(t, holder.Acquire(ctx, "order-a", "l1", "l2"))

	n, err := holder.Release(ctx, "order-b", "l1", "l2")
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = holder.Release(ctx, "order-a", "l1", "l2")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, holder.Acquire(ctx, "order-b", "l2"))
}

func TestHolderExpires(t *testing.T) {
	client, mr := newClient(t)
	holder := lock.Holder{R: client, TTL: time.Minute}
	ctx := context.Background()

	require.NoError(t, holder.Acquire(ctx, "order-a", "l1"))
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("hold:listing:l1"))
	require.NoError(t, holder.Acquire(ctx, "order-b", "l1"))
}
