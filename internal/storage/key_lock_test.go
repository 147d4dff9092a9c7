package storage

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

func TestLocalKeyLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalKeyLocker()
	ctx := testContext(t)

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, childA)
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
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

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, locker.slots, "slots are released once idle")
}

func TestLocalKeyLockerKeysAreCaseInsensitive(t *testing.T) {
	locker := NewLocalKeyLocker()
	unlock, err := locker.Lock(testContext(t), childA)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLocalKeyLockerDifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocalKeyLocker()
	ctx := testContext(t)

	unlockA, err := locker.Lock(ctx, childA)
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(ctx, childB)
	require.NoError(t, err)
	unlockB()
}

func TestLocalKeyLockerUnlockIsIdempotent(t *testing.T) {
	locker := NewLocalKeyLocker()
	unlock, err := locker.Lock(testContext(t), childA)
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = locker.Lock(testContext(t), childA)
	require.NoError(t, err)
	unlock()
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisKeyLocker(t *testing.T) {
	mr, client := newMiniredisClient(t)
	locker := NewRedisKeyLocker(client, 10*time.Second, 100*time.Millisecond)
	ctx := testContext(t)

	unlock, err := locker.Lock(ctx, childA)
	require.NoError(t, err)

	key := lockKeyPrefix + "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	_, err = locker.Lock(ctx, childA)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, mr.Exists(key))

	unlock, err = locker.Lock(ctx, childA)
	require.NoError(t, err)
	unlock()
}

func TestRedisKeyLockerDoesNotReleaseForeignLock(t *testing.T) {
	mr, client := newMiniredisClient(t)
	locker := NewRedisKeyLocker(client, 10*time.Second, 100*time.Millisecond)

	unlock, err := locker.Lock(testContext(t), childA)
	require.NoError(t, err)

	key := lockKeyPrefix + "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	require.NoError(t, mr.Set(key, "someone-else"))

	unlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisKeyLockerFallsBackWhenRedisDown(t *testing.T) {
	mr, client := newMiniredisClient(t)
	locker := NewRedisKeyLocker(client, time.Second, 5*time.Second)
	mr.Close()

	start := time.Now()
	unlock, err := locker.Lock(testContext(t), childA)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	// the in-process fallback still serializes the same address
	ctx, cancel := context.WithTimeout(testContext(t), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, childA)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock, err = locker.Lock(testContext(t), childA)
	require.NoError(t, err)
	unlock()
}

func TestRedisKeyLockerHonorsCancelledContext(t *testing.T) {
	_, client := newMiniredisClient(t)
	locker := NewRedisKeyLocker(client, time.Second, time.Second)

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	_, err := locker.Lock(ctx, childA)
	assert.ErrorIs(t, err, ErrLockTimeout)
}
