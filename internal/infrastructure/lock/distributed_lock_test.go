package lock

import (
	"context"
	"testing"
	"time"

	"chatledger/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestPeriodLock_MutualExclusion(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()
	p := model.Period{Year: 2024, Month: 6}

	a := NewPeriodLock(client, 1, p, "worker-a")
	b := NewPeriodLock(client, 1, p, "worker-b")

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "同一周期只能有一个持有者")

	// 不同周期互不影响
	other := NewPeriodLock(client, 1, model.Period{Year: 2024, Month: 7}, "worker-b")
	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlock_DoesNotReleaseOthersLock(t *testing.T) {
	client, mr := newClient(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// a 的锁过期，b 拿到锁
	mr.FastForward(2 * time.Second)
	b := NewDistributedLock(client, "k", "b", time.Minute)
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, a.Unlock(ctx), ErrNotHeld)
	v, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestLock_GivesUpAfterRetries(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "k", "holder", time.Minute)
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	waiter := NewDistributedLock(client, "k", "waiter", time.Minute)
	err = waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}
