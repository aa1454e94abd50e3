package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestDistributedLock_Exclusive(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	first := NewEarningsRunLock(client, "2026-10-18", "run-1")
	second := NewEarningsRunLock(client, "2026-10-18", "run-2")

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "same date must not be locked twice")

	other := NewEarningsRunLock(client, "2026-10-19", "run-3")
	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "different dates are independent")
}

func TestDistributedLock_UnlockOnlyOwn(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	owner := NewWithdrawalReviewLock(client, 7, "req-a")
	intruder := NewWithdrawalReviewLock(client, 7, "req-b")

	ok, err := owner.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, intruder.Unlock(ctx))
	assert.True(t, mr.Exists(owner.Key()), "foreign unlock must not delete the key")

	require.NoError(t, owner.Unlock(ctx))
	assert.False(t, mr.Exists(owner.Key()))
}

func TestDistributedLock_LockRetriesUntilExhausted(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	holder := NewInvestmentClaimLock(client, 1, "a")
	require.NoError(t, holder.Lock(ctx, time.Millisecond, 1))

	waiter := NewInvestmentClaimLock(client, 1, "b")
	err := waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestDistributedLock_Expires(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	l := NewWithdrawalRequestLock(client, "user-1", "a")
	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	again := NewWithdrawalRequestLock(client, "user-1", "b")
	ok, err = again.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
