package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-freight/odyssey-freight/internal/shared"
)

func newTestLocker(t *testing.T, wait time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, time.Second, wait), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	locker, mr := newTestLocker(t, 0)

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, mr.Exists("k"))

	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, shared.ErrLockBusy)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists("k"))

	release, err = locker.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestReleaseDoesNotDropForeignLock(t *testing.T) {
	ctx := context.Background()
	locker, mr := newTestLocker(t, 0)

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	// Simulate expiry and another holder taking over.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("k", "someone-else"))

	require.NoError(t, release(ctx))
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestNilClientIsNoop(t *testing.T) {
	locker := NewLocker(nil, time.Second, 0)
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}
