package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func versionKey(scope string) string { return "test:" + scope + ":version" }

func TestVersionedFetchAndBump(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewVersioned(client, time.Minute, versionKey)
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"n": calls}, nil
	}

	key, err := c.BuildKey(ctx, "t1", "summary", "all")
	require.NoError(t, err)
	require.Equal(t, "t1:summary:all:v1", key)

	var got map[string]int
	hit, err := c.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 1, got["n"])

	hit, err = c.FetchJSON(ctx, key, &got, loader)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 1, calls)

	require.NoError(t, c.Bump(ctx, "t1"))
	key, err = c.BuildKey(ctx, "t1", "summary", "all")
	require.NoError(t, err)
	require.Equal(t, "t1:summary:all:v2", key)

	other, err := c.BuildKey(ctx, "t2", "summary", "all")
	require.NoError(t, err)
	require.Equal(t, "t2:summary:all:v1", other)
}

func TestVersionedWithoutRedisAlwaysLoads(t *testing.T) {
	c := NewVersioned(nil, time.Minute, versionKey)
	calls := 0
	var got int
	for i := 0; i < 2; i++ {
		hit, err := c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) {
			calls++
			return calls, nil
		})
		require.NoError(t, err)
		require.False(t, hit)
	}
	require.Equal(t, 2, got)
	require.NoError(t, c.Bump(context.Background(), "t"))
}
