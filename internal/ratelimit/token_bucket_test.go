package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T, capacity int, refillPerSec float64) *TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, capacity, refillPerSec)
}

func TestTokenBucketAllowsUpToCapacity(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 3, 0)

	for i := 0; i < 3; i++ {
		ok, err := b.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i)
	}

	ok, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, ok, "bucket should be empty")
}

func TestTokenBucketRefills(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1, 100)

	ok, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(50 * time.Millisecond)

	ok, err = b.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, ok, "bucket should refill")
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1, 0)

	ok, err := b.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, ok, "other clients keep their own budget")
}
