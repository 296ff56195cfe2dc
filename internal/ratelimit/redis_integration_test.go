//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbank/pkg/testutil/containers"
)

func TestRedisStoreSlidingWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()

	clock := time.Now()
	store := NewRedisStore(rc.Client)
	store.now = func() time.Time { return clock }
	key := "ip:" + uuid.NewString()

	for i := range 3 {
		result, err := store.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2-i, result.Remaining)
		clock = clock.Add(time.Millisecond)
	}

	result, err := store.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Positive(t, result.RetryAfter)

	clock = clock.Add(time.Minute)
	result, err = store.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	ttl, err := rc.Client.TTL(ctx, redisKeyPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}
