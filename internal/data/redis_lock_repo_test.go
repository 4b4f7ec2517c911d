package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmatrix/taskplane/internal/testutil"
)

func TestTaskLockRepo_AcquireRelease(t *testing.T) {
	mr, client := testutil.SetupTestRedis(t)
	repo := NewTaskLockRepo(client)
	ctx := context.Background()

	key := LockKeyForTask("health")

	t.Run("first acquire wins", func(t *testing.T) {
		ok, err := repo.Acquire(ctx, key, "worker-1", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		held, err := repo.Held(ctx, key)
		require.NoError(t, err)
		assert.True(t, held)
	})

	t.Run("second acquire loses", func(t *testing.T) {
		ok, err := repo.Acquire(ctx, key, "worker-2", 30*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		// Holder value is untouched.
		val, err := client.Get(ctx, key).Result()
		require.NoError(t, err)
		assert.Equal(t, "worker-1", val)
	})

	t.Run("release frees the lock", func(t *testing.T) {
		released, err := repo.Release(ctx, key)
		require.NoError(t, err)
		assert.True(t, released)

		ok, err := repo.Acquire(ctx, key, "worker-2", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ttl expiry frees the lock", func(t *testing.T) {
		mr.FastForward(31 * time.Second)

		held, err := repo.Held(ctx, key)
		require.NoError(t, err)
		assert.False(t, held)

		ok, err := repo.Acquire(ctx, key, "worker-3", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release missing lock", func(t *testing.T) {
		released, err := repo.Release(ctx, "lock:task:never")
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		_, err := repo.Acquire(ctx, "", "w", time.Second)
		assert.Error(t, err)
		_, err = repo.Release(ctx, "")
		assert.Error(t, err)
		_, err = repo.Held(ctx, "")
		assert.Error(t, err)
	})
}

func TestTaskLockRepo_NonPositiveTTL(t *testing.T) {
	mr, client := testutil.SetupTestRedis(t)
	repo := NewTaskLockRepo(client)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "lock:task:x", "w", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Clamped to the minimum TTL rather than living forever.
	ttl := mr.TTL("lock:task:x")
	assert.Equal(t, time.Second, ttl)
}

func TestLockKeyForTask(t *testing.T) {
	assert.Equal(t, "lock:task:health", LockKeyForTask("health"))
}
