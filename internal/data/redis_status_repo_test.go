package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmatrix/taskplane/internal/domain/model"
	"github.com/quantmatrix/taskplane/internal/testutil"
)

func TestTaskStatusRepo(t *testing.T) {
	_, client := testutil.SetupTestRedis(t)
	repo := NewTaskStatusRepo(client)
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, "health")
		assert.ErrorIs(t, err, ErrStatusNotFound)
	})

	t.Run("publish and get", func(t *testing.T) {
		status := model.TaskStatus{
			Task:    "health",
			Status:  model.RunStatusRunning,
			TS:      time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
			Payload: map[string]any{"id": "run-1"},
		}
		require.NoError(t, repo.Publish(ctx, status))

		got, err := repo.Get(ctx, "health")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, got.Status)
		assert.Equal(t, "run-1", got.Payload["id"])

		// Stored under the last-status key layout.
		exists, err := client.Exists(ctx, "taskstatus:health:last").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)
	})

	t.Run("publish overwrites", func(t *testing.T) {
		require.NoError(t, repo.Publish(ctx, model.TaskStatus{
			Task:   "health",
			Status: model.RunStatusOK,
			TS:     time.Date(2026, 2, 1, 9, 1, 0, 0, time.UTC),
		}))

		got, err := repo.Get(ctx, "health")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusOK, got.Status)
	})

	t.Run("empty task rejected", func(t *testing.T) {
		assert.Error(t, repo.Publish(ctx, model.TaskStatus{}))
		_, err := repo.Get(ctx, "")
		assert.Error(t, err)
	})
}
