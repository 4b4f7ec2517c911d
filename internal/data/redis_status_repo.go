package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantmatrix/taskplane/internal/domain/model"
)

const statusKeySuffix = ":last"

func statusKey(taskName string) string { return "taskstatus:" + taskName + statusKeySuffix }

// TaskStatusRepo stores the last-status blob per task name. Single writer
// per task (the runner), many readers (admin API, operators).
type TaskStatusRepo struct {
	client redis.UniversalClient
}

// NewTaskStatusRepo creates a status repo on the given client.
func NewTaskStatusRepo(client redis.UniversalClient) *TaskStatusRepo {
	return &TaskStatusRepo{client: client}
}

// Publish overwrites the last-status blob for the task.
func (r *TaskStatusRepo) Publish(ctx context.Context, status model.TaskStatus) error {
	if status.Task == "" {
		return errors.New("task cannot be empty")
	}
	b, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal task status %q: %w", status.Task, err)
	}
	if err := r.client.Set(ctx, statusKey(status.Task), b, 0).Err(); err != nil {
		return fmt.Errorf("status publish %q: %w", status.Task, err)
	}
	return nil
}

// Get fetches the last-status blob or ErrStatusNotFound.
func (r *TaskStatusRepo) Get(ctx context.Context, taskName string) (*model.TaskStatus, error) {
	if taskName == "" {
		return nil, errors.New("task name cannot be empty")
	}
	raw, err := r.client.Get(ctx, statusKey(taskName)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("status get %q: %w", taskName, err)
	}
	var status model.TaskStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("unmarshal task status %q: %w", taskName, err)
	}
	return &status, nil
}
