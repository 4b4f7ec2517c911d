package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantmatrix/taskplane/internal/domain/model"
)

const dispatchKeyPrefix = "dispatch:"

// DefaultQueue receives dispatches that name no queue.
const DefaultQueue = "celery"

// DispatchKey returns the Redis list key for a queue name.
func DispatchKey(queue string) string { return dispatchKeyPrefix + queue }

// DispatchQueueRepo carries task messages from the scheduler and admin API
// to runner workers over Redis lists: LPUSH by producers, BRPOP by workers.
type DispatchQueueRepo struct {
	client redis.UniversalClient
}

// NewDispatchQueueRepo creates a queue repo on the given client.
func NewDispatchQueueRepo(client redis.UniversalClient) *DispatchQueueRepo {
	return &DispatchQueueRepo{client: client}
}

// Push enqueues a message onto dispatch:{queue}.
func (r *DispatchQueueRepo) Push(ctx context.Context, queue string, msg *model.TaskMessage) error {
	if queue == "" {
		return errors.New("queue cannot be empty")
	}
	b, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, DispatchKey(queue), b).Err(); err != nil {
		return fmt.Errorf("dispatch push %q: %w", queue, err)
	}
	return nil
}

// Pop blocks up to timeout for a message on any of the queues. Key order is
// the priority order: BRPOP serves the first non-empty key listed. Returns
// (nil, nil) on timeout.
func (r *DispatchQueueRepo) Pop(ctx context.Context, queues []string, timeout time.Duration) (*model.TaskMessage, error) {
	if len(queues) == 0 {
		return nil, errors.New("at least one queue is required")
	}
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = DispatchKey(q)
	}
	res, err := r.client.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // timeout, nothing queued
		}
		return nil, fmt.Errorf("dispatch pop: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("dispatch pop: unexpected reply length %d", len(res))
	}
	return model.DecodeTaskMessage([]byte(res[1]))
}

// Len returns the depth of a queue.
func (r *DispatchQueueRepo) Len(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		return 0, errors.New("queue cannot be empty")
	}
	n, err := r.client.LLen(ctx, DispatchKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("dispatch len %q: %w", queue, err)
	}
	return n, nil
}
