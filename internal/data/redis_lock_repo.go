package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockKeyForTask returns the default single-flight lock key for a task name.
func LockKeyForTask(taskName string) string { return "lock:task:" + taskName }

// TaskLockRepo implements single-flight locks as Redis keys with TTL.
// A lock is created at runner entry and deleted on exit; the TTL bounds the
// hold time when a worker dies mid-run.
type TaskLockRepo struct {
	client redis.UniversalClient
}

// NewTaskLockRepo creates a lock repo on the given client.
func NewTaskLockRepo(client redis.UniversalClient) *TaskLockRepo {
	return &TaskLockRepo{client: client}
}

// Acquire attempts to take the lock with the given TTL. Returns false when
// the lock is already held.
//
// SETNX plus a separate EXPIRE is not atomic; SET with NX and TTL is, so a
// crash between the two can never leave an unexpiring lock.
func (r *TaskLockRepo) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("lock key cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	status, err := r.client.SetArgs(ctx, key, holder, redis.SetArgs{Mode: "NX", TTL: ttl}).Result()
	if err != nil {
		// NX condition not met: go-redis surfaces the nil reply as redis.Nil.
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("lock acquire %q: %w", key, err)
	}
	return status == "OK", nil
}

// Release deletes the lock key. Reports whether a key was present.
func (r *TaskLockRepo) Release(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("lock key cannot be empty")
	}
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("lock release %q: %w", key, err)
	}
	return n > 0, nil
}

// Held reports whether the lock key currently exists.
func (r *TaskLockRepo) Held(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("lock key cannot be empty")
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("lock check %q: %w", key, err)
	}
	return n > 0, nil
}
