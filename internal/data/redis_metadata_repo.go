package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantmatrix/taskplane/internal/domain/model"
)

const metaKeyPrefix = "meta:"

func metaKey(name string) string { return metaKeyPrefix + name }

// ScheduleMetadataRepo stores the per-schedule metadata blob under
// meta:{name}. Lifecycle is bound to the registry entry by the service layer.
type ScheduleMetadataRepo struct {
	client redis.UniversalClient
}

// NewScheduleMetadataRepo creates a metadata repo on the given client.
func NewScheduleMetadataRepo(client redis.UniversalClient) *ScheduleMetadataRepo {
	return &ScheduleMetadataRepo{client: client}
}

// Load fetches the metadata record or ErrMetadataNotFound.
func (r *ScheduleMetadataRepo) Load(ctx context.Context, name string) (*model.ScheduleMetadata, error) {
	if name == "" {
		return nil, errors.New("name cannot be empty")
	}
	raw, err := r.client.Get(ctx, metaKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMetadataNotFound
		}
		return nil, fmt.Errorf("metadata load %q: %w", name, err)
	}
	var meta model.ScheduleMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata %q: %w", name, err)
	}
	return &meta, nil
}

// Save upserts the metadata record. Audit stamping happens in the service.
func (r *ScheduleMetadataRepo) Save(ctx context.Context, name string, meta model.ScheduleMetadata) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata %q: %w", name, err)
	}
	if err := r.client.Set(ctx, metaKey(name), b, 0).Err(); err != nil {
		return fmt.Errorf("metadata save %q: %w", name, err)
	}
	return nil
}

// Delete removes the metadata record. Idempotent.
func (r *ScheduleMetadataRepo) Delete(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, errors.New("name cannot be empty")
	}
	n, err := r.client.Del(ctx, metaKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("metadata delete %q: %w", name, err)
	}
	return n > 0, nil
}
