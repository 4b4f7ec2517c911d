package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/quantmatrix/taskplane/internal/domain/model"
)

// Key layout for the schedule registry.
const (
	regKeyPrefix    = "reg:"
	regKeySuffix    = ":task"
	pausedKeyPrefix = "paused:"
	seedMarkerKey   = "catalog:seeded"

	scanBatchSize = 100
)

func regKey(name string) string    { return regKeyPrefix + name + regKeySuffix }
func pausedKey(name string) string { return pausedKeyPrefix + name }

// ScheduleRegistryRepo persists ScheduleEntry records in Redis, active
// entries under reg:{name}:task and paused snapshots under paused:{name}.
type ScheduleRegistryRepo struct {
	client redis.UniversalClient
}

// NewScheduleRegistryRepo creates a registry repo on the given client.
func NewScheduleRegistryRepo(client redis.UniversalClient) *ScheduleRegistryRepo {
	return &ScheduleRegistryRepo{client: client}
}

// Put upserts an active entry. Overwrites any existing entry with the name.
func (r *ScheduleRegistryRepo) Put(ctx context.Context, entry model.ScheduleEntry) error {
	if entry.Name == "" {
		return errors.New("entry name cannot be empty")
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal schedule %q: %w", entry.Name, err)
	}
	if err := r.client.Set(ctx, regKey(entry.Name), b, 0).Err(); err != nil {
		return fmt.Errorf("registry put %q: %w", entry.Name, err)
	}
	return nil
}

// Get fetches an active entry or ErrScheduleNotFound.
func (r *ScheduleRegistryRepo) Get(ctx context.Context, name string) (*model.ScheduleEntry, error) {
	if name == "" {
		return nil, errors.New("name cannot be empty")
	}
	raw, err := r.client.Get(ctx, regKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("registry get %q: %w", name, err)
	}
	var entry model.ScheduleEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal schedule %q: %w", name, err)
	}
	return &entry, nil
}

// Delete removes an active entry. Idempotent; reports whether a key existed.
func (r *ScheduleRegistryRepo) Delete(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, errors.New("name cannot be empty")
	}
	n, err := r.client.Del(ctx, regKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("registry delete %q: %w", name, err)
	}
	return n > 0, nil
}

// Scan enumerates all active entries via cursor SCAN, sorted by name.
func (r *ScheduleRegistryRepo) Scan(ctx context.Context) ([]model.ScheduleEntry, error) {
	keys, err := r.scanKeys(ctx, regKeyPrefix+"*"+regKeySuffix)
	if err != nil {
		return nil, err
	}
	entries := make([]model.ScheduleEntry, 0, len(keys))
	for _, key := range keys {
		raw, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("registry scan read %q: %w", key, err)
		}
		var entry model.ScheduleEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal schedule at %q: %w", key, err)
		}
		entries = append(entries, entry)
	}
	sortEntriesByName(entries)
	return entries, nil
}

// Count returns the number of active entries.
func (r *ScheduleRegistryRepo) Count(ctx context.Context) (int, error) {
	keys, err := r.scanKeys(ctx, regKeyPrefix+"*"+regKeySuffix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// PutPaused writes the paused snapshot for a schedule.
func (r *ScheduleRegistryRepo) PutPaused(ctx context.Context, name string, payload model.PausedPayload) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal paused %q: %w", name, err)
	}
	if err := r.client.Set(ctx, pausedKey(name), b, 0).Err(); err != nil {
		return fmt.Errorf("paused put %q: %w", name, err)
	}
	return nil
}

// GetPaused fetches the paused snapshot or ErrPausedNotFound.
func (r *ScheduleRegistryRepo) GetPaused(ctx context.Context, name string) (*model.PausedPayload, error) {
	if name == "" {
		return nil, errors.New("name cannot be empty")
	}
	raw, err := r.client.Get(ctx, pausedKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPausedNotFound
		}
		return nil, fmt.Errorf("paused get %q: %w", name, err)
	}
	var payload model.PausedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal paused %q: %w", name, err)
	}
	return &payload, nil
}

// DeletePaused removes the paused snapshot. Idempotent.
func (r *ScheduleRegistryRepo) DeletePaused(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, errors.New("name cannot be empty")
	}
	n, err := r.client.Del(ctx, pausedKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("paused delete %q: %w", name, err)
	}
	return n > 0, nil
}

// ScanPaused enumerates all paused snapshots, sorted by entry name.
func (r *ScheduleRegistryRepo) ScanPaused(ctx context.Context) ([]model.PausedPayload, error) {
	keys, err := r.scanKeys(ctx, pausedKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	payloads := make([]model.PausedPayload, 0, len(keys))
	for _, key := range keys {
		raw, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("paused scan read %q: %w", key, err)
		}
		var payload model.PausedPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("unmarshal paused at %q: %w", key, err)
		}
		payloads = append(payloads, payload)
	}
	sortPausedByName(payloads)
	return payloads, nil
}

// Seeded reports whether the catalog seed marker is set.
func (r *ScheduleRegistryRepo) Seeded(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, seedMarkerKey).Result()
	if err != nil {
		return false, fmt.Errorf("seed marker check: %w", err)
	}
	return n > 0, nil
}

// MarkSeeded sets the catalog seed marker.
func (r *ScheduleRegistryRepo) MarkSeeded(ctx context.Context) error {
	if err := r.client.Set(ctx, seedMarkerKey, "1", 0).Err(); err != nil {
		return fmt.Errorf("seed marker set: %w", err)
	}
	return nil
}

// ClearSeedMarker removes the catalog seed marker (operator re-seed path).
func (r *ScheduleRegistryRepo) ClearSeedMarker(ctx context.Context) error {
	if err := r.client.Del(ctx, seedMarkerKey).Err(); err != nil {
		return fmt.Errorf("seed marker clear: %w", err)
	}
	return nil
}

// Health checks the Redis connection.
func (r *ScheduleRegistryRepo) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *ScheduleRegistryRepo) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %q: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// EntryNameFromKey reduces a registry key back to its schedule name.
func EntryNameFromKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, regKeyPrefix), regKeySuffix)
}

func sortEntriesByName(entries []model.ScheduleEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

func sortPausedByName(payloads []model.PausedPayload) {
	sort.Slice(payloads, func(i, j int) bool { return payloads[i].Entry.Name < payloads[j].Entry.Name })
}
