package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantmatrix/taskplane/internal/data"
)

// SeederOptions configures the catalog seeder.
type SeederOptions struct {
	Registry     *data.ScheduleRegistryRepo
	Metadata     *data.ScheduleMetadataRepo
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// Seeder writes the factory catalog into an empty registry. Seeding is
// one-shot: once the seed marker is set, boot-time seeding never fires
// again, even if every schedule is later deleted.
type Seeder struct {
	registry *data.ScheduleRegistryRepo
	metadata *data.ScheduleMetadataRepo
	clock    data.TimeProvider
	logger   *slog.Logger
}

// NewSeeder creates a Seeder from options.
func NewSeeder(opts SeederOptions) *Seeder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	return &Seeder{
		registry: opts.Registry,
		metadata: opts.Metadata,
		clock:    clock,
		logger:   logger,
	}
}

// SeedIfEmpty is the boot path: seeds the factory catalog only when the
// registry holds no active entries and the seed marker is absent.
// Returns the number of entries written; zero means seeding was skipped.
func (s *Seeder) SeedIfEmpty(ctx context.Context) (int, error) {
	seeded, err := s.registry.Seeded(ctx)
	if err != nil {
		return 0, err
	}
	if seeded {
		s.logger.DebugContext(ctx, "catalog seed skipped: marker present")
		return 0, nil
	}
	count, err := s.registry.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.DebugContext(ctx, "catalog seed skipped: registry not empty",
			slog.Int("entries", count))
		return 0, nil
	}
	return s.write(ctx)
}

// Seed is the operator path. It refuses a non-empty registry unless
// force is set; force also overwrites colliding entries.
func (s *Seeder) Seed(ctx context.Context, force bool) (int, error) {
	count, err := s.registry.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 && !force {
		return 0, fmt.Errorf("registry holds %d entries; re-run with force to overwrite", count)
	}
	return s.write(ctx)
}

func (s *Seeder) write(ctx context.Context) (int, error) {
	now := s.clock.Now()
	written := 0
	var failed int
	for _, item := range Items() {
		entry := item.Entry()
		if err := entry.Validate(); err != nil {
			// A broken catalog item is a programming error; skip and count.
			s.logger.ErrorContext(ctx, "catalog item invalid",
				slog.String("name", item.Name), slog.Any("error", err))
			failed++
			continue
		}
		meta := item.Metadata()
		meta.Audit.CreatedAt = now
		meta.Audit.CreatedBy = SeedActor
		meta.Audit.UpdatedAt = now
		meta.Audit.UpdatedBy = SeedActor

		if err := s.registry.Put(ctx, entry); err != nil {
			s.logger.ErrorContext(ctx, "catalog seed entry failed",
				slog.String("name", item.Name), slog.Any("error", err))
			failed++
			continue
		}
		if err := s.metadata.Save(ctx, item.Name, meta); err != nil {
			s.logger.ErrorContext(ctx, "catalog seed metadata failed",
				slog.String("name", item.Name), slog.Any("error", err))
			failed++
			continue
		}
		written++
	}
	if err := s.registry.MarkSeeded(ctx); err != nil {
		return written, err
	}
	s.logger.InfoContext(ctx, "catalog seeded",
		slog.Int("written", written), slog.Int("failed", failed))
	if failed > 0 {
		return written, errors.New("some catalog items failed to seed")
	}
	return written, nil
}
