package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/domain/model"
	apperrors "github.com/quantmatrix/taskplane/internal/errors"
	"github.com/quantmatrix/taskplane/internal/testutil"
)

type scheduleFixture struct {
	svc      *ScheduleService
	registry *data.ScheduleRegistryRepo
	metadata *data.ScheduleMetadataRepo
	queue    *data.DispatchQueueRepo
	clock    *data.FixedTimeProvider
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	t.Helper()
	_, client := testutil.SetupTestRedis(t)
	registry := data.NewScheduleRegistryRepo(client)
	metadata := data.NewScheduleMetadataRepo(client)
	queue := data.NewDispatchQueueRepo(client)
	clock := data.NewFixedTimeProvider(testutil.TestTime())
	return &scheduleFixture{
		svc: NewScheduleService(ScheduleServiceOptions{
			Registry:     registry,
			Metadata:     metadata,
			Queue:        queue,
			TimeProvider: clock,
		}),
		registry: registry,
		metadata: metadata,
		queue:    queue,
		clock:    clock,
	}
}

func TestScheduleService_Create(t *testing.T) {
	ctx := context.Background()
	fx := newScheduleFixture(t)

	req := CreateScheduleRequest{
		Name: "eod_prices_refresh",
		Task: "quantmatrix.tasks.marketdata.eod_prices_refresh",
		Cron: "30 21 * * 1-5",
	}

	t.Run("creates entry with audit-stamped metadata", func(t *testing.T) {
		entry, err := fx.svc.Create(ctx, req, "admin@quantmatrix.io")
		require.NoError(t, err)
		assert.Equal(t, "UTC", entry.Timezone)
		assert.True(t, entry.Enabled)

		meta, err := fx.metadata.Load(ctx, "eod_prices_refresh")
		require.NoError(t, err)
		assert.Equal(t, "admin@quantmatrix.io", meta.Audit.CreatedBy)
		assert.Equal(t, testutil.TestTime(), meta.Audit.CreatedAt)
		assert.True(t, meta.Safety.Singleflight)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		_, err := fx.svc.Create(ctx, req, "admin@quantmatrix.io")
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("paused name also conflicts", func(t *testing.T) {
		require.NoError(t, fx.svc.Pause(ctx, "eod_prices_refresh", "admin@quantmatrix.io"))
		_, err := fx.svc.Create(ctx, req, "admin@quantmatrix.io")
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("bad cron rejected", func(t *testing.T) {
		bad := req
		bad.Name = "bad"
		bad.Cron = "99 * * * *"
		_, err := fx.svc.Create(ctx, bad, "admin@quantmatrix.io")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("bad timezone rejected", func(t *testing.T) {
		bad := req
		bad.Name = "bad"
		bad.Timezone = "Mars/Olympus"
		_, err := fx.svc.Create(ctx, bad, "admin@quantmatrix.io")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestScheduleService_Update(t *testing.T) {
	ctx := context.Background()
	fx := newScheduleFixture(t)

	_, err := fx.svc.Create(ctx, CreateScheduleRequest{
		Name: "health", Task: "quantmatrix.tasks.monitoring.health", Cron: "*/5 * * * *",
	}, "seed")
	require.NoError(t, err)

	t.Run("cron required", func(t *testing.T) {
		_, err := fx.svc.Update(ctx, "health", UpdateScheduleRequest{}, "admin")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Equal(t, "cron", apperrors.GetField(err))
	})

	t.Run("unknown schedule", func(t *testing.T) {
		_, err := fx.svc.Update(ctx, "ghost", UpdateScheduleRequest{Cron: "0 * * * *"}, "admin")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("cron and metadata patch applied", func(t *testing.T) {
		fx.clock.AddTime(time.Hour)
		entry, err := fx.svc.Update(ctx, "health", UpdateScheduleRequest{
			Cron:     "*/10 * * * *",
			Metadata: &model.MetadataPatch{Queue: testutil.StringPtr("critical")},
		}, "admin@quantmatrix.io")
		require.NoError(t, err)
		assert.Equal(t, "*/10 * * * *", entry.Cron)

		meta, err := fx.metadata.Load(ctx, "health")
		require.NoError(t, err)
		assert.Equal(t, "critical", meta.Queue)
		assert.Equal(t, "admin@quantmatrix.io", meta.Audit.UpdatedBy)
		assert.Equal(t, "seed", meta.Audit.CreatedBy)
		assert.True(t, meta.Audit.UpdatedAt.After(meta.Audit.CreatedAt))
	})

	t.Run("task path survives the recreate", func(t *testing.T) {
		got, err := fx.registry.Get(ctx, "health")
		require.NoError(t, err)
		assert.Equal(t, "quantmatrix.tasks.monitoring.health", got.Task)
	})
}

func TestScheduleService_PauseResume(t *testing.T) {
	ctx := context.Background()
	fx := newScheduleFixture(t)

	_, err := fx.svc.Create(ctx, CreateScheduleRequest{
		Name: "account_sync", Task: "quantmatrix.tasks.portfolio.account_sync", Cron: "15 * * * *",
	}, "seed")
	require.NoError(t, err)

	t.Run("pause snapshots entry and metadata", func(t *testing.T) {
		require.NoError(t, fx.svc.Pause(ctx, "account_sync", "ops@quantmatrix.io"))

		_, err := fx.registry.Get(ctx, "account_sync")
		assert.ErrorIs(t, err, data.ErrScheduleNotFound)

		payload, err := fx.registry.GetPaused(ctx, "account_sync")
		require.NoError(t, err)
		assert.Equal(t, "15 * * * *", payload.Entry.Cron)
		assert.Equal(t, "ops@quantmatrix.io", payload.PausedBy)
		require.NotNil(t, payload.Metadata)
	})

	t.Run("pause of inactive schedule is 404", func(t *testing.T) {
		err := fx.svc.Pause(ctx, "account_sync", "ops")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("resume with cron override", func(t *testing.T) {
		err := fx.svc.Resume(ctx, "account_sync", ResumeScheduleRequest{Cron: "45 * * * *"}, "ops@quantmatrix.io")
		require.NoError(t, err)

		entry, err := fx.registry.Get(ctx, "account_sync")
		require.NoError(t, err)
		assert.Equal(t, "45 * * * *", entry.Cron)

		_, err = fx.registry.GetPaused(ctx, "account_sync")
		assert.ErrorIs(t, err, data.ErrPausedNotFound)
	})

	t.Run("resume without snapshot is 404", func(t *testing.T) {
		err := fx.svc.Resume(ctx, "account_sync", ResumeScheduleRequest{}, "ops")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("resume with invalid override keeps the snapshot", func(t *testing.T) {
		require.NoError(t, fx.svc.Pause(ctx, "account_sync", "ops"))
		err := fx.svc.Resume(ctx, "account_sync", ResumeScheduleRequest{Cron: "not a cron"}, "ops")
		require.Error(t, err)

		_, err = fx.registry.GetPaused(ctx, "account_sync")
		require.NoError(t, err)
	})
}

func TestScheduleService_ResumeRestoresSnapshotUnmodified(t *testing.T) {
	ctx := context.Background()
	fx := newScheduleFixture(t)

	_, err := fx.svc.Create(ctx, CreateScheduleRequest{
		Name: "signals_eval", Task: "quantmatrix.tasks.signals.evaluate", Cron: "*/10 * * * *",
	}, "admin@quantmatrix.io")
	require.NoError(t, err)

	before, err := fx.registry.Get(ctx, "signals_eval")
	require.NoError(t, err)
	metaBefore, err := fx.metadata.Load(ctx, "signals_eval")
	require.NoError(t, err)

	// Pause and resume an hour apart with no overrides: the round trip is
	// a reconstitution, not an edit, so entry and metadata come back
	// identical, audit fields included.
	fx.clock.AddTime(time.Hour)
	require.NoError(t, fx.svc.Pause(ctx, "signals_eval", "ops@quantmatrix.io"))
	fx.clock.AddTime(time.Hour)
	require.NoError(t, fx.svc.Resume(ctx, "signals_eval", ResumeScheduleRequest{}, "ops@quantmatrix.io"))

	after, err := fx.registry.Get(ctx, "signals_eval")
	require.NoError(t, err)
	metaAfter, err := fx.metadata.Load(ctx, "signals_eval")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, metaBefore, metaAfter)

	// An explicit cron override is an edit and stamps update-audit.
	require.NoError(t, fx.svc.Pause(ctx, "signals_eval", "ops@quantmatrix.io"))
	fx.clock.AddTime(time.Hour)
	require.NoError(t, fx.svc.Resume(ctx, "signals_eval", ResumeScheduleRequest{Cron: "*/20 * * * *"}, "ops@quantmatrix.io"))

	metaEdited, err := fx.metadata.Load(ctx, "signals_eval")
	require.NoError(t, err)
	assert.Equal(t, fx.clock.Now().UTC(), metaEdited.Audit.UpdatedAt)
	assert.Equal(t, "ops@quantmatrix.io", metaEdited.Audit.UpdatedBy)
}

func TestScheduleService_Delete(t *testing.T) {
	ctx := context.Background()
	fx := newScheduleFixture(t)

	_, err := fx.svc.Create(ctx, CreateScheduleRequest{
		Name: "signals_scan", Task: "quantmatrix.tasks.signals.scan", Cron: "0 * * * *",
	}, "seed")
	require.NoError(t, err)

	t.Run("removes entry and metadata", func(t *testing.T) {
		deleted, err := fx.svc.Delete(ctx, "signals_scan")
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = fx.registry.Get(ctx, "signals_scan")
		assert.ErrorIs(t, err, data.ErrScheduleNotFound)
		_, err = fx.metadata.Load(ctx, "signals_scan")
		assert.ErrorIs(t, err, data.ErrMetadataNotFound)
	})

	t.Run("idempotent", func(t *testing.T) {
		deleted, err := fx.svc.Delete(ctx, "signals_scan")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("reaches paused snapshots", func(t *testing.T) {
		_, err := fx.svc.Create(ctx, CreateScheduleRequest{
			Name: "signals_scan", Task: "quantmatrix.tasks.signals.scan", Cron: "0 * * * *",
		}, "seed")
		require.NoError(t, err)
		require.NoError(t, fx.svc.Pause(ctx, "signals_scan", "ops"))

		deleted, err := fx.svc.Delete(ctx, "signals_scan")
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = fx.registry.GetPaused(ctx, "signals_scan")
		assert.ErrorIs(t, err, data.ErrPausedNotFound)
	})
}

func TestScheduleService_ExportImport(t *testing.T) {
	ctx := context.Background()
	fx := newScheduleFixture(t)

	for _, name := range []string{"alpha", "beta"} {
		_, err := fx.svc.Create(ctx, CreateScheduleRequest{
			Name: name, Task: "quantmatrix.tasks.monitoring." + name, Cron: "0 * * * *",
		}, "seed")
		require.NoError(t, err)
	}

	exported, err := fx.svc.Export(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 2)
	assert.Equal(t, "alpha", exported[0].Name)
	require.NotNil(t, exported[0].Metadata)

	t.Run("round trip into a fresh registry", func(t *testing.T) {
		other := newScheduleFixture(t)
		created, failed, err := other.svc.Import(ctx, exported, "migrator")
		require.NoError(t, err)
		assert.Equal(t, 2, created)
		assert.Zero(t, failed)

		entry, err := other.registry.Get(ctx, "beta")
		require.NoError(t, err)
		assert.Equal(t, "quantmatrix.tasks.monitoring.beta", entry.Task)
	})

	t.Run("invalid items counted, batch continues", func(t *testing.T) {
		other := newScheduleFixture(t)
		batch := append([]ExportedSchedule{{Name: "broken", Task: "x", Cron: "whenever"}}, exported...)
		created, failed, err := other.svc.Import(ctx, batch, "migrator")
		require.NoError(t, err)
		assert.Equal(t, 2, created)
		assert.Equal(t, 1, failed)
	})
}

func TestScheduleService_RunNow(t *testing.T) {
	ctx := context.Background()
	fx := newScheduleFixture(t)

	t.Run("task required", func(t *testing.T) {
		_, err := fx.svc.RunNow(ctx, "", nil, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("enqueues one-off without metadata snapshot", func(t *testing.T) {
		id, err := fx.svc.RunNow(ctx, "quantmatrix.tasks.monitoring.health", nil, map[string]any{"deep": true})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		msg, err := fx.queue.Pop(ctx, []string{data.DefaultQueue}, time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, "quantmatrix.tasks.monitoring.health", msg.Task)
		assert.Nil(t, msg.Options.Headers.ScheduleMetadata)

		// One-off dispatches fall back to the default hook policy.
		meta := msg.Metadata()
		assert.Equal(t, []string{"system_status"}, meta.Hooks.DiscordChannels)
	})
}

func TestScheduleService_Preview(t *testing.T) {
	fx := newScheduleFixture(t)

	t.Run("returns upcoming fires in UTC", func(t *testing.T) {
		fires, err := fx.svc.Preview("0 12 * * *", "UTC", 3)
		require.NoError(t, err)
		require.Len(t, fires, 3)
		// Clock is fixed at 2026-01-01 12:00 UTC; next fire is tomorrow noon.
		assert.Equal(t, time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC), fires[0])
	})

	t.Run("count clamped", func(t *testing.T) {
		fires, err := fx.svc.Preview("* * * * *", "UTC", 500)
		require.NoError(t, err)
		assert.Len(t, fires, 50)
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := fx.svc.Preview("not a cron", "UTC", 3)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestScheduleService_List(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	_, client := testutil.SetupTestRedis(t)

	registry := data.NewScheduleRegistryRepo(client)
	metadata := data.NewScheduleMetadataRepo(client)
	runs := data.NewRunRepo(db, data.RunRepoConfig{})
	svc := NewScheduleService(ScheduleServiceOptions{
		Registry:     registry,
		Metadata:     metadata,
		Runs:         runs,
		Queue:        data.NewDispatchQueueRepo(client),
		TimeProvider: data.NewFixedTimeProvider(testutil.TestTime()),
	})

	_, err := svc.Create(ctx, CreateScheduleRequest{
		Name: "health", Task: "quantmatrix.tasks.monitoring.health", Cron: "*/5 * * * *",
	}, "seed")
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateScheduleRequest{
		Name: "account_sync", Task: "quantmatrix.tasks.portfolio.account_sync", Cron: "15 * * * *",
	}, "seed")
	require.NoError(t, err)
	require.NoError(t, svc.Pause(ctx, "account_sync", "ops"))

	run, err := runs.Create(ctx, "health", map[string]any{"deep": false})
	require.NoError(t, err)
	require.NoError(t, runs.Finish(ctx, run.ID, model.RunStatusOK, map[string]float64{"ok": 1}, nil))

	views, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)

	byName := make(map[string]ScheduleView, len(views))
	for _, v := range views {
		byName[v.Entry.Name] = v
	}
	require.Contains(t, byName, "health")
	require.Contains(t, byName, "account_sync")

	assert.Equal(t, ScheduleStatusActive, byName["health"].Status)
	require.NotNil(t, byName["health"].LastRun)
	assert.Equal(t, model.RunStatusOK, byName["health"].LastRun.Status)

	assert.Equal(t, ScheduleStatusPaused, byName["account_sync"].Status)
	assert.Nil(t, byName["account_sync"].LastRun)
}
