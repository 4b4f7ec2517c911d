package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantmatrix/taskplane/internal/data/database"
	"github.com/quantmatrix/taskplane/internal/domain/model"
	apperrors "github.com/quantmatrix/taskplane/internal/errors"
)

const runColumnsSQL = `id, task_name, params, status, counters, error, started_at, finished_at`

// RunRepoConfig holds configuration options for the run repository.
type RunRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// RunRepo persists JobRun rows in Postgres. Each row is written exactly
// twice: an insert with status running, then one terminal update.
type RunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRunRepo creates a RunRepo on the given database connection.
func NewRunRepo(db *sql.DB, cfg RunRepoConfig) *RunRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRepo{DB: db, timeProvider: tp, logger: logger}
}

// Create inserts a new run with status running and returns the stored row.
func (r *RunRepo) Create(ctx context.Context, taskName string, params map[string]any) (*model.JobRun, error) {
	if taskName == "" {
		return nil, errors.New("task name cannot be empty")
	}
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal run params: %w", err)
	}

	startedAt := r.timeProvider.Now().UTC()
	run := &model.JobRun{
		TaskName:  taskName,
		Params:    params,
		Status:    model.RunStatusRunning,
		StartedAt: startedAt,
	}
	err = r.DB.QueryRowContext(ctx, `
		INSERT INTO job_runs (task_name, params, status, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		taskName, paramsJSON, model.RunStatusRunning, startedAt,
	).Scan(&run.ID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return run, nil
}

// Finish applies the single terminal transition for a run. Returns
// ErrRunNotRunning when the row already left running, so a double finish
// can never overwrite the first outcome.
func (r *RunRepo) Finish(
	ctx context.Context,
	id int64,
	status model.RunStatus,
	counters map[string]float64,
	errText *string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	var countersJSON any
	if len(counters) > 0 {
		b, err := json.Marshal(counters)
		if err != nil {
			return fmt.Errorf("marshal run counters: %w", err)
		}
		countersJSON = b
	}

	finishedAt := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_runs
		SET status = $2, counters = $3, error = $4, finished_at = $5
		WHERE id = $1 AND status = $6`,
		id, status, countersJSON, errText, finishedAt, model.RunStatusRunning,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	if affected == 0 {
		var exists bool
		if checkErr := r.DB.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM job_runs WHERE id = $1)`, id,
		).Scan(&exists); checkErr != nil {
			return apperrors.MapDBError(checkErr)
		}
		if exists {
			return ErrRunNotRunning
		}
		return ErrRunNotFound
	}
	return nil
}

// Get fetches a run by id or ErrRunNotFound.
func (r *RunRepo) Get(ctx context.Context, id int64) (*model.JobRun, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+runColumnsSQL+` FROM job_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return run, nil
}

// Latest returns the most recent run for a task name, or ErrRunNotFound.
func (r *RunRepo) Latest(ctx context.Context, taskName string) (*model.JobRun, error) {
	if taskName == "" {
		return nil, errors.New("task name cannot be empty")
	}
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+runColumnsSQL+`
		FROM job_runs
		WHERE task_name = $1
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, taskName)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return run, nil
}

// LatestForTasks returns the most recent run per task name for the given
// names. Tasks without runs are absent from the result.
func (r *RunRepo) LatestForTasks(ctx context.Context, taskNames []string) (map[string]*model.JobRun, error) {
	out := make(map[string]*model.JobRun, len(taskNames))
	if len(taskNames) == 0 {
		return out, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT DISTINCT ON (task_name) `+runColumnsSQL+`
		FROM job_runs
		WHERE task_name = ANY($1)
		ORDER BY task_name, started_at DESC, id DESC`, taskNames)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows, r.logger)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan latest run: %w", err)
		}
		out[run.TaskName] = run
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// List returns runs matching the query, newest first.
func (r *RunRepo) List(ctx context.Context, q model.RunQuery) ([]*model.JobRun, error) {
	q.Normalize()

	opts := []database.ListQueryOption{
		database.WithColumns("id", "task_name", "params", "status", "counters", "error", "started_at", "finished_at"),
		database.WithOrderBy("started_at", "DESC"),
		database.WithLimit(q.Limit),
		database.WithOffset(q.Offset),
	}
	if q.TaskName != "" {
		opts = append(opts, database.WithCondition(database.WhereCond("task_name", database.Equal, q.TaskName)))
	}
	if q.Status != "" {
		if !q.Status.Valid() {
			return nil, apperrors.Validationf("invalid status %q", q.Status)
		}
		opts = append(opts, database.WithCondition(database.WhereCond("status", database.Equal, string(q.Status))))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("job_runs", opts...))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows, r.logger)

	var runs []*model.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return runs, nil
}

// SweepStale applies the terminal error transition to runs orphaned by a
// lost worker: status running with started_at older than the run's
// effective timeout (metadata snapshot in params, else defaultTimeout)
// plus grace. Returns the number of reaped rows.
func (r *RunRepo) SweepStale(ctx context.Context, defaultTimeout, grace time.Duration) (int64, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_runs
		SET status = $1, error = $2, finished_at = $3
		WHERE status = $4
		  AND started_at < $3::timestamptz - make_interval(secs =>
		      COALESCE((params #>> '{schedule_metadata,safety,timeout_s}')::double precision, $5) + $6)`,
		model.RunStatusError, "reaped: worker lost", now, model.RunStatusRunning,
		defaultTimeout.Seconds(), grace.Seconds(),
	)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale runs: %w", err)
	}
	return affected, nil
}

// Prune deletes terminal runs that started before the cutoff. Running
// rows are never pruned; the reaper owns those.
func (r *RunRepo) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("prune window must be positive")
	}
	cutoff := r.timeProvider.Now().UTC().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM job_runs
		WHERE status <> $1 AND started_at < $2`,
		model.RunStatusRunning, cutoff,
	)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return affected, nil
}

// Health checks the database connection.
func (r *RunRepo) Health(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.JobRun, error) {
	var (
		run          model.JobRun
		paramsJSON   []byte
		countersJSON []byte
		errText      sql.NullString
		finishedAt   sql.NullTime
	)
	if err := row.Scan(
		&run.ID, &run.TaskName, &paramsJSON, &run.Status,
		&countersJSON, &errText, &run.StartedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
			return nil, fmt.Errorf("unmarshal run %d params: %w", run.ID, err)
		}
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &run.Counters); err != nil {
			return nil, fmt.Errorf("unmarshal run %d counters: %w", run.ID, err)
		}
	}
	if errText.Valid {
		run.Error = &errText.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		run.FinishedAt = &t
	}
	run.StartedAt = run.StartedAt.UTC()
	return &run, nil
}

func closeRows(rows *sql.Rows, logger *slog.Logger) {
	if err := rows.Close(); err != nil {
		logger.Warn("failed to close rows", "err", err)
	}
}
