package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/observability/metrics"
	"github.com/quantmatrix/taskplane/internal/observability/statsd"
)

// Reaper defaults applied when options leave them zero.
const (
	DefaultReaperInterval = time.Minute
	DefaultReaperTimeout  = 300 * time.Second
	DefaultReaperGrace    = 60 * time.Second
)

// ReaperServiceOptions holds the dependencies for a ReaperService.
type ReaperServiceOptions struct {
	Runs *data.RunRepo
	// Interval between sweeps.
	Interval time.Duration
	// DefaultTimeout applies to runs whose params carry no safety snapshot.
	DefaultTimeout time.Duration
	// Grace is added on top of a run's timeout before it counts as lost.
	Grace   time.Duration
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// ReaperService periodically fails runs orphaned by lost workers: rows
// stuck in running past their effective timeout plus grace.
type ReaperService struct {
	runs           *data.RunRepo
	interval       time.Duration
	defaultTimeout time.Duration
	grace          time.Duration
	logger         *slog.Logger
	metrics        statsd.Sink
}

// NewReaperService creates a ReaperService from options.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultReaperTimeout
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultReaperGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReaperService{
		runs:           opts.Runs,
		interval:       interval,
		defaultTimeout: timeout,
		grace:          grace,
		logger:         logger.With("component", "reaper_service"),
		metrics:        opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.interval)

	// Jitter prevents a thundering herd when several instances boot together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Sweep runs one sweep and returns the number of reaped runs. Exposed for
// operator tooling; Run calls it on every tick.
func (s *ReaperService) Sweep(ctx context.Context) (int64, error) {
	return s.runs.SweepStale(ctx, s.defaultTimeout, s.grace)
}

func (s *ReaperService) sweep(ctx context.Context) {
	swept, err := s.Sweep(ctx)
	metrics.EmitReaperSweep(s.metrics, swept, suppressCancellation(err))
	switch {
	case isCancellation(err):
		s.logger.DebugContext(ctx, "sweep cancelled by context", "error", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "sweep failed", "error", err)
	case swept > 0:
		s.logger.InfoContext(ctx, "reaped lost runs",
			"count", swept,
			"default_timeout", s.defaultTimeout,
			"grace", s.grace)
	}
}

// waitWithJitter delays up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressCancellation(err error) error {
	if isCancellation(err) {
		return nil
	}
	return err
}
