// Package service provides the business logic of the taskplane scheduler:
// schedule administration, the tick pipeline, the task run protocol, alert
// routing, and stale-run reaping.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Preflight check names accepted in schedule metadata.
const (
	PreflightRedis    = "redis"
	PreflightPostgres = "postgres"
)

// HealthChecker is any store that can report its own liveness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// PreflightService evaluates named readiness probes before dispatch.
type PreflightService struct {
	checks map[string]HealthChecker
	logger *slog.Logger
}

// PreflightServiceOptions holds the dependencies for a PreflightService.
type PreflightServiceOptions struct {
	Redis    HealthChecker
	Postgres HealthChecker
	Logger   *slog.Logger
}

// NewPreflightService wires the well-known checks.
func NewPreflightService(opts PreflightServiceOptions) *PreflightService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checks := make(map[string]HealthChecker)
	if opts.Redis != nil {
		checks[PreflightRedis] = opts.Redis
	}
	if opts.Postgres != nil {
		checks[PreflightPostgres] = opts.Postgres
	}
	return &PreflightService{checks: checks, logger: logger}
}

// Register adds or replaces a named check.
func (s *PreflightService) Register(name string, check HealthChecker) {
	s.checks[name] = check
}

// Known returns the registered check names, sorted.
func (s *PreflightService) Known() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run evaluates the named checks in order and returns the first failure.
// An unknown check name fails closed: dispatch must not proceed on a probe
// that cannot be evaluated.
func (s *PreflightService) Run(ctx context.Context, names []string) error {
	for _, name := range names {
		check, ok := s.checks[name]
		if !ok {
			return fmt.Errorf("unknown preflight check %q", name)
		}
		if err := check.Health(ctx); err != nil {
			return fmt.Errorf("preflight %s: %w", name, err)
		}
	}
	return nil
}
