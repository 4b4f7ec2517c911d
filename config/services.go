package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the admin API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the cron tick loop.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeRunner runs the task execution worker pool.
	ServiceModeRunner ServiceMode = "runner"
	// ServiceModeReaper runs the stale-run reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
		ServiceModeRunner,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP,
			ServiceModeScheduler,
			ServiceModeRunner,
			ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler, runner, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// Scheduler operating modes.
const (
	// SchedulerModeDynamic drives fires from the Redis registry.
	SchedulerModeDynamic = "dynamic"
	// SchedulerModeStatic marks a deployment whose schedule set is fixed
	// at boot; the admin surface reports it so operators know edits will
	// not take effect.
	SchedulerModeStatic = "static"
)

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1s"`

	// Mode selects dynamic (registry-driven) or static scheduling.
	Mode string `env:"SCHEDULER_MODE" envDefault:"dynamic"`

	// SeedCatalog controls whether the factory catalog is seeded into the
	// registry on startup when the registry is empty.
	SeedCatalog bool `env:"SCHEDULER_SEED_ON_START" envDefault:"true"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	// Sub-100ms ticks hammer the registry scan for no scheduling benefit.
	if s.Interval < 100*time.Millisecond {
		s.Interval = time.Second
	}
	s.Mode = strings.ToLower(strings.TrimSpace(s.Mode))
	if s.Mode != SchedulerModeStatic {
		s.Mode = SchedulerModeDynamic
	}
}

// RunnerConfig contains task runner service configuration.
type RunnerConfig struct {
	// Queues lists the dispatch queues to drain, highest priority first.
	Queues []string `env:"RUNNER_QUEUES" envDefault:"celery" envSeparator:","`

	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"RUNNER_CONCURRENCY" envDefault:"4"`

	// PopTimeout bounds each blocking queue pop so workers notice shutdown.
	PopTimeout time.Duration `env:"RUNNER_POP_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.PopTimeout < time.Second {
		r.PopTimeout = time.Second
	}

	queues := make([]string, 0, len(r.Queues))
	for _, q := range r.Queues {
		if q = strings.TrimSpace(q); q != "" {
			queues = append(queues, q)
		}
	}
	r.Queues = queues
}

// ReaperConfig contains stale-run reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper sweep interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// DefaultTimeout is assumed for runs whose schedule metadata carries
	// no timeout of its own.
	DefaultTimeout time.Duration `env:"REAPER_DEFAULT_TIMEOUT" envDefault:"5m"`

	// Grace is added on top of a run's timeout before it is declared lost.
	Grace time.Duration `env:"REAPER_GRACE" envDefault:"120s"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.DefaultTimeout < time.Minute {
		r.DefaultTimeout = time.Minute
	}
	if r.Grace < 0 {
		r.Grace = 0
	}
}
