// Package tasks holds the runner's task registry: the mapping from dotted
// task paths to executable handlers, plus the builtin handlers shipped with
// the factory catalog.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnknownTask is returned when no handler is registered for a task path.
var ErrUnknownTask = errors.New("unknown task")

// Invocation is one task execution request as seen by a handler.
type Invocation struct {
	Task   string
	Args   []any
	Kwargs map[string]any
	Logger *slog.Logger
}

// IntKwarg reads a numeric kwarg, tolerating the types JSON decoding
// produces. Returns def when absent or non-numeric.
func (inv Invocation) IntKwarg(key string, def int) int {
	switch v := inv.Kwargs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Result is what a successful handler reports back: named numeric counters
// persisted onto the JobRun.
type Result struct {
	Counters map[string]float64
}

// Handler executes one task invocation.
type Handler func(ctx context.Context, inv Invocation) (Result, error)

// LockKeyFunc computes a single-flight lock key for an invocation. A nil
// function leaves locking to the schedule's safety settings.
type LockKeyFunc func(inv Invocation) string

// Registration binds a handler with its optional lock-key function.
type Registration struct {
	Handler Handler
	LockKey LockKeyFunc
}

// Registry maps dotted task paths to registrations. Registration happens
// at boot; lookups are concurrent from worker goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Registration)}
}

// Register binds a task path to a registration. Duplicate paths are a
// programming error.
func (r *Registry) Register(task string, reg Registration) error {
	if task == "" {
		return errors.New("task path cannot be empty")
	}
	if reg.Handler == nil {
		return fmt.Errorf("task %q: handler cannot be nil", task)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[task]; exists {
		return fmt.Errorf("task %q already registered", task)
	}
	r.handlers[task] = reg
	return nil
}

// MustRegister is Register that panics; used for boot-time wiring where a
// collision means a broken build.
func (r *Registry) MustRegister(task string, reg Registration) {
	if err := r.Register(task, reg); err != nil {
		panic(err)
	}
}

// Lookup resolves a task path, or ErrUnknownTask.
func (r *Registry) Lookup(task string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[task]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
	return reg, nil
}

// Tasks returns the registered task paths, sorted.
func (r *Registry) Tasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for task := range r.handlers {
		out = append(out, task)
	}
	sort.Strings(out)
	return out
}
