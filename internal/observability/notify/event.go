package notify

import (
	"context"
	"time"
)

// Task alert events.
const (
	EventSuccess = "success"
	EventFailure = "failure"
	EventSlow    = "slow"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// SeverityFor maps an alert event to its default severity.
func SeverityFor(event string) string {
	switch event {
	case EventFailure:
		return SeverityCritical
	case EventSlow:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// TaskEventPayload is the canonical record handed to alert sinks when a
// task run finishes (or finishes slowly).
type TaskEventPayload struct {
	Task       string
	RunID      string
	Event      string
	Error      string
	ErrorClass string
	Severity   string
	Duration   time.Duration
	Counters   map[string]float64
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming task event notifications.
type Sink interface {
	SendTaskEvent(ctx context.Context, payload TaskEventPayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload TaskEventPayload) error

// SendTaskEvent implements the Sink interface.
func (f SinkFunc) SendTaskEvent(ctx context.Context, payload TaskEventPayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
