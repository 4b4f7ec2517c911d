package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage marks queue payloads that cannot be decoded. Workers
// drop these instead of treating them as broker failures.
var ErrMalformedMessage = errors.New("malformed task message")

// MessageHeaders carries per-dispatch context for the runner.
type MessageHeaders struct {
	ScheduleMetadata *ScheduleMetadata `json:"schedule_metadata,omitempty"`
}

// MessageOptions routes a dispatch message.
type MessageOptions struct {
	Queue    string         `json:"queue,omitempty"`
	Priority int            `json:"priority,omitempty"`
	Headers  MessageHeaders `json:"headers"`
}

// TaskMessage is the dispatch-queue wire format. Producers LPUSH the JSON
// encoding onto dispatch:{queue}; workers BRPOP it.
type TaskMessage struct {
	ID      string         `json:"id"`
	Task    string         `json:"task"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	Options MessageOptions `json:"options"`
}

// TaskName returns the simple task identifier for the message.
func (m *TaskMessage) TaskName() string {
	return TaskShortName(m.Task)
}

// Metadata returns the schedule metadata snapshot carried in the headers,
// or defaults for one-off dispatches that carry none.
func (m *TaskMessage) Metadata() ScheduleMetadata {
	if m.Options.Headers.ScheduleMetadata != nil {
		return *m.Options.Headers.ScheduleMetadata
	}
	meta := DefaultMetadata()
	meta.Hooks = DefaultHooks()
	return meta
}

// Encode marshals the message for the queue.
func (m *TaskMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode task message: %w", err)
	}
	return b, nil
}

// DecodeTaskMessage parses a queue payload.
func DecodeTaskMessage(b []byte) (*TaskMessage, error) {
	var m TaskMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Task == "" {
		return nil, fmt.Errorf("%w: missing task", ErrMalformedMessage)
	}
	return &m, nil
}
