package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrPausedNotFound   = errors.New("paused schedule not found")
	ErrMetadataNotFound = errors.New("schedule metadata not found")
	ErrRunNotFound      = errors.New("job run not found")
	ErrRunNotRunning    = errors.New("job run is not in running status")
	ErrStatusNotFound   = errors.New("task status not found")
)
