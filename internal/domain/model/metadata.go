package model

import (
	"fmt"
	"time"
)

// Alert event names accepted in Hooks.AlertOn.
const (
	AlertEventSuccess = "success"
	AlertEventFailure = "failure"
	AlertEventSlow    = "slow"
)

// Safety holds the concurrency and retry guards for a schedule.
type Safety struct {
	Singleflight   bool `json:"singleflight"`
	MaxConcurrency int  `json:"max_concurrency"`
	TimeoutS       int  `json:"timeout_s"`
	Retries        int  `json:"retries"`
	BackoffS       int  `json:"backoff_s"`
}

// DefaultSafety returns the safety guards applied when a schedule carries none.
func DefaultSafety() Safety {
	return Safety{
		Singleflight:   true,
		MaxConcurrency: 1,
		TimeoutS:       300,
		Retries:        0,
		BackoffS:       0,
	}
}

// Hooks configures alert routing for a schedule's run outcomes.
type Hooks struct {
	DiscordWebhook     string   `json:"discord_webhook,omitempty"`
	DiscordChannels    []string `json:"discord_channels,omitempty"`
	DiscordMentions    []string `json:"discord_mentions,omitempty"`
	PrometheusEndpoint string   `json:"prometheus_endpoint,omitempty"`
	AlertOn            []string `json:"alert_on,omitempty"`
	SlowThresholdS     int      `json:"slow_threshold_s,omitempty"`
	PayloadFilter      string   `json:"payload_filter,omitempty"`
}

// WantsAlert reports whether the hooks opt in to the named event.
func (h Hooks) WantsAlert(event string) bool {
	for _, e := range h.AlertOn {
		if e == event {
			return true
		}
	}
	return false
}

// DefaultHooks are used for dispatches that carry no metadata snapshot
// (run-now one-offs): failures page the system channel, nothing else.
func DefaultHooks() Hooks {
	return Hooks{
		DiscordChannels: []string{"system_status"},
		AlertOn:         []string{AlertEventFailure},
	}
}

// MaintenanceWindow is a wall-clock interval during which fires are suppressed.
// Start and End are ISO-8601 timestamps interpreted in Timezone.
type MaintenanceWindow struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// Bounds resolves the window to concrete instants. The zone defaults to UTC.
func (w MaintenanceWindow) Bounds() (start, end time.Time, err error) {
	zone := w.Timezone
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("maintenance window timezone %q: %w", w.Timezone, err)
	}
	start, err = time.ParseInLocation("2006-01-02T15:04:05", w.Start, loc)
	if err != nil {
		// Tolerate full RFC3339 stamps as well.
		start, err = time.Parse(time.RFC3339, w.Start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("maintenance window start %q: %w", w.Start, err)
		}
	}
	end, err = time.ParseInLocation("2006-01-02T15:04:05", w.End, loc)
	if err != nil {
		end, err = time.Parse(time.RFC3339, w.End)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("maintenance window end %q: %w", w.End, err)
		}
	}
	return start, end, nil
}

// Contains reports whether t falls inside the window. Malformed windows
// never match; validation happens at admin write time.
func (w MaintenanceWindow) Contains(t time.Time) bool {
	start, end, err := w.Bounds()
	if err != nil {
		return false
	}
	return !t.Before(start) && t.Before(end)
}

// Audit records who created and last touched a metadata record.
type Audit struct {
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// ScheduleMetadata is the rich per-schedule record stored alongside the
// registry entry. Every registry entry has exactly one metadata record,
// possibly all defaults.
type ScheduleMetadata struct {
	Queue              string              `json:"queue,omitempty"`
	Priority           int                 `json:"priority,omitempty"`
	Dependencies       []string            `json:"dependencies,omitempty"`
	DependencyRecencyS int                 `json:"dependency_recency_s,omitempty"`
	MaintenanceWindows []MaintenanceWindow `json:"maintenance_windows,omitempty"`
	PreflightChecks    []string            `json:"preflight_checks,omitempty"`
	Safety             Safety              `json:"safety"`
	Hooks              Hooks               `json:"hooks"`
	Notes              string              `json:"notes,omitempty"`
	Audit              Audit               `json:"audit"`
}

// DefaultMetadata returns a metadata record with all defaults applied.
func DefaultMetadata() ScheduleMetadata {
	return ScheduleMetadata{
		Safety: DefaultSafety(),
		Hooks:  Hooks{},
	}
}

// InMaintenance reports whether any configured window contains t.
func (m ScheduleMetadata) InMaintenance(t time.Time) bool {
	for _, w := range m.MaintenanceWindows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// SlowThreshold returns the duration past which a run counts as slow,
// or zero when no slow check applies.
func (m ScheduleMetadata) SlowThreshold() time.Duration {
	if m.Hooks.SlowThresholdS > 0 {
		return time.Duration(m.Hooks.SlowThresholdS) * time.Second
	}
	if m.Safety.TimeoutS > 0 {
		return time.Duration(m.Safety.TimeoutS) * time.Second
	}
	return 0
}

// MetadataPatch is the partial-update shape accepted by the admin API.
// Nil fields inherit from the base record; set fields overwrite.
type MetadataPatch struct {
	Queue              *string              `json:"queue,omitempty"`
	Priority           *int                 `json:"priority,omitempty"`
	Dependencies       *[]string            `json:"dependencies,omitempty"`
	DependencyRecencyS *int                 `json:"dependency_recency_s,omitempty"`
	MaintenanceWindows *[]MaintenanceWindow `json:"maintenance_windows,omitempty"`
	PreflightChecks    *[]string            `json:"preflight_checks,omitempty"`
	Safety             *Safety              `json:"safety,omitempty"`
	Hooks              *Hooks               `json:"hooks,omitempty"`
	Notes              *string              `json:"notes,omitempty"`
}

// Apply merges the patch onto base and returns the result. Audit fields are
// stamped by the caller, never by the patch.
func (p MetadataPatch) Apply(base ScheduleMetadata) ScheduleMetadata {
	out := base
	if p.Queue != nil {
		out.Queue = *p.Queue
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Dependencies != nil {
		out.Dependencies = *p.Dependencies
	}
	if p.DependencyRecencyS != nil {
		out.DependencyRecencyS = *p.DependencyRecencyS
	}
	if p.MaintenanceWindows != nil {
		out.MaintenanceWindows = *p.MaintenanceWindows
	}
	if p.PreflightChecks != nil {
		out.PreflightChecks = *p.PreflightChecks
	}
	if p.Safety != nil {
		out.Safety = *p.Safety
	}
	if p.Hooks != nil {
		out.Hooks = *p.Hooks
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	return out
}

// Validate checks value ranges and window/zone syntax.
func (m *ScheduleMetadata) Validate() error {
	if m.Safety.MaxConcurrency < 1 {
		return fmt.Errorf("safety.max_concurrency must be >= 1, got %d", m.Safety.MaxConcurrency)
	}
	if m.Safety.TimeoutS <= 0 {
		return fmt.Errorf("safety.timeout_s must be > 0, got %d", m.Safety.TimeoutS)
	}
	if m.Safety.Retries < 0 {
		return fmt.Errorf("safety.retries must be >= 0, got %d", m.Safety.Retries)
	}
	if m.Safety.BackoffS < 0 {
		return fmt.Errorf("safety.backoff_s must be >= 0, got %d", m.Safety.BackoffS)
	}
	for _, e := range m.Hooks.AlertOn {
		switch e {
		case AlertEventSuccess, AlertEventFailure, AlertEventSlow:
		default:
			return fmt.Errorf("hooks.alert_on contains unknown event %q", e)
		}
	}
	for i, w := range m.MaintenanceWindows {
		if _, _, err := w.Bounds(); err != nil {
			return fmt.Errorf("maintenance_windows[%d]: %w", i, err)
		}
	}
	return nil
}
