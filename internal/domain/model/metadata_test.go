package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataPatch_Apply(t *testing.T) {
	base := DefaultMetadata()
	base.Queue = "celery"
	base.Hooks = Hooks{DiscordChannels: []string{"signals"}, AlertOn: []string{AlertEventFailure}}
	base.Notes = "original"

	t.Run("empty patch inherits everything", func(t *testing.T) {
		out := MetadataPatch{}.Apply(base)
		assert.Equal(t, base, out)
	})

	t.Run("set fields overwrite", func(t *testing.T) {
		q := "critical"
		p := 9
		out := MetadataPatch{Queue: &q, Priority: &p}.Apply(base)
		assert.Equal(t, "critical", out.Queue)
		assert.Equal(t, 9, out.Priority)
		// Untouched fields inherit.
		assert.Equal(t, base.Hooks, out.Hooks)
		assert.Equal(t, "original", out.Notes)
	})

	t.Run("hooks replace wholesale", func(t *testing.T) {
		h := Hooks{DiscordChannels: []string{"portfolio"}}
		out := MetadataPatch{Hooks: &h}.Apply(base)
		assert.Equal(t, []string{"portfolio"}, out.Hooks.DiscordChannels)
		assert.Empty(t, out.Hooks.AlertOn)
	})
}

func TestMetadata_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ScheduleMetadata)
		wantErr string
	}{
		{name: "defaults pass", mutate: func(*ScheduleMetadata) {}},
		{
			name:    "zero max concurrency",
			mutate:  func(m *ScheduleMetadata) { m.Safety.MaxConcurrency = 0 },
			wantErr: "max_concurrency",
		},
		{
			name:    "zero timeout",
			mutate:  func(m *ScheduleMetadata) { m.Safety.TimeoutS = 0 },
			wantErr: "timeout_s",
		},
		{
			name:    "negative retries",
			mutate:  func(m *ScheduleMetadata) { m.Safety.Retries = -1 },
			wantErr: "retries",
		},
		{
			name:    "unknown alert event",
			mutate:  func(m *ScheduleMetadata) { m.Hooks.AlertOn = []string{"sideways"} },
			wantErr: "unknown event",
		},
		{
			name: "bad maintenance window zone",
			mutate: func(m *ScheduleMetadata) {
				m.MaintenanceWindows = []MaintenanceWindow{{Start: "2026-01-01T00:00:00", End: "2026-01-01T01:00:00", Timezone: "Mars/Olympus"}}
			},
			wantErr: "maintenance_windows[0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DefaultMetadata()
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMaintenanceWindow_Contains(t *testing.T) {
	w := MaintenanceWindow{
		Start:    "2026-03-01T02:00:00",
		End:      "2026-03-01T04:00:00",
		Timezone: "America/New_York",
	}
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	assert.True(t, w.Contains(time.Date(2026, 3, 1, 3, 0, 0, 0, ny)))
	assert.True(t, w.Contains(time.Date(2026, 3, 1, 2, 0, 0, 0, ny)), "start is inclusive")
	assert.False(t, w.Contains(time.Date(2026, 3, 1, 4, 0, 0, 0, ny)), "end is exclusive")
	assert.False(t, w.Contains(time.Date(2026, 3, 1, 1, 59, 0, 0, ny)))

	// The same instants expressed in UTC resolve identically.
	assert.True(t, w.Contains(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
}

func TestMetadata_SlowThreshold(t *testing.T) {
	m := DefaultMetadata()
	m.Safety.TimeoutS = 120
	assert.Equal(t, 2*time.Minute, m.SlowThreshold(), "falls back to timeout")

	m.Hooks.SlowThresholdS = 30
	assert.Equal(t, 30*time.Second, m.SlowThreshold(), "explicit threshold wins")

	m.Hooks.SlowThresholdS = 0
	m.Safety.TimeoutS = 0
	assert.Equal(t, time.Duration(0), m.SlowThreshold(), "no threshold configured")
}

func TestHooks_WantsAlert(t *testing.T) {
	h := Hooks{AlertOn: []string{AlertEventFailure, AlertEventSlow}}
	assert.True(t, h.WantsAlert(AlertEventFailure))
	assert.True(t, h.WantsAlert(AlertEventSlow))
	assert.False(t, h.WantsAlert(AlertEventSuccess))
}
