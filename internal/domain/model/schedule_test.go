package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   ScheduleEntry
		wantErr string
	}{
		{
			name:  "valid entry",
			entry: ScheduleEntry{Name: "probe", Task: "monitor.health", Cron: "0 * * * *"},
		},
		{
			name:    "missing name",
			entry:   ScheduleEntry{Task: "monitor.health", Cron: "0 * * * *"},
			wantErr: "name is required",
		},
		{
			name:    "missing task",
			entry:   ScheduleEntry{Name: "probe", Cron: "0 * * * *"},
			wantErr: "task is required",
		},
		{
			name:    "missing cron",
			entry:   ScheduleEntry{Name: "probe", Task: "monitor.health"},
			wantErr: "cron is required",
		},
		{
			name:    "six field cron",
			entry:   ScheduleEntry{Name: "probe", Task: "monitor.health", Cron: "0 0 * * * *"},
			wantErr: "cron must have 5 fields",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScheduleEntry_Normalize(t *testing.T) {
	e := ScheduleEntry{Name: " probe ", Task: " monitor.health ", Cron: " 0   *  * * * "}
	e.Normalize()
	assert.Equal(t, "probe", e.Name)
	assert.Equal(t, "monitor.health", e.Task)
	assert.Equal(t, "0 * * * *", e.Cron)
	assert.Equal(t, "UTC", e.Timezone)
}

func TestTaskShortName(t *testing.T) {
	assert.Equal(t, "health", TaskShortName("quantmatrix.tasks.monitor.health"))
	assert.Equal(t, "health", TaskShortName("monitor.health"))
	assert.Equal(t, "health", TaskShortName("health"))
}
