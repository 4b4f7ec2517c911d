package bootstrap

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/quantmatrix/taskplane/config"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "scheduler and runner",
			modes: []config.ServiceMode{config.ServiceModeScheduler, config.ServiceModeRunner},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeHTTP,
				config.ServiceModeScheduler,
				config.ServiceModeRunner,
				config.ServiceModeReaper,
			},
			want: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 1,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeHTTP,
				config.ServiceModeScheduler,
				config.ServiceModeRunner,
				config.ServiceModeReaper,
			},
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelBufferSize(enabled); got != tt.want {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestNewServicesWiresScheduleService(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.AppConfig{Services: "http"}

	services := NewServices(&ServiceDeps{
		Config:      cfg,
		RedisClient: client,
		Logger:      logger,
	})

	require.NotNil(t, services.Schedules)
	require.NotNil(t, services.Status)
	// No auth mode configured leaves the API unauthenticated.
	require.Nil(t, services.Auth)
}

func TestBuildAlertRouter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("no sinks configured", func(t *testing.T) {
		router := buildAlertRouter(logger, config.AlertsConfig{})
		require.NotNil(t, router)
	})

	t.Run("pagerduty without routing key is skipped", func(t *testing.T) {
		cfg := config.AlertsConfig{
			PagerDuty: config.PagerDutyNotificationConfig{Enabled: true},
		}
		router := buildAlertRouter(logger, cfg)
		require.NotNil(t, router)
	})
}
