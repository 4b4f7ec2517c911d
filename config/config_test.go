package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - http",
			input: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
			expectError: false,
		},
		{
			name:  "single service - scheduler",
			input: "scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
			},
			expectError: false,
		},
		{
			name:  "multiple services - http and runner",
			input: "http,runner",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeRunner: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "http,scheduler,runner,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
				ServiceModeRunner:    true,
				ServiceModeReaper:    true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " http , scheduler , runner ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
				ServiceModeRunner:    true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "http,http,scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,invalid-service",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "mixed valid and invalid",
			input:       "http,scheduler,invalid",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name              string
		services          string
		expectedHTTP      bool
		expectedScheduler bool
		expectedRunner    bool
		expectedReaper    bool
	}{
		{
			name:         "default - http only",
			services:     "http",
			expectedHTTP: true,
		},
		{
			name:              "http and scheduler",
			services:          "http,scheduler",
			expectedHTTP:      true,
			expectedScheduler: true,
		},
		{
			name:              "all services",
			services:          "http,scheduler,runner,reaper",
			expectedHTTP:      true,
			expectedScheduler: true,
			expectedRunner:    true,
			expectedReaper:    true,
		},
		{
			name:           "runner only",
			services:       "runner",
			expectedRunner: true,
		},
		{
			name:           "reaper only",
			services:       "reaper",
			expectedReaper: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsHTTPServerEnabled() != tt.expectedHTTP {
				t.Errorf("IsHTTPServerEnabled(): expected %v, got %v", tt.expectedHTTP, cfg.IsHTTPServerEnabled())
			}
			if cfg.IsSchedulerEnabled() != tt.expectedScheduler {
				t.Errorf("IsSchedulerEnabled(): expected %v, got %v", tt.expectedScheduler, cfg.IsSchedulerEnabled())
			}
			if cfg.IsRunnerEnabled() != tt.expectedRunner {
				t.Errorf("IsRunnerEnabled(): expected %v, got %v", tt.expectedRunner, cfg.IsRunnerEnabled())
			}
			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, cfg.IsReaperEnabled())
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	// All methods should return false when configuration is invalid
	if cfg.IsHTTPServerEnabled() {
		t.Errorf("IsHTTPServerEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsSchedulerEnabled() {
		t.Errorf("IsSchedulerEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsRunnerEnabled() {
		t.Errorf("IsRunnerEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsReaperEnabled() {
		t.Errorf("IsReaperEnabled() with invalid config: expected false, got true")
	}
}

func TestAppConfig_ParseAuthEnv(t *testing.T) {
	t.Setenv("AUTH_MODE", "oauth")
	t.Setenv("ADMIN_GROUP", "cn=admins,ou=groups,dc=example,dc=org")
	t.Setenv("USER_GROUP", "cn=users,ou=groups,dc=example,dc=org")
	t.Setenv("OAUTH_CLIENT_ID", "app-client")
	t.Setenv("OAUTH_CLIENT_SECRET", "super-secret")
	t.Setenv("OAUTH_REDIRECT_URL", "https://app.example.com/auth/callback")
	t.Setenv("OAUTH_DISCOVERY_URL", "https://login.example.com/.well-known/openid-configuration")
	t.Setenv("OAUTH_SCOPE", "openid profile email")
	t.Setenv("DEV_AUTH_USER_ID", "dev-user")
	t.Setenv("DEV_AUTH_EMAIL", "dev@example.com")
	t.Setenv("DEV_AUTH_GROUPS", "admins;devs")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	expected := AuthConfig{
		Mode: AuthModeOAuth,
		OAuth: OAuthConfig{
			ClientID:     "app-client",
			ClientSecret: "super-secret",
			RedirectURL:  "https://app.example.com/auth/callback",
			Scope:        "openid profile email",
			DiscoveryURL: "https://login.example.com/.well-known/openid-configuration",
		},
		DevAuth: DevAuthConfig{
			UserID: "dev-user",
			Email:  "dev@example.com",
			Groups: []string{"admins", "devs"},
		},
		AdminGroup: "cn=admins,ou=groups,dc=example,dc=org",
		UserGroup:  "cn=users,ou=groups,dc=example,dc=org",
	}

	if !reflect.DeepEqual(cfg.Auth, expected) {
		t.Fatalf("unexpected auth configuration:\nexpected: %#v\ngot:      %#v", expected, cfg.Auth)
	}
}

func TestServiceConfig_EnvDefaults(t *testing.T) {
	var scheduler SchedulerConfig
	if err := env.Parse(&scheduler); err != nil {
		t.Fatalf("parse scheduler config: %v", err)
	}
	if !scheduler.SeedCatalog {
		t.Fatal("expected SCHEDULER_SEED_ON_START to default to true")
	}
	if scheduler.Mode != SchedulerModeDynamic {
		t.Fatalf("expected SCHEDULER_MODE default dynamic, got %q", scheduler.Mode)
	}

	var runner RunnerConfig
	if err := env.Parse(&runner); err != nil {
		t.Fatalf("parse runner config: %v", err)
	}
	if !reflect.DeepEqual(runner.Queues, []string{"celery"}) {
		t.Fatalf("expected RUNNER_QUEUES default celery, got %#v", runner.Queues)
	}

	var reaper ReaperConfig
	if err := env.Parse(&reaper); err != nil {
		t.Fatalf("parse reaper config: %v", err)
	}
	if reaper.Grace != 120*time.Second {
		t.Fatalf("expected REAPER_GRACE default 120s, got %v", reaper.Grace)
	}
}

func TestSchedulerConfig_Sanitize(t *testing.T) {
	cfg := SchedulerConfig{Interval: time.Millisecond, Mode: " Static "}
	cfg.Sanitize()
	if cfg.Interval != time.Second {
		t.Fatalf("expected interval clamped to 1s, got %v", cfg.Interval)
	}
	if cfg.Mode != SchedulerModeStatic {
		t.Fatalf("expected mode normalized to static, got %q", cfg.Mode)
	}

	cfg = SchedulerConfig{Interval: time.Second, Mode: "registry"}
	cfg.Sanitize()
	if cfg.Mode != SchedulerModeDynamic {
		t.Fatalf("expected unknown mode to fall back to dynamic, got %q", cfg.Mode)
	}
}

func TestRunnerConfig_Sanitize(t *testing.T) {
	cfg := RunnerConfig{
		Queues:      []string{" critical ", "", "celery"},
		Concurrency: 0,
		PopTimeout:  time.Millisecond,
	}

	cfg.Sanitize()

	if cfg.Concurrency != 1 {
		t.Fatalf("expected concurrency clamped to 1, got %d", cfg.Concurrency)
	}
	if cfg.PopTimeout != time.Second {
		t.Fatalf("expected pop timeout clamped to 1s, got %v", cfg.PopTimeout)
	}
	if !reflect.DeepEqual(cfg.Queues, []string{"critical", "celery"}) {
		t.Fatalf("expected queues trimmed, got %#v", cfg.Queues)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:       time.Second,
		DefaultTimeout: time.Second,
		Grace:          -time.Second,
	}

	cfg.Sanitize()

	if cfg.Interval != 10*time.Second {
		t.Fatalf("expected interval clamped to 10s, got %v", cfg.Interval)
	}
	if cfg.DefaultTimeout != time.Minute {
		t.Fatalf("expected default timeout clamped to 1m, got %v", cfg.DefaultTimeout)
	}
	if cfg.Grace != 0 {
		t.Fatalf("expected grace clamped to 0, got %v", cfg.Grace)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestAlertsConfig_Sanitize(t *testing.T) {
	cfg := AlertsConfig{
		DiscordSignals:      " https://discord.example/api/webhooks/1/a ",
		DiscordSystemStatus: "https://discord.example/api/webhooks/2/b",
		PrometheusPushURL:   " ",
		PushJobName:         "",
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: " ",
			Source:     "",
			Component:  "",
		},
	}

	cfg.Sanitize()

	if cfg.PushJobName != "taskplane" {
		t.Fatalf("expected push job name default, got %q", cfg.PushJobName)
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled without a routing key")
	}
	if cfg.PagerDuty.Source != "taskplane" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}

	hooks := cfg.ChannelWebhooks()
	if len(hooks) != 2 {
		t.Fatalf("expected 2 configured channels, got %d: %#v", len(hooks), hooks)
	}
	if hooks["signals"] != "https://discord.example/api/webhooks/1/a" {
		t.Fatalf("expected trimmed signals webhook, got %q", hooks["signals"])
	}
	if _, ok := hooks["morning"]; ok {
		t.Fatal("expected unset channels to be absent from the map")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
		ServiceModeRunner,
		ServiceModeReaper,
	}

	if len(modes) != len(expected) {
		t.Errorf("expected %d service modes, got %d", len(expected), len(modes))
	}

	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}
