package config

import (
	"strings"
)

const defaultObservabilityName = "taskplane"

// ObservabilityConfig groups configuration that controls metrics and alert fan-out.
type ObservabilityConfig struct {
	Metrics ObservabilityMetricsConfig
	Alerts  AlertsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Alerts.Sanitize()
}

// ObservabilityMetricsConfig controls emission of metrics to external sinks such as StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// AlertsConfig controls outbound alert fan-out: the per-channel Discord
// webhooks, the Prometheus pushgateway, and PagerDuty paging.
type AlertsConfig struct {
	DiscordSignals      string `env:"DISCORD_WEBHOOK_SIGNALS"`
	DiscordPortfolio    string `env:"DISCORD_WEBHOOK_PORTFOLIO"`
	DiscordMorning      string `env:"DISCORD_WEBHOOK_MORNING"`
	DiscordPlayground   string `env:"DISCORD_WEBHOOK_PLAYGROUND"`
	DiscordSystemStatus string `env:"DISCORD_WEBHOOK_SYSTEM_STATUS"`

	// PrometheusPushURL enables the pushgateway sink for every finished run.
	PrometheusPushURL string `env:"PROMETHEUS_PUSH_URL"`
	PushJobName       string `env:"PROMETHEUS_PUSH_JOB" envDefault:"taskplane"`

	PagerDuty PagerDutyNotificationConfig `envPrefix:"PAGERDUTY_"`
}

// Sanitize normalises alert fan-out configuration values.
func (c *AlertsConfig) Sanitize() {
	c.DiscordSignals = strings.TrimSpace(c.DiscordSignals)
	c.DiscordPortfolio = strings.TrimSpace(c.DiscordPortfolio)
	c.DiscordMorning = strings.TrimSpace(c.DiscordMorning)
	c.DiscordPlayground = strings.TrimSpace(c.DiscordPlayground)
	c.DiscordSystemStatus = strings.TrimSpace(c.DiscordSystemStatus)
	c.PrometheusPushURL = strings.TrimSpace(c.PrometheusPushURL)
	if c.PushJobName = strings.TrimSpace(c.PushJobName); c.PushJobName == "" {
		c.PushJobName = defaultObservabilityName
	}

	c.PagerDuty.sanitize()
	if c.PagerDuty.Enabled && c.PagerDuty.RoutingKey == "" {
		c.PagerDuty.Enabled = false
	}
}

// ChannelWebhooks returns the channel-alias to webhook map for the alert
// router, holding only configured channels.
func (c *AlertsConfig) ChannelWebhooks() map[string]string {
	hooks := make(map[string]string)
	for alias, url := range map[string]string{
		"signals":       c.DiscordSignals,
		"portfolio":     c.DiscordPortfolio,
		"morning":       c.DiscordMorning,
		"playground":    c.DiscordPlayground,
		"system_status": c.DiscordSystemStatus,
	} {
		if url != "" {
			hooks[alias] = url
		}
	}
	return hooks
}

// PagerDutyNotificationConfig controls PagerDuty Events API v2 fan-out.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"taskplane"`
	Component  string `env:"COMPONENT"   envDefault:"taskplane"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	if c.Source = strings.TrimSpace(c.Source); c.Source == "" {
		c.Source = defaultObservabilityName
	}
	if c.Component = strings.TrimSpace(c.Component); c.Component == "" {
		c.Component = defaultObservabilityName
	}
}
