// Package catalog defines the factory schedule catalog: the well-known
// recurring tasks a fresh deployment starts with, grouped by concern.
package catalog

import (
	"github.com/quantmatrix/taskplane/internal/domain/model"
)

// SeedActor is the audit label stamped on catalog-seeded metadata.
const SeedActor = "catalog_seed"

// GroupOrder lists the catalog groups in presentation order.
var GroupOrder = []string{"marketdata", "portfolio", "signals", "monitoring", "maintenance"}

// Item is one factory catalog entry: a schedule plus its default metadata.
type Item struct {
	Name         string
	Task         string
	Cron         string
	Timezone     string
	Queue        string
	Hooks        model.Hooks
	Dependencies []string
	TimeoutS     int
	Kwargs       map[string]any
}

// Entry converts the item to its registry entry.
func (i Item) Entry() model.ScheduleEntry {
	entry := model.ScheduleEntry{
		Name:     i.Name,
		Task:     i.Task,
		Cron:     i.Cron,
		Timezone: i.Timezone,
		Kwargs:   i.Kwargs,
		Enabled:  true,
	}
	entry.Normalize()
	return entry
}

// Metadata converts the item to its default metadata record. Audit fields
// are stamped by the seeder.
func (i Item) Metadata() model.ScheduleMetadata {
	meta := model.DefaultMetadata()
	meta.Queue = i.Queue
	meta.Hooks = i.Hooks
	meta.Dependencies = i.Dependencies
	if i.TimeoutS > 0 {
		meta.Safety.TimeoutS = i.TimeoutS
	}
	return meta
}

// Groups returns the factory catalog keyed by group name.
func Groups() map[string][]Item {
	return map[string][]Item{
		"marketdata": {
			{
				Name:     "eod_prices_refresh",
				Task:     "quantmatrix.tasks.marketdata.eod_prices_refresh",
				Cron:     "30 21 * * 1-5",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 1800,
				Hooks: model.Hooks{
					DiscordChannels: []string{"morning"},
					AlertOn:         []string{model.AlertEventFailure, model.AlertEventSlow},
					SlowThresholdS:  900,
				},
			},
			{
				Name:     "intraday_snapshot",
				Task:     "quantmatrix.tasks.marketdata.intraday_snapshot",
				Cron:     "*/15 13-20 * * 1-5",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 300,
				Hooks: model.Hooks{
					DiscordChannels: []string{"system_status"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
			{
				Name:     "fx_rates_refresh",
				Task:     "quantmatrix.tasks.marketdata.fx_rates_refresh",
				Cron:     "0 6 * * *",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 600,
				Hooks: model.Hooks{
					DiscordChannels: []string{"system_status"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
		},
		"portfolio": {
			{
				Name:     "account_sync",
				Task:     "quantmatrix.tasks.portfolio.account_sync",
				Cron:     "0 5 * * *",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 900,
				Hooks: model.Hooks{
					DiscordChannels: []string{"portfolio"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
			{
				Name:         "positions_reconcile",
				Task:         "quantmatrix.tasks.portfolio.positions_reconcile",
				Cron:         "15 5 * * 1-5",
				Timezone:     "UTC",
				Queue:        "celery",
				TimeoutS:     900,
				Dependencies: []string{"account_sync"},
				Hooks: model.Hooks{
					DiscordChannels: []string{"portfolio"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
			{
				Name:     "pnl_report",
				Task:     "quantmatrix.tasks.portfolio.pnl_report",
				Cron:     "0 7 * * 1-5",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 600,
				Hooks: model.Hooks{
					DiscordChannels: []string{"portfolio"},
					AlertOn:         []string{model.AlertEventSuccess, model.AlertEventFailure},
				},
			},
		},
		"signals": {
			{
				Name:     "signal_scan",
				Task:     "quantmatrix.tasks.signals.signal_scan",
				Cron:     "*/30 * * * *",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 900,
				Hooks: model.Hooks{
					DiscordChannels: []string{"signals"},
					AlertOn:         []string{model.AlertEventFailure, model.AlertEventSlow},
					SlowThresholdS:  600,
				},
			},
			{
				Name:         "morning_briefing",
				Task:         "quantmatrix.tasks.signals.morning_briefing",
				Cron:         "0 7 * * 1-5",
				Timezone:     "America/New_York",
				Queue:        "celery",
				TimeoutS:     600,
				Dependencies: []string{"eod_prices_refresh"},
				Hooks: model.Hooks{
					DiscordChannels: []string{"morning"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
		},
		"monitoring": {
			{
				Name:     "health",
				Task:     "quantmatrix.tasks.monitoring.health",
				Cron:     "*/5 * * * *",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 60,
				Hooks: model.Hooks{
					DiscordChannels: []string{"system_status"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
			{
				Name:     "queue_depth_check",
				Task:     "quantmatrix.tasks.monitoring.queue_depth_check",
				Cron:     "*/10 * * * *",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 60,
				Hooks: model.Hooks{
					DiscordChannels: []string{"system_status"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
		},
		"maintenance": {
			{
				Name:     "jobrun_prune",
				Task:     "quantmatrix.tasks.maintenance.jobrun_prune",
				Cron:     "0 3 * * 0",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 1800,
				Kwargs:   map[string]any{"keep_days": 180},
				Hooks: model.Hooks{
					DiscordChannels: []string{"system_status"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
			{
				Name:     "session_cleanup",
				Task:     "quantmatrix.tasks.maintenance.session_cleanup",
				Cron:     "0 4 * * *",
				Timezone: "UTC",
				Queue:    "celery",
				TimeoutS: 300,
				Hooks: model.Hooks{
					DiscordChannels: []string{"system_status"},
					AlertOn:         []string{model.AlertEventFailure},
				},
			},
		},
	}
}

// Items returns the catalog flattened in group order, stable within group.
func Items() []Item {
	groups := Groups()
	var items []Item
	for _, group := range GroupOrder {
		items = append(items, groups[group]...)
	}
	return items
}

// GroupOf returns the group a schedule name belongs to, or empty string.
func GroupOf(name string) string {
	for group, items := range Groups() {
		for _, item := range items {
			if item.Name == name {
				return group
			}
		}
	}
	return ""
}
