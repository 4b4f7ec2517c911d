package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/net/publicsuffix"

	"github.com/quantmatrix/taskplane/internal/domain/model"
	"github.com/quantmatrix/taskplane/internal/observability/notify"
	"github.com/quantmatrix/taskplane/internal/observability/notify/discord"
	"github.com/quantmatrix/taskplane/internal/observability/notify/pushgate"
)

// DefaultChannel receives alerts for schedules with no channel routing.
const DefaultChannel = "system_status"

// AlertRouterOptions holds the dependencies for an AlertRouter.
type AlertRouterOptions struct {
	// ChannelWebhooks maps channel aliases (signals, portfolio, morning,
	// playground, system_status) to their webhook URLs.
	ChannelWebhooks map[string]string
	// PushBaseURL enables the pushgateway sink for every finished run.
	PushBaseURL string
	PushJobName string
	// PagerDuty optionally pages on failure events.
	PagerDuty  notify.Sink
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// AlertRouter resolves a schedule's alert hooks to concrete sinks and
// delivers task events to them. Delivery is best-effort: failures are
// reported to the caller for logging, never retried beyond the sink's own
// retry policy.
type AlertRouter struct {
	channels    map[string]string
	pushSink    notify.Sink
	pagerduty   notify.Sink
	httpClient  *http.Client
	logger      *slog.Logger
	pushJobName string

	mu      sync.Mutex
	clients map[string]notify.Sink // webhook URL -> discord client
}

// NewAlertRouter creates an AlertRouter from options.
func NewAlertRouter(opts AlertRouterOptions) (*AlertRouter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &AlertRouter{
		channels:    opts.ChannelWebhooks,
		pagerduty:   opts.PagerDuty,
		httpClient:  opts.HTTPClient,
		logger:      logger,
		pushJobName: opts.PushJobName,
		clients:     make(map[string]notify.Sink),
	}

	if strings.TrimSpace(opts.PushBaseURL) != "" {
		push, err := pushgate.NewClient(pushgate.Config{
			BaseURL: opts.PushBaseURL,
			JobName: opts.PushJobName,
			Client:  opts.HTTPClient,
		})
		if err != nil {
			return nil, fmt.Errorf("pushgateway sink: %w", err)
		}
		r.pushSink = push
	}

	return r, nil
}

// Notify delivers a task event according to the schedule's hooks. Returns
// the joined delivery errors; the event itself is never blocked on them.
func (r *AlertRouter) Notify(ctx context.Context, hooks model.Hooks, payload notify.TaskEventPayload) error {
	var errs []error

	// Duration gauges go out for every finished run regardless of opt-in.
	if r.pushSink != nil && payload.Event != "" {
		if err := r.pushSink.SendTaskEvent(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("pushgateway: %w", err))
		}
	}
	if hooks.PrometheusEndpoint != "" {
		if err := r.pushToEndpoint(ctx, hooks.PrometheusEndpoint, payload); err != nil {
			errs = append(errs, err)
		}
	}

	if !hooks.WantsAlert(payload.Event) {
		return errors.Join(errs...)
	}
	if skip, err := r.filteredOut(hooks.PayloadFilter, payload); err != nil {
		errs = append(errs, err)
		return errors.Join(errs...)
	} else if skip {
		return errors.Join(errs...)
	}

	if len(hooks.DiscordMentions) > 0 {
		payload = withMentions(payload, hooks.DiscordMentions)
	}

	for _, webhook := range r.resolveWebhooks(ctx, hooks) {
		sink, err := r.discordSink(webhook)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := sink.SendTaskEvent(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("discord: %w", err))
		}
	}

	if r.pagerduty != nil && payload.Event == notify.EventFailure {
		if err := r.pagerduty.SendTaskEvent(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("pagerduty: %w", err))
		}
	}

	return errors.Join(errs...)
}

// filteredOut evaluates the hook's JMESPath filter against the event. A
// falsy result suppresses the alert; a broken expression fails open with
// an error so operators notice.
func (r *AlertRouter) filteredOut(filter string, payload notify.TaskEventPayload) (bool, error) {
	expr := strings.TrimSpace(filter)
	if expr == "" {
		return false, nil
	}
	result, err := jmespath.Search(expr, eventDocument(payload))
	if err != nil {
		return false, fmt.Errorf("payload filter %q: %w", expr, err)
	}
	return !truthy(result), nil
}

// eventDocument is the JSON-shaped view of an event that payload filters
// evaluate against.
func eventDocument(payload notify.TaskEventPayload) map[string]any {
	counters := make(map[string]any, len(payload.Counters))
	for k, v := range payload.Counters {
		counters[k] = v
	}
	return map[string]any{
		"task":        payload.Task,
		"run_id":      payload.RunID,
		"event":       payload.Event,
		"error":       payload.Error,
		"error_class": payload.ErrorClass,
		"duration_s":  payload.Duration.Seconds(),
		"counters":    counters,
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// resolveWebhooks maps the hook's channel aliases and explicit webhook to
// URLs. Unknown aliases and odd-looking hosts are logged, not fatal.
func (r *AlertRouter) resolveWebhooks(ctx context.Context, hooks model.Hooks) []string {
	var webhooks []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			webhooks = append(webhooks, u)
		}
	}

	if hooks.DiscordWebhook != "" {
		r.warnOddHost(ctx, hooks.DiscordWebhook)
		add(hooks.DiscordWebhook)
	}

	channels := hooks.DiscordChannels
	if len(channels) == 0 && hooks.DiscordWebhook == "" {
		channels = []string{DefaultChannel}
	}
	for _, channel := range channels {
		u, ok := r.channels[channel]
		if !ok || u == "" {
			r.logger.WarnContext(ctx, "no webhook configured for alert channel",
				slog.String("channel", channel))
			continue
		}
		add(u)
	}
	return webhooks
}

// warnOddHost flags explicit webhooks whose host has no effective TLD+1:
// almost always a typo or an internal hostname pasted by mistake.
func (r *AlertRouter) warnOddHost(ctx context.Context, webhook string) {
	u, err := url.Parse(webhook)
	if err != nil || u.Host == "" {
		r.logger.WarnContext(ctx, "alert webhook is not a valid URL",
			slog.String("webhook", webhook))
		return
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname()); err != nil {
		r.logger.WarnContext(ctx, "alert webhook host looks unusual",
			slog.String("host", u.Hostname()))
	}
}

func (r *AlertRouter) discordSink(webhook string) (notify.Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sink, ok := r.clients[webhook]; ok {
		return sink, nil
	}
	client, err := discord.NewClient(discord.Config{
		WebhookURL: webhook,
		RetryLimit: 2,
		Client:     r.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("discord sink: %w", err)
	}
	r.clients[webhook] = client
	return client, nil
}

func (r *AlertRouter) pushToEndpoint(ctx context.Context, endpoint string, payload notify.TaskEventPayload) error {
	sink, err := pushgate.NewClient(pushgate.Config{
		BaseURL: endpoint,
		JobName: r.pushJobName,
		Client:  r.httpClient,
	})
	if err != nil {
		return fmt.Errorf("hook pushgateway: %w", err)
	}
	if err := sink.SendTaskEvent(ctx, payload); err != nil {
		return fmt.Errorf("hook pushgateway: %w", err)
	}
	return nil
}

func withMentions(payload notify.TaskEventPayload, mentions []string) notify.TaskEventPayload {
	meta := make(map[string]string, len(payload.Metadata)+1)
	for k, v := range payload.Metadata {
		meta[k] = v
	}
	meta["mentions"] = strings.Join(mentions, " ")
	payload.Metadata = meta
	return payload
}
