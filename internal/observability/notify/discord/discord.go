// Package discord delivers task event notifications to Discord-shaped
// webhooks as rich embeds.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quantmatrix/taskplane/internal/observability/notify"
)

// Embed colors by severity.
const (
	ColorInfo    = 0x3498DB
	ColorWarning = 0xE67E22
	ColorError   = 0xE74C3C
)

// Config captures the subset of Discord webhook behaviour we need.
type Config struct {
	WebhookURL string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client delivers task event notifications to a Discord webhook.
type Client struct {
	webhookURL string
	username   string
	retryLimit int
	client     *http.Client
}

var _ notify.Sink = (*Client)(nil)

// NewClient builds a Discord webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("discord webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retries := max(cfg.RetryLimit, 0)

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		webhookURL: webhookURL,
		username:   fallbackString(strings.TrimSpace(cfg.Username), "taskplane"),
		retryLimit: retries,
		client:     hc,
	}, nil
}

// SendTaskEvent posts a formatted embed to Discord.
func (c *Client) SendTaskEvent(ctx context.Context, payload notify.TaskEventPayload) error {
	msg := c.formatMessage(payload)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode discord payload: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err = c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
			// Simple linear backoff to avoid thundering retries.
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return lastErr
}

func (c *Client) formatMessage(payload notify.TaskEventPayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	embed := map[string]any{
		"title":       embedTitle(payload),
		"description": embedDescription(payload),
		"color":       colorFor(payload),
		"fields":      embedFields(payload),
		"timestamp":   timestamp.UTC().Format(time.RFC3339),
	}

	return map[string]any{
		"username": c.username,
		"embeds":   []map[string]any{embed},
	}
}

func embedTitle(payload notify.TaskEventPayload) string {
	task := fallbackString(payload.Task, "unknown")
	switch payload.Event {
	case notify.EventFailure:
		return fmt.Sprintf("Task %s failed", task)
	case notify.EventSlow:
		return fmt.Sprintf("Task %s ran slow", task)
	default:
		return fmt.Sprintf("Task %s succeeded", task)
	}
}

func embedDescription(payload notify.TaskEventPayload) string {
	if payload.Error != "" {
		return truncate(payload.Error, 2000)
	}
	if payload.Duration > 0 {
		return fmt.Sprintf("Completed in %s", payload.Duration.Round(time.Millisecond))
	}
	return ""
}

func colorFor(payload notify.TaskEventPayload) int {
	severity := payload.Severity
	if severity == "" {
		severity = notify.SeverityFor(payload.Event)
	}
	switch severity {
	case notify.SeverityCritical:
		return ColorError
	case notify.SeverityWarning:
		return ColorWarning
	default:
		return ColorInfo
	}
}

func embedFields(payload notify.TaskEventPayload) []map[string]any {
	var fields []map[string]any
	addField := func(name, value string, inline bool) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fields = append(fields, map[string]any{
			"name":   name,
			"value":  truncate(value, 1024),
			"inline": inline,
		})
	}

	addField("Run", payload.RunID, true)
	if payload.Duration > 0 {
		addField("Duration", payload.Duration.Round(time.Millisecond).String(), true)
	}
	addField("Error", payload.Error, false)
	addField("Error class", payload.ErrorClass, true)

	if len(payload.Counters) > 0 {
		keys := make([]string, 0, len(payload.Counters))
		for k := range payload.Counters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + strconv.FormatFloat(payload.Counters[k], 'f', -1, 64)
		}
		addField("Counters", strings.Join(parts, " "), false)
	}

	if len(payload.Metadata) > 0 {
		keys := make([]string, 0, len(payload.Metadata))
		for k := range payload.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + payload.Metadata[k]
		}
		addField("Metadata", strings.Join(parts, "\n"), false)
	}

	return fields
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	return drainSuccess(resp)
}

func drainSuccess(resp *http.Response) error {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("drain discord response body: %w", err),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("drain discord response body: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("read discord error response: %w", readErr),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("read discord error response: %w", readErr)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return fmt.Errorf("discord webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
}
