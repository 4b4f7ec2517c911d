// Package pushgate pushes per-task duration gauges to a Prometheus
// pushgateway using the text exposition format.
package pushgate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quantmatrix/taskplane/internal/observability/notify"
)

// MetricName is the gauge pushed for every finished task run.
const MetricName = "quantmatrix_task_duration_seconds"

// Config captures runtime configuration for the pushgateway sink.
type Config struct {
	// BaseURL is the pushgateway root, e.g. http://pushgateway:9091.
	BaseURL    string
	JobName    string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client publishes task durations to a pushgateway.
type Client struct {
	pushURL    string
	retryLimit int
	client     *http.Client
}

var _ notify.Sink = (*Client)(nil)

// NewClient constructs a pushgateway client from config.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("pushgateway base url is required")
	}
	job := strings.TrimSpace(cfg.JobName)
	if job == "" {
		job = "taskplane"
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
		pushURL:    base + "/metrics/job/" + job,
		retryLimit: retries,
		client:     hc,
	}, nil
}

// SendTaskEvent pushes the run duration as a gauge labelled by task and event.
func (c *Client) SendTaskEvent(ctx context.Context, payload notify.TaskEventPayload) error {
	body := exposition(payload)

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err := c.push(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
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

func exposition(payload notify.TaskEventPayload) string {
	var b strings.Builder
	b.WriteString("# TYPE ")
	b.WriteString(MetricName)
	b.WriteString(" gauge\n")
	b.WriteString(MetricName)
	b.WriteString(`{task="`)
	b.WriteString(escapeLabel(payload.Task))
	b.WriteString(`",event="`)
	b.WriteString(escapeLabel(payload.Event))
	b.WriteString(`"} `)
	b.WriteString(strconv.FormatFloat(payload.Duration.Seconds(), 'f', -1, 64))
	b.WriteByte('\n')
	return b.String()
}

func escapeLabel(v string) string {
	return strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
	).Replace(v)
}

func (c *Client) push(ctx context.Context, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pushURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pushgateway request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; version=0.0.4")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushgateway request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(resp.Body)
		closeErr := resp.Body.Close()
		if readErr != nil {
			return errors.Join(
				fmt.Errorf("read pushgateway error response: %w", readErr),
				closeErr,
			)
		}
		if closeErr != nil {
			return fmt.Errorf("close response body: %w", closeErr)
		}
		return fmt.Errorf("pushgateway %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return errors.Join(
				fmt.Errorf("drain pushgateway response body: %w", err),
				fmt.Errorf("close response body: %w", closeErr),
			)
		}
		return fmt.Errorf("drain pushgateway response body: %w", err)
	}
	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}
