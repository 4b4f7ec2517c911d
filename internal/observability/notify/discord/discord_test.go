package discord

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantmatrix/taskplane/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when webhook url missing")
	}
}

func TestFormatMessageFailureEmbed(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://discord.com/api/webhooks/test",
		Username:   "bot",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.TaskEventPayload{
		Task:       "health",
		RunID:      "42",
		Event:      notify.EventFailure,
		Error:      "boom",
		ErrorClass: "errors_errorstring",
		Duration:   3 * time.Second,
		Counters:   map[string]float64{"rows": 12},
		OccurredAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	})

	if msg["username"] != "bot" {
		t.Fatalf("expected username to be preserved, got %v", msg["username"])
	}
	embeds, ok := msg["embeds"].([]map[string]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("expected one embed, got %v", msg["embeds"])
	}
	embed := embeds[0]
	if embed["title"] != "Task health failed" {
		t.Fatalf("unexpected title %v", embed["title"])
	}
	if embed["color"] != ColorError {
		t.Fatalf("expected error color, got %v", embed["color"])
	}
	if embed["description"] != "boom" {
		t.Fatalf("unexpected description %v", embed["description"])
	}
	if embed["timestamp"] != "2026-02-01T09:00:00Z" {
		t.Fatalf("unexpected timestamp %v", embed["timestamp"])
	}

	fields, ok := embed["fields"].([]map[string]any)
	if !ok {
		t.Fatalf("expected fields slice")
	}
	joined := strings.Builder{}
	for _, f := range fields {
		joined.WriteString(f["name"].(string))
		joined.WriteByte('=')
		joined.WriteString(f["value"].(string))
		joined.WriteByte(';')
	}
	for _, want := range []string{"Run=42", "Duration=3s", "Error=boom", "Error class=errors_errorstring", "rows=12"} {
		if !strings.Contains(joined.String(), want) {
			t.Fatalf("expected %q in fields: %s", want, joined.String())
		}
	}
}

func TestFormatMessageColors(t *testing.T) {
	client, err := NewClient(Config{WebhookURL: "https://discord.com/api/webhooks/test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tcs := []struct {
		event string
		want  int
	}{
		{notify.EventSuccess, ColorInfo},
		{notify.EventSlow, ColorWarning},
		{notify.EventFailure, ColorError},
	}
	for _, tc := range tcs {
		msg := client.formatMessage(notify.TaskEventPayload{Task: "t", Event: tc.event})
		embed := msg["embeds"].([]map[string]any)[0]
		if embed["color"] != tc.want {
			t.Fatalf("event %s: expected color %#x, got %v", tc.event, tc.want, embed["color"])
		}
	}
}

func TestSendTaskEventRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		WebhookURL: server.URL,
		RetryLimit: 2,
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = client.SendTaskEvent(context.Background(), notify.TaskEventPayload{
		Task:  "health",
		Event: notify.EventSuccess,
	})
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestSendTaskEventExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{WebhookURL: server.URL, RetryLimit: 1, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = client.SendTaskEvent(context.Background(), notify.TaskEventPayload{Task: "t", Event: notify.EventFailure})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}
