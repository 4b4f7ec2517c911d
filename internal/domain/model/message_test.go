package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskMessage_RoundTrip(t *testing.T) {
	meta := DefaultMetadata()
	meta.Queue = "critical"
	msg := &TaskMessage{
		ID:     "f1c2",
		Task:   "marketdata.refresh",
		Args:   []any{"eod"},
		Kwargs: map[string]any{"full": true},
		Options: MessageOptions{
			Queue:    "critical",
			Priority: 5,
			Headers:  MessageHeaders{ScheduleMetadata: &meta},
		},
	}

	b, err := msg.Encode()
	require.NoError(t, err)

	got, err := DecodeTaskMessage(b)
	require.NoError(t, err)
	assert.Equal(t, "marketdata.refresh", got.Task)
	assert.Equal(t, "refresh", got.TaskName())
	assert.Equal(t, "critical", got.Options.Queue)
	require.NotNil(t, got.Options.Headers.ScheduleMetadata)
	assert.Equal(t, "critical", got.Options.Headers.ScheduleMetadata.Queue)
}

func TestTaskMessage_MetadataFallback(t *testing.T) {
	msg := &TaskMessage{ID: "x", Task: "monitor.health"}
	meta := msg.Metadata()
	assert.Equal(t, []string{"system_status"}, meta.Hooks.DiscordChannels)
	assert.Equal(t, []string{AlertEventFailure}, meta.Hooks.AlertOn)
	assert.True(t, meta.Safety.Singleflight)
}

func TestDecodeTaskMessage_Invalid(t *testing.T) {
	_, err := DecodeTaskMessage([]byte("not json"))
	require.Error(t, err)

	_, err = DecodeTaskMessage([]byte(`{"id":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing task")
}
