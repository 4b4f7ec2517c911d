package metrics

import (
	"time"

	obserrors "github.com/quantmatrix/taskplane/internal/observability/errors"
	"github.com/quantmatrix/taskplane/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// TickMetric captures one scheduler tick for metric emission.
type TickMetric struct {
	Result   string
	Enqueued int
	Duration time.Duration
	At       time.Time
	Err      error
}

// EmitTick emits the standardised scheduler tick metrics.
func EmitTick(sink statsd.Sink, in TickMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"result": in.Result}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("scheduler.tick", 1, tags)
	if in.Enqueued > 0 {
		sink.Count("scheduler.tasks_enqueued", int64(in.Enqueued), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("scheduler.tick_duration", in.Duration, CloneTags(tags))
	}
	// Idle ticks still count as healthy.
	if in.Result != ResultError && !in.At.IsZero() {
		sink.Gauge("scheduler.last_success_epoch", float64(in.At.Unix()), nil)
	}
}

// TaskRunMetric captures one finished task run for metric emission.
type TaskRunMetric struct {
	Task     string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitTaskRun emits the standardised runner metrics.
func EmitTaskRun(sink statsd.Sink, in TaskRunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"task":   in.Task,
		"result": in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("runner.task", 1, tags)
	if in.Duration > 0 {
		sink.Timing("runner.task_duration", in.Duration, CloneTags(tags))
	}
}

// EmitReaperSweep emits the count of runs reaped by one sweep.
func EmitReaperSweep(sink statsd.Sink, swept int64, err error) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	tags := map[string]string{}
	if err != nil {
		result = ResultError
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	} else if swept == 0 {
		result = ResultNoop
	}
	tags["result"] = result

	sink.Count("reaper.sweep", 1, tags)
	if swept > 0 {
		sink.Count("reaper.swept", swept, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
