package metrics

import (
	"errors"
	"testing"
	"time"
)

type recordedMetric struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

type recordingSink struct {
	metrics []recordedMetric
}

func (r *recordingSink) Count(name string, value int64, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{"count", name, float64(value), tags})
}

func (r *recordingSink) Gauge(name string, value float64, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{"gauge", name, value, tags})
}

func (r *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{"timing", name, float64(value), tags})
}

func (r *recordingSink) find(name string) *recordedMetric {
	for i := range r.metrics {
		if r.metrics[i].name == name {
			return &r.metrics[i]
		}
	}
	return nil
}

func TestEmitTickSuccess(t *testing.T) {
	sink := &recordingSink{}
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	EmitTick(sink, TickMetric{
		Result:   ResultSuccess,
		Enqueued: 3,
		Duration: 120 * time.Millisecond,
		At:       at,
	})

	tick := sink.find("scheduler.tick")
	if tick == nil || tick.tags["result"] != ResultSuccess {
		t.Fatalf("expected success tick, got %+v", tick)
	}
	enq := sink.find("scheduler.tasks_enqueued")
	if enq == nil || enq.value != 3 {
		t.Fatalf("expected 3 enqueued, got %+v", enq)
	}
	if sink.find("scheduler.tick_duration") == nil {
		t.Fatal("expected tick duration timing")
	}
	epoch := sink.find("scheduler.last_success_epoch")
	if epoch == nil || epoch.value != float64(at.Unix()) {
		t.Fatalf("expected epoch gauge, got %+v", epoch)
	}
}

func TestEmitTickErrorTagsClass(t *testing.T) {
	sink := &recordingSink{}
	EmitTick(sink, TickMetric{Result: ResultError, Err: errors.New("boom")})

	tick := sink.find("scheduler.tick")
	if tick == nil {
		t.Fatal("expected tick metric")
	}
	if tick.tags["error_class"] == "" {
		t.Fatalf("expected error_class tag, got %v", tick.tags)
	}
	if sink.find("scheduler.last_success_epoch") != nil {
		t.Fatal("error tick must not move the success epoch")
	}
}

func TestEmitTaskRun(t *testing.T) {
	sink := &recordingSink{}
	EmitTaskRun(sink, TaskRunMetric{
		Task:     "health",
		Result:   ResultSuccess,
		Duration: time.Second,
	})

	run := sink.find("runner.task")
	if run == nil || run.tags["task"] != "health" {
		t.Fatalf("expected runner.task tagged by task, got %+v", run)
	}
	if sink.find("runner.task_duration") == nil {
		t.Fatal("expected duration timing")
	}
}

func TestEmitReaperSweep(t *testing.T) {
	sink := &recordingSink{}
	EmitReaperSweep(sink, 2, nil)
	if m := sink.find("reaper.sweep"); m == nil || m.tags["result"] != ResultSuccess {
		t.Fatalf("expected success sweep, got %+v", m)
	}
	if m := sink.find("reaper.swept"); m == nil || m.value != 2 {
		t.Fatalf("expected 2 swept, got %+v", m)
	}

	sink = &recordingSink{}
	EmitReaperSweep(sink, 0, nil)
	if m := sink.find("reaper.sweep"); m == nil || m.tags["result"] != ResultNoop {
		t.Fatalf("expected noop sweep, got %+v", m)
	}
	if sink.find("reaper.swept") != nil {
		t.Fatal("no swept counter on noop")
	}
}

func TestNilSinkSafe(t *testing.T) {
	EmitTick(nil, TickMetric{Result: ResultSuccess})
	EmitTaskRun(nil, TaskRunMetric{})
	EmitReaperSweep(nil, 1, nil)
}
