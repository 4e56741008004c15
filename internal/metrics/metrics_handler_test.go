package metrics

import (
	"testing"
	"time"

	"l4book/logger"
)

func resetMetricHandlers() {
	metricHandlersMu.Lock()
	metricHandlers = make(map[MetricHandlerID]MetricHandler)
	nextMetricHandlerID = 0
	metricHandlersMu.Unlock()
}

func TestRegisterMetricHandlerReturnsUniqueIDs(t *testing.T) {
	resetMetricHandlers()

	id := RegisterMetricHandler(func(Metric) {})
	if id == 0 {
		t.Fatalf("expected non-zero handler id")
	}
	second := RegisterMetricHandler(func(Metric) {})
	if second == 0 || second == id {
		t.Fatalf("expected unique handler id")
	}
}

func TestRegisterMetricHandlerNil(t *testing.T) {
	resetMetricHandlers()

	if id := RegisterMetricHandler(nil); id != 0 {
		t.Fatalf("expected zero id for nil handler, got %d", id)
	}
}

func TestEmitMetricDispatchesToHandlers(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) { events <- m })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	fields := logger.Fields{"market": "BTC"}
	EmitMetric(logger.Logger(), "frame_queue", "queue_length", 3, "gauge", fields)

	select {
	case event := <-events:
		if event.Component != "frame_queue" || event.Name != "queue_length" || event.Type != "gauge" {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.Fields["market"] != "BTC" {
			t.Fatalf("fields not propagated: %v", event.Fields)
		}
		if _, leaked := fields["metric"]; leaked {
			t.Fatalf("caller fields mutated: %v", fields)
		}
	case <-time.After(time.Second):
		t.Fatal("metric not dispatched")
	}
}

func TestUnregisterMetricHandler(t *testing.T) {
	resetMetricHandlers()

	called := false
	id := RegisterMetricHandler(func(Metric) { called = true })
	UnregisterMetricHandler(id)
	EmitMetric(logger.Logger(), "x", "y", 1, "", nil)
	if called {
		t.Fatal("handler called after unregister")
	}
}
