package api

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"l4book/internal/metrics"
)

// eventStore keeps the most recent metric events, e.g. frame drops and
// reconnects, so they can be inspected without a metrics backend.
type eventStore struct {
	mu    sync.RWMutex
	items []metrics.Metric
	limit int
}

func newEventStore(limit int) *eventStore {
	if limit <= 0 {
		limit = 200
	}
	return &eventStore{limit: limit}
}

func (s *eventStore) handle(m metrics.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, m)
	if len(s.items) > s.limit {
		s.items = append([]metrics.Metric(nil), s.items[len(s.items)-s.limit:]...)
	}
}

// snapshot returns the retained events, oldest first. A non-empty market
// keeps only events tagged with it.
func (s *eventStore) snapshot(market string) []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Metric, 0, len(s.items))
	for _, m := range s.items {
		if market != "" && m.Fields["market"] != market {
			continue
		}
		out = append(out, m)
	}
	return out
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Market    string                 `json:"market,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logTail is a logrus hook retaining recent warnings and errors.
type logTail struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogTail(limit int) *logTail {
	if limit <= 0 {
		limit = 200
	}
	t := &logTail{limit: limit}
	t.enabled.Store(true)
	return t
}

func (t *logTail) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (t *logTail) Fire(entry *logrus.Entry) error {
	if !t.enabled.Load() {
		return nil
	}

	rec := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	for k, v := range entry.Data {
		switch k {
		case "component":
			rec.Component, _ = v.(string)
			continue
		case "market":
			rec.Market, _ = v.(string)
			continue
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			rec.Fields[k] = val.Error()
		case fmt.Stringer:
			rec.Fields[k] = val.String()
		default:
			rec.Fields[k] = val
		}
	}

	t.mu.Lock()
	t.items = append(t.items, rec)
	if len(t.items) > t.limit {
		t.items = append([]logRecord(nil), t.items[len(t.items)-t.limit:]...)
	}
	t.mu.Unlock()
	return nil
}

func (t *logTail) snapshot() []logRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]logRecord, len(t.items))
	copy(out, t.items)
	return out
}

func (t *logTail) close() {
	t.enabled.Store(false)
}
