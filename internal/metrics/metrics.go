// Package metrics exposes book and ingestion counters to Prometheus and
// fans structured metric events out to registered handlers.
//
// Registers:
//
//	l4book_entries_applied_total, l4book_entries_skipped_total
//	l4book_side_changes_total, l4book_frames_dropped_total
//	l4book_resyncs_total, l4book_reconnects_total
//	l4book_orders, l4book_levels, l4book_queue_length
//	go_* and process_* system metrics
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"l4book/book"
)

type bookCollectors struct {
	entriesApplied *prometheus.CounterVec
	entriesSkipped *prometheus.CounterVec
	sideChanges    *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	resyncs        *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	orders         *prometheus.GaugeVec
	levels         *prometheus.GaugeVec
	queueLength    *prometheus.GaugeVec
}

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	// current is nil until Init; recorders read it without locking.
	current atomic.Pointer[bookCollectors]
)

// Init registers every collector. It is safe to call more than once and
// concurrently with the recorders, which are no-ops until it ran.
func Init() {
	once.Do(func() {
		c := &bookCollectors{
			entriesApplied: counter("l4book_entries_applied_total", "Delta entries applied to the ledger", "market"),
			entriesSkipped: counter("l4book_entries_skipped_total", "Malformed delta entries skipped", "market"),
			sideChanges:    counter("l4book_side_changes_total", "Orders that moved between bid and ask", "market"),
			framesDropped:  counter("l4book_frames_dropped_total", "Frames evicted from a full queue", "market"),
			resyncs:        counter("l4book_resyncs_total", "Authoritative snapshots applied", "market"),
			reconnects:     counter("l4book_reconnects_total", "Feed resubscriptions", "market"),

			orders:      gauge("l4book_orders", "Resting orders", "market", "side"),
			levels:      gauge("l4book_levels", "Distinct price levels", "market", "side"),
			queueLength: gauge("l4book_queue_length", "Frames waiting to be applied", "market"),
		}
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		current.Store(c)
	})
}

// Enabled reports whether Init ran.
func Enabled() bool {
	return current.Load() != nil
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	registry.MustRegister(c)
	return c
}

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	registry.MustRegister(g)
	return g
}

// Handler serves the registry in the Prometheus text format. It does not
// enable collection; call Init first.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and embedding.
func Gatherer() prometheus.Gatherer {
	return registry
}

// ObserveApply records one applied batch.
func ObserveApply(market string, res book.ApplyResult) {
	c := current.Load()
	if c == nil {
		return
	}
	c.entriesApplied.WithLabelValues(market).Add(float64(res.Applied))
	if res.Skipped > 0 {
		c.entriesSkipped.WithLabelValues(market).Add(float64(res.Skipped))
	}
	if res.SideChanges > 0 {
		c.sideChanges.WithLabelValues(market).Add(float64(res.SideChanges))
	}
}

// ObserveSnapshot refreshes the size gauges from a published snapshot.
func ObserveSnapshot(s *book.Snapshot) {
	c := current.Load()
	if c == nil || s == nil {
		return
	}
	for _, side := range []book.Side{book.Bid, book.Ask} {
		c.orders.WithLabelValues(s.Market(), side.String()).Set(float64(s.OrderCount(side)))
		c.levels.WithLabelValues(s.Market(), side.String()).Set(float64(s.LevelCount(side)))
	}
}

func IncFrameDropped(market string) {
	if c := current.Load(); c != nil {
		c.framesDropped.WithLabelValues(market).Inc()
	}
}

func IncResync(market string) {
	if c := current.Load(); c != nil {
		c.resyncs.WithLabelValues(market).Inc()
	}
}

func IncReconnect(market string) {
	if c := current.Load(); c != nil {
		c.reconnects.WithLabelValues(market).Inc()
	}
}

func SetQueueLength(market string, n int) {
	if c := current.Load(); c != nil {
		c.queueLength.WithLabelValues(market).Set(float64(n))
	}
}
