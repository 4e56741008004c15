package metrics

import (
	"context"
	"time"

	"l4book/internal/channel"
	"l4book/logger"
)

// StartQueueMetrics samples every registered frame queue each interval
// until ctx is done. A non-positive interval defaults to one second.
func StartQueueMetrics(ctx context.Context, queues *channel.Registry, interval time.Duration) {
	if queues == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	log := logger.GetLogger()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ReportQueues(log, queues)
			}
		}
	}()
}

// ReportQueues publishes one occupancy sample per queue.
func ReportQueues(log *logger.Log, queues *channel.Registry) {
	for market, s := range queues.Stats() {
		SetQueueLength(market, s.Length)
		if s.Length*2 < s.Capacity {
			continue
		}
		// Only a filling queue is worth a log line.
		EmitMetric(log, "frame_queue", "queue_length", s.Length, "gauge", logger.Fields{
			"market":   market,
			"capacity": s.Capacity,
			"dropped":  s.Dropped,
		})
	}
}
