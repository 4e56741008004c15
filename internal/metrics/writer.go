package metrics

import "l4book/logger"

// WriterStats holds counters shared by the storage sinks.
type WriterStats struct {
	Flushes      int64
	FilesWritten int64
	BytesWritten int64
	Rows         int64
	ErrorsCount  int64
}

// ReportWriter emits the sink counters under component.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.Flushes+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.Flushes+stats.ErrorsCount)
	}
	avgBytes := float64(0)
	if stats.FilesWritten > 0 {
		avgBytes = float64(stats.BytesWritten) / float64(stats.FilesWritten)
	}

	l.LogMetric(component, "files_written", stats.FilesWritten, "counter", nil)
	l.LogMetric(component, "bytes_written", stats.BytesWritten, "counter", nil)
	l.LogMetric(component, "errors_count", stats.ErrorsCount, "counter", nil)

	entry := l.WithFields(logger.Fields{
		"flushes":            stats.Flushes,
		"files_written":      stats.FilesWritten,
		"bytes_written":      stats.BytesWritten,
		"rows":               stats.Rows,
		"errors_count":       stats.ErrorsCount,
		"error_rate":         errorRate,
		"avg_bytes_per_file": avgBytes,
	})
	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
