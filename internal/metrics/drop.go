package metrics

import "l4book/logger"

// DropMetric names the metric emitted when a frame is lost.
type DropMetric string

const (
	// DropMetricFrameQueue records frames evicted by the drop_oldest policy.
	DropMetricFrameQueue DropMetric = "frames_dropped"
	// DropMetricUndecodable records websocket messages that failed to decode.
	DropMetricUndecodable DropMetric = "frames_undecodable"
)

// EmitDropMetric counts one lost frame for market, both in Prometheus and
// as a structured metric event.
func EmitDropMetric(log *logger.Log, metric DropMetric, market, stage string) {
	fields := logger.Fields{}
	if market != "" {
		fields["market"] = market
	}
	if stage != "" {
		fields["stage"] = stage
	}
	if metric == DropMetricFrameQueue {
		IncFrameDropped(market)
	}
	EmitMetric(log, "frame_drops", string(metric), 1, "counter", fields)
}
