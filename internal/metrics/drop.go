package metrics

import "chainflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricChainRaw records fetched payloads dropped before aggregation.
	DropMetricChainRaw DropMetric = "chain_messages_dropped"
	// DropMetricChainNorm records snapshots dropped before the writer.
	DropMetricChainNorm DropMetric = "chain_snapshots_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel message. The
// metric value is always incremented by one so callers should invoke this helper for
// each dropped message. Optional metadata (source, symbol, expiry, stage) is added
// to the metric fields when provided.
func EmitDropMetric(log *logger.Log, metric DropMetric, source, symbol, expiry, stage string) {
	fields := logger.Fields{}
	if source != "" {
		fields["source"] = source
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if expiry != "" {
		fields["expiry"] = expiry
	}
	if stage != "" {
		fields["stage"] = stage
	}

	channelDropped.WithLabelValues(string(metric)).Inc()
	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
