package metrics

import "chainflow/logger"

// ChainProcessorMetrics holds the counters reported by the chain processor.
type ChainProcessorMetrics struct {
	MessagesProcessed int64
	RowsEmitted       int64
	RecordsRejected   int64
	EmptySnapshots    int64
	SnapshotsDropped  int64
	RawChannelLen     int
	RawChannelCap     int
	NormChannelLen    int
	NormChannelCap    int
}

// ReportChainProcessorMetrics emits metrics for the chain processor.
func ReportChainProcessorMetrics(log *logger.Log, stats ChainProcessorMetrics) {
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent("chain_processor")

	avgRows := float64(0)
	if stats.MessagesProcessed > 0 {
		avgRows = float64(stats.RowsEmitted) / float64(stats.MessagesProcessed)
	}

	l.LogMetric("chain_processor", "messages_processed", stats.MessagesProcessed, "counter", logger.Fields{})
	l.LogMetric("chain_processor", "rows_emitted", stats.RowsEmitted, "counter", logger.Fields{})
	l.LogMetric("chain_processor", "records_rejected", stats.RecordsRejected, "counter", logger.Fields{})
	l.LogMetric("chain_processor", "empty_snapshots", stats.EmptySnapshots, "counter", logger.Fields{})
	l.LogMetric("chain_processor", "avg_rows_per_message", avgRows, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"messages_processed": stats.MessagesProcessed,
		"rows_emitted":       stats.RowsEmitted,
		"records_rejected":   stats.RecordsRejected,
		"empty_snapshots":    stats.EmptySnapshots,
		"snapshots_dropped":  stats.SnapshotsDropped,
		"raw_channel_len":    stats.RawChannelLen,
		"raw_channel_cap":    stats.RawChannelCap,
		"norm_channel_len":   stats.NormChannelLen,
		"norm_channel_cap":   stats.NormChannelCap,
	}).Info("chain processor metrics")
}
