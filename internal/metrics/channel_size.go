package metrics

import (
	"context"
	"time"

	"chainflow/internal/channel/chain"
	"chainflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the raw and normalized
// chain buffers every interval until ctx is cancelled. When interval <= 0, a
// one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *chain.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitMetric(log, component, "chain_raw_buffer_length", len(channels.Raw), "gauge", logger.Fields{
					"buffer":   "chain_raw",
					"capacity": cap(channels.Raw),
				})
				EmitMetric(log, component, "chain_norm_buffer_length", len(channels.Norm), "gauge", logger.Fields{
					"buffer":   "chain_norm",
					"capacity": cap(channels.Norm),
				})
				stats := channels.GetStats()
				EmitMetric(log, component, "chain_raw_dropped_total", stats.RawDropped, "counter", nil)
				EmitMetric(log, component, "chain_norm_dropped_total", stats.NormDropped, "counter", nil)
			}
		}
	}()
}
