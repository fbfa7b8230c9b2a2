package chain

import (
	"context"
	"sync"

	"chainflow/logger"
	"chainflow/models"
)

// ChannelStats tracks enqueue/dropped counters.
type ChannelStats struct {
	RawSent     int64
	NormSent    int64
	RawDropped  int64
	NormDropped int64
}

// Channels carries fetched option chain payloads and the snapshots built
// from them.
type Channels struct {
	Raw  chan models.RawChainMessage
	Norm chan models.ChainSnapshot

	stats     ChannelStats
	mu        sync.RWMutex
	closeOnce sync.Once
	log       *logger.Log
}

// NewChannels allocates buffered channels for option chain ingestion.
func NewChannels(rawBufferSize, normBufferSize int) *Channels {
	log := logger.GetLogger()
	ch := &Channels{
		Raw:  make(chan models.RawChainMessage, rawBufferSize),
		Norm: make(chan models.ChainSnapshot, normBufferSize),
		log:  log,
	}

	log.WithComponent("chain_channels").WithFields(logger.Fields{
		"raw_buffer_size":  rawBufferSize,
		"norm_buffer_size": normBufferSize,
	}).Info("option chain channels initialized")

	return ch
}

// Close closes both raw and normalized channels. Only the first call has
// an effect.
func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Raw)
		close(c.Norm)
		c.log.WithComponent("chain_channels").Info("option chain channels closed")
	})
}

// SendRaw enqueues a fetched payload without blocking.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawChainMessage) bool {
	select {
	case c.Raw <- msg:
		c.incrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementRawDropped()
		return false
	}
}

// SendNorm enqueues a snapshot for the writer without blocking.
func (c *Channels) SendNorm(ctx context.Context, msg models.ChainSnapshot) bool {
	select {
	case c.Norm <- msg:
		c.incrementNormSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementNormDropped()
		return false
	}
}

// GetStats returns a snapshot of the telemetry counters.
func (c *Channels) GetStats() ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Channels) incrementRawSent() {
	c.mu.Lock()
	c.stats.RawSent++
	c.mu.Unlock()
}

func (c *Channels) incrementNormSent() {
	c.mu.Lock()
	c.stats.NormSent++
	c.mu.Unlock()
}

func (c *Channels) incrementRawDropped() {
	c.mu.Lock()
	c.stats.RawDropped++
	c.mu.Unlock()
}

func (c *Channels) incrementNormDropped() {
	c.mu.Lock()
	c.stats.NormDropped++
	c.mu.Unlock()
}
