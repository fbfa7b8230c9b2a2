package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appconfig "chainflow/config"
	"chainflow/internal/channel/chain"
	"chainflow/internal/metrics"
	"chainflow/logger"
	"chainflow/models"
)

// ChainProcessor turns fetched option chain payloads into snapshots.
type ChainProcessor struct {
	config     *appconfig.Config
	channels   *chain.Channels
	aggregator *Aggregator
	ctx        context.Context
	cancel     context.CancelFunc
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log

	// Metrics
	messagesProcessed int64
	rowsEmitted       int64
	recordsRejected   int64
	emptySnapshots    int64
	snapshotsDropped  int64
}

func NewChainProcessor(cfg *appconfig.Config, channels *chain.Channels, aggregator *Aggregator) *ChainProcessor {
	if aggregator == nil {
		aggregator = NewDefaultAggregator()
	}
	return &ChainProcessor{
		config:     cfg,
		channels:   channels,
		aggregator: aggregator,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}
}

func (p *ChainProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("chain processor already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	log := p.log.WithComponent("chain_processor").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting chain processor")

	numWorkers := p.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting chain processor workers")

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.metricsReporter()

	log.Info("chain processor started successfully")
	return nil
}

// Stop cancels the workers and waits for them to exit. It is safe to call
// more than once.
func (p *ChainProcessor) Stop() {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	if !wasRunning {
		return
	}

	p.log.WithComponent("chain_processor").Info("stopping chain processor")
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.reportMetrics()
	p.log.WithComponent("chain_processor").Info("chain processor stopped")
}

func (p *ChainProcessor) worker(workerID int) {
	defer p.wg.Done()

	log := p.log.WithComponent("chain_processor").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "chain_processor",
	})

	log.Info("starting chain processor worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case rawMsg, ok := <-p.channels.Raw:
			if !ok {
				log.Info("raw channel closed, worker stopping")
				return
			}

			start := time.Now()
			rows := p.handleMessage(rawMsg)
			logger.LogPerformanceEntry(log, "chain_processor", "process_message", time.Since(start), logger.Fields{
				"worker_id": workerID,
				"symbol":    rawMsg.Symbol,
				"expiry":    rawMsg.Expiry,
				"rows":      rows,
			})
		}
	}
}

// handleMessage aggregates one payload and forwards the snapshot. It
// returns the number of rows produced.
func (p *ChainProcessor) handleMessage(rawMsg models.RawChainMessage) int {
	log := p.log.WithComponent("chain_processor").WithFields(logger.Fields{
		"symbol":    rawMsg.Symbol,
		"expiry":    rawMsg.Expiry,
		"source":    rawMsg.Source,
		"operation": "process_message",
	})

	snapshot, stats := p.buildSnapshot(rawMsg)

	atomic.AddInt64(&p.messagesProcessed, 1)
	atomic.AddInt64(&p.recordsRejected, int64(stats.Rejected))

	if stats.Rejected > 0 {
		log.WithFields(logger.Fields{
			"records":  stats.Records,
			"rejected": stats.Rejected,
		}).Debug("skipped malformed records")
	}

	if len(snapshot.Rows) == 0 {
		atomic.AddInt64(&p.emptySnapshots, 1)
		log.WithFields(logger.Fields{"records": stats.Records}).Warn("option chain payload produced no rows")
		return 0
	}

	if !p.channels.SendNorm(p.ctx, snapshot) {
		atomic.AddInt64(&p.snapshotsDropped, 1)
		metrics.EmitDropMetric(p.log, metrics.DropMetricChainNorm, rawMsg.Source, rawMsg.Symbol, rawMsg.Expiry, "processor")
		log.Warn("normalized channel full, snapshot dropped")
		return len(snapshot.Rows)
	}

	atomic.AddInt64(&p.rowsEmitted, int64(len(snapshot.Rows)))
	metrics.ObserveSnapshot(rawMsg.Symbol, len(snapshot.Rows), stats.Rejected)
	logger.LogDataFlowEntry(log, "chain_raw", "chain_norm", len(snapshot.Rows), "option_chain")
	return len(snapshot.Rows)
}

func (p *ChainProcessor) buildSnapshot(rawMsg models.RawChainMessage) (models.ChainSnapshot, AggregateStats) {
	rows, stats := p.aggregator.AggregatePayload(rawMsg.Data)
	return models.ChainSnapshot{
		BatchID:       uuid.New().String(),
		Symbol:        rawMsg.Symbol,
		Underlying:    stats.Symbol,
		Expiry:        rawMsg.Expiry,
		Spot:          rawMsg.Spot,
		LotSize:       stats.LotSize,
		Rows:          rows,
		RecordCount:   stats.Records,
		RejectedCount: stats.Rejected,
		Timestamp:     rawMsg.Timestamp,
		ProcessedAt:   time.Now().UTC(),
	}, stats
}

func (p *ChainProcessor) metricsReporter() {
	defer p.wg.Done()

	interval := p.config.Processor.ReportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reportMetrics()
		}
	}
}

// Stats returns the processor counters.
func (p *ChainProcessor) Stats() metrics.ChainProcessorMetrics {
	return metrics.ChainProcessorMetrics{
		MessagesProcessed: atomic.LoadInt64(&p.messagesProcessed),
		RowsEmitted:       atomic.LoadInt64(&p.rowsEmitted),
		RecordsRejected:   atomic.LoadInt64(&p.recordsRejected),
		EmptySnapshots:    atomic.LoadInt64(&p.emptySnapshots),
		SnapshotsDropped:  atomic.LoadInt64(&p.snapshotsDropped),
		RawChannelLen:     len(p.channels.Raw),
		RawChannelCap:     cap(p.channels.Raw),
		NormChannelLen:    len(p.channels.Norm),
		NormChannelCap:    cap(p.channels.Norm),
	}
}

func (p *ChainProcessor) reportMetrics() {
	metrics.ReportChainProcessorMetrics(p.log, p.Stats())
}
