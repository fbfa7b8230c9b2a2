package writer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	kafka "github.com/segmentio/kafka-go"

	appconfig "chainflow/config"
	"chainflow/logger"
	"chainflow/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes each snapshot as one JSON message keyed by symbol.
type KafkaWriter struct {
	config  *appconfig.Config
	normCh  <-chan models.ChainSnapshot
	writer  messageWriter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	published int64
	failed    int64
}

func NewKafkaWriter(cfg *appconfig.Config, normCh <-chan models.ChainSnapshot) (*KafkaWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := newKafkaWriter(cfg, normCh, &kafka.Writer{
		Addr:         kafka.TCP(cfg.Storage.Kafka.Brokers...),
		Topic:        cfg.Storage.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	})
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(cfg *appconfig.Config, normCh <-chan models.ChainSnapshot, w messageWriter) *KafkaWriter {
	return &KafkaWriter{
		config: cfg,
		normCh: normCh,
		writer: w,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx, kw.cancel = context.WithCancel(ctx)
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case snap, ok := <-kw.normCh:
			if !ok {
				return
			}
			_ = kw.publish(snap)
		}
	}
}

func (kw *KafkaWriter) publish(snap models.ChainSnapshot) error {
	log := kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"batch_id": snap.BatchID,
		"symbol":   snap.Symbol,
		"rows":     len(snap.Rows),
	})

	data, err := json.Marshal(snap)
	if err != nil {
		atomic.AddInt64(&kw.failed, 1)
		log.WithError(err).Warn("failed to marshal snapshot")
		return err
	}

	timeout := kw.config.Storage.Kafka.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	parent := context.Background()
	if kw.ctx != nil {
		parent = context.WithoutCancel(kw.ctx)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(snap.Symbol),
		Value: data,
		Time:  snap.Timestamp,
		Headers: []kafka.Header{
			{Key: "expiry", Value: []byte(snap.Expiry)},
			{Key: "batch_id", Value: []byte(snap.BatchID)},
		},
	}
	if err := kw.writer.WriteMessages(ctx, msg); err != nil {
		atomic.AddInt64(&kw.failed, 1)
		log.WithError(err).Warn("failed to write message")
		return err
	}

	atomic.AddInt64(&kw.published, 1)
	log.WithFields(logger.Fields{"bytes": len(data)}).Debug("snapshot written to kafka")
	return nil
}

// Stop cancels the publisher and closes the underlying writer. It is safe to
// call more than once.
func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	wasRunning := kw.running
	kw.running = false
	cancel := kw.cancel
	kw.mu.Unlock()

	if !wasRunning {
		return
	}

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	if cancel != nil {
		cancel()
	}
	kw.wg.Wait()
	if err := kw.writer.Close(); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to close kafka writer")
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"published": atomic.LoadInt64(&kw.published),
		"failed":    atomic.LoadInt64(&kw.failed),
	}).Debug("kafka writer stopped")
}

// Published returns the number of snapshots written and failed.
func (kw *KafkaWriter) Published() (published, failed int64) {
	return atomic.LoadInt64(&kw.published), atomic.LoadInt64(&kw.failed)
}
