package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "chainflow/config"
	"chainflow/models"
)

type fakeKafka struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafka) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeKafka) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func kafkaConfig() *appconfig.Config {
	cfg := writerConfig()
	cfg.Storage.Kafka = appconfig.KafkaConfig{
		Enabled:      true,
		Brokers:      []string{"localhost:9092"},
		Topic:        "option-chain-snapshots",
		WriteTimeout: time.Second,
	}
	return cfg
}

func TestNewKafkaWriterRequiresBrokers(t *testing.T) {
	cfg := kafkaConfig()
	cfg.Storage.Kafka.Brokers = nil
	if _, err := NewKafkaWriter(cfg, nil); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestKafkaWriterPublishes(t *testing.T) {
	fk := &fakeKafka{}
	ch := make(chan models.ChainSnapshot, 1)
	kw := newKafkaWriter(kafkaConfig(), ch, fk)

	if err := kw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch <- sampleSnapshot()

	deadline := time.Now().Add(2 * time.Second)
	for fk.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	kw.Stop()
	kw.Stop()

	if fk.count() != 1 {
		t.Fatalf("expected 1 message, got %d", fk.count())
	}
	if !fk.closed {
		t.Fatal("writer should be closed on Stop")
	}

	msg := fk.msgs[0]
	if string(msg.Key) != "NIFTY" {
		t.Fatalf("key = %q", msg.Key)
	}
	var decoded models.ChainSnapshot
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if decoded.Expiry != "28-03-2024" || len(decoded.Rows) != 2 || decoded.Rows[1].CallOI != nil {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestKafkaWriterCountsFailures(t *testing.T) {
	fk := &fakeKafka{err: errors.New("leader not available")}
	kw := newKafkaWriter(kafkaConfig(), nil, fk)

	if err := kw.publish(sampleSnapshot()); err == nil {
		t.Fatal("expected publish error")
	}
	if _, failed := kw.Published(); failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
}
