package writer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "chainflow/config"
	"chainflow/models"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*params.Key] = body
	f.meta[*params.Key] = params.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func writerConfig() *appconfig.Config {
	return &appconfig.Config{
		Chainflow: appconfig.ChainflowConfig{Name: "chainflow", Version: "test"},
		Writer:    appconfig.WriterConfig{MaxWorkers: 1, Compression: "snappy", UploadTimeout: time.Second},
		Storage: appconfig.StorageConfig{S3: appconfig.S3Config{
			Enabled: true,
			Bucket:  "chain-bucket",
			Region:  "ap-south-1",
		}},
	}
}

func sampleSnapshot() models.ChainSnapshot {
	ts := time.Date(2024, time.March, 7, 9, 15, 30, 0, time.UTC)
	return models.ChainSnapshot{
		BatchID:    "batch-1",
		Symbol:     "NIFTY",
		Underlying: "NIFTY",
		Expiry:     "28-03-2024",
		Spot:       models.GetPointer(22100.5),
		LotSize:    50,
		Rows: []models.StrikeRow{
			{Strike: 22000, CallOI: models.GetPointer(20.0), CallLTP: models.GetPointer(150.5)},
			{Strike: 22100, PutOI: models.GetPointer(12.0), PutLTP: models.GetPointer(98.0)},
		},
		RecordCount: 2,
		Timestamp:   ts,
		ProcessedAt: ts.Add(time.Second),
	}
}

func TestGenerateS3Key(t *testing.T) {
	cfg := writerConfig()
	w := newChainWriter(cfg, nil, newFakeStore())

	got := w.generateS3Key(sampleSnapshot())
	want := "symbol=NIFTY/expiry=28-03-2024/2024/03/07/NIFTY_chain_20240307091530.parquet"
	if got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}

	cfg.Writer.KeyPrefix = "/option-chain/"
	got = w.generateS3Key(sampleSnapshot())
	if !strings.HasPrefix(got, "option-chain/symbol=NIFTY/") {
		t.Fatalf("prefixed key = %q", got)
	}
}

func TestGenerateS3KeyFallsBackToProcessedAt(t *testing.T) {
	w := newChainWriter(writerConfig(), nil, newFakeStore())
	snap := sampleSnapshot()
	snap.Timestamp = time.Time{}
	snap.ProcessedAt = time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)

	got := w.generateS3Key(snap)
	if !strings.HasSuffix(got, "2024/04/01/NIFTY_chain_20240401100000.parquet") {
		t.Fatalf("key = %q", got)
	}
}

func TestCreateParquetFile(t *testing.T) {
	for _, codec := range []string{"snappy", "gzip", "none"} {
		cfg := writerConfig()
		cfg.Writer.Compression = codec
		w := newChainWriter(cfg, nil, newFakeStore())

		data, err := w.createParquetFile(sampleSnapshot())
		if err != nil {
			t.Fatalf("%s: createParquetFile: %v", codec, err)
		}
		if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
			t.Fatalf("%s: output is not a parquet file", codec)
		}
	}
}

func TestToParquetRecords(t *testing.T) {
	records := toParquetRecords(sampleSnapshot())
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Strike != 22000 || records[0].CallOI == nil || *records[0].CallOI != 20 {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[0].PutOI != nil {
		t.Fatalf("absent value should stay nil")
	}
	if records[1].LotSize != 50 || records[1].Expiry != "28-03-2024" {
		t.Fatalf("snapshot fields not carried: %+v", records[1])
	}
}

func TestProcessSnapshotUploads(t *testing.T) {
	store := newFakeStore()
	w := newChainWriter(writerConfig(), nil, store)

	if err := w.processSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("processSnapshot: %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("expected 1 object, got %d", store.count())
	}
	key := w.generateS3Key(sampleSnapshot())
	if store.meta[key]["chainflow-version"] != "test" {
		t.Fatalf("metadata not set: %v", store.meta[key])
	}
	stats := w.Stats()
	if stats.SnapshotsWritten != 1 || stats.RowsWritten != 2 || stats.BytesWritten == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestProcessSnapshotSkipsEmpty(t *testing.T) {
	store := newFakeStore()
	w := newChainWriter(writerConfig(), nil, store)

	snap := sampleSnapshot()
	snap.Rows = nil
	if err := w.processSnapshot(snap); err != nil {
		t.Fatalf("processSnapshot: %v", err)
	}
	if store.count() != 0 {
		t.Fatalf("empty snapshot should not be uploaded")
	}
}

func TestProcessSnapshotUploadError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("access denied")
	w := newChainWriter(writerConfig(), nil, store)

	if err := w.processSnapshot(sampleSnapshot()); err == nil {
		t.Fatal("expected upload error")
	}
	if w.Stats().Errors != 1 {
		t.Fatalf("expected error to be counted")
	}
}

func TestChainWriterStartStop(t *testing.T) {
	store := newFakeStore()
	ch := make(chan models.ChainSnapshot, 4)
	w := newChainWriter(writerConfig(), ch, store)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}

	ch <- sampleSnapshot()
	deadline := time.Now().Add(2 * time.Second)
	for store.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()
	w.Stop()

	if store.count() != 1 {
		t.Fatalf("expected snapshot to be written, got %d objects", store.count())
	}
}
