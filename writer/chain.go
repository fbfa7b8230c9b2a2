package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "chainflow/config"
	"chainflow/logger"
	"chainflow/models"
)

// ChainParquetRecord is one strike row of a snapshot. Quote columns are
// OPTIONAL so absent values stay null.
type ChainParquetRecord struct {
	BatchID     string   `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol      string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Underlying  string   `parquet:"name=underlying, type=BYTE_ARRAY, convertedtype=UTF8"`
	Expiry      string   `parquet:"name=expiry, type=BYTE_ARRAY, convertedtype=UTF8"`
	Spot        *float64 `parquet:"name=spot, type=DOUBLE, repetitiontype=OPTIONAL"`
	LotSize     int32    `parquet:"name=lot_size, type=INT32"`
	Strike      float64  `parquet:"name=strike, type=DOUBLE"`
	CallOI      *float64 `parquet:"name=call_oi, type=DOUBLE, repetitiontype=OPTIONAL"`
	CallLTP     *float64 `parquet:"name=call_ltp, type=DOUBLE, repetitiontype=OPTIONAL"`
	CallBid     *float64 `parquet:"name=call_bid, type=DOUBLE, repetitiontype=OPTIONAL"`
	CallBidQty  *float64 `parquet:"name=call_bid_qty, type=DOUBLE, repetitiontype=OPTIONAL"`
	CallAsk     *float64 `parquet:"name=call_ask, type=DOUBLE, repetitiontype=OPTIONAL"`
	CallAskQty  *float64 `parquet:"name=call_ask_qty, type=DOUBLE, repetitiontype=OPTIONAL"`
	CallVolume  *float64 `parquet:"name=call_volume, type=DOUBLE, repetitiontype=OPTIONAL"`
	PutOI       *float64 `parquet:"name=put_oi, type=DOUBLE, repetitiontype=OPTIONAL"`
	PutLTP      *float64 `parquet:"name=put_ltp, type=DOUBLE, repetitiontype=OPTIONAL"`
	PutBid      *float64 `parquet:"name=put_bid, type=DOUBLE, repetitiontype=OPTIONAL"`
	PutBidQty   *float64 `parquet:"name=put_bid_qty, type=DOUBLE, repetitiontype=OPTIONAL"`
	PutAsk      *float64 `parquet:"name=put_ask, type=DOUBLE, repetitiontype=OPTIONAL"`
	PutAskQty   *float64 `parquet:"name=put_ask_qty, type=DOUBLE, repetitiontype=OPTIONAL"`
	PutVolume   *float64 `parquet:"name=put_volume, type=DOUBLE, repetitiontype=OPTIONAL"`
	Timestamp   int64    `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ProcessedAt int64    `parquet:"name=processed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

// Seek only reports the current size; the parquet writer appends.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// objectStore is the subset of the S3 API the writer needs.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// WriterStats counts uploads.
type WriterStats struct {
	SnapshotsWritten int64
	RowsWritten      int64
	BytesWritten     int64
	Errors           int64
}

// ChainWriter stores option chain snapshots as parquet objects in S3.
type ChainWriter struct {
	config  *appconfig.Config
	normCh  <-chan models.ChainSnapshot
	store   objectStore
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	snapshotsWritten int64
	rowsWritten      int64
	bytesWritten     int64
	errorsCount      int64
}

// NewChainWriter builds an S3 backed writer from the storage configuration.
func NewChainWriter(cfg *appconfig.Config, normCh <-chan models.ChainSnapshot) (*ChainWriter, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("chain_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("chain_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("chain writer initialized")

	return newChainWriter(cfg, normCh, s3Client), nil
}

func newChainWriter(cfg *appconfig.Config, normCh <-chan models.ChainSnapshot, store objectStore) *ChainWriter {
	return &ChainWriter{
		config: cfg,
		normCh: normCh,
		store:  store,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

func (w *ChainWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("chain writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	log := w.log.WithComponent("chain_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting chain writer")

	numWorkers := w.config.Writer.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting chain writer workers")

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	log.Info("chain writer started successfully")
	return nil
}

// Stop cancels the workers, lets them drain buffered snapshots and waits.
func (w *ChainWriter) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	if !wasRunning {
		return
	}
	w.log.WithComponent("chain_writer").Info("stopping chain writer")
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.log.WithComponent("chain_writer").WithFields(logger.Fields{
		"snapshots_written": atomic.LoadInt64(&w.snapshotsWritten),
		"errors":            atomic.LoadInt64(&w.errorsCount),
	}).Info("chain writer stopped")
}

func (w *ChainWriter) worker(workerID int) {
	defer w.wg.Done()

	log := w.log.WithComponent("chain_writer").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "chain_writer",
	})

	log.Info("starting chain writer worker")

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			log.Info("worker stopped due to context cancellation")
			return
		case snap, ok := <-w.normCh:
			if !ok {
				log.Info("normalized channel closed, worker stopping")
				return
			}
			_ = w.processSnapshot(snap)
		}
	}
}

// drain writes whatever is already buffered without waiting for more.
func (w *ChainWriter) drain() {
	for {
		select {
		case snap, ok := <-w.normCh:
			if !ok {
				return
			}
			_ = w.processSnapshot(snap)
		default:
			return
		}
	}
}

func (w *ChainWriter) processSnapshot(snap models.ChainSnapshot) error {
	log := w.log.WithComponent("chain_writer").WithFields(logger.Fields{
		"batch_id":  snap.BatchID,
		"symbol":    snap.Symbol,
		"expiry":    snap.Expiry,
		"rows":      len(snap.Rows),
		"operation": "process_snapshot",
	})

	if len(snap.Rows) == 0 {
		log.Debug("snapshot has no rows, skipping")
		return nil
	}

	start := time.Now()
	key := w.generateS3Key(snap)
	log = log.WithFields(logger.Fields{"s3_key": key})

	data, err := w.createParquetFile(snap)
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).Error("failed to create parquet file")
		return err
	}

	if err := w.uploadToS3(key, data); err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket}).
			Error("failed to upload to S3")
		return err
	}

	atomic.AddInt64(&w.snapshotsWritten, 1)
	atomic.AddInt64(&w.rowsWritten, int64(len(snap.Rows)))
	atomic.AddInt64(&w.bytesWritten, int64(len(data)))
	logger.IncrementS3Write(int64(len(data)))
	logger.LogPerformanceEntry(log, "chain_writer", "write_snapshot", time.Since(start), logger.Fields{
		"file_size": len(data),
	})
	return nil
}

// generateS3Key builds prefix/symbol=S/expiry=E/yyyy/mm/dd/S_chain_ts.parquet.
func (w *ChainWriter) generateS3Key(snap models.ChainSnapshot) string {
	timestamp := snap.Timestamp
	if timestamp.IsZero() {
		timestamp = snap.ProcessedAt
	}
	timestamp = timestamp.UTC()

	symbol := snap.Symbol
	if symbol == "" {
		symbol = snap.Underlying
	}

	parts := []string{}
	if prefix := strings.Trim(w.config.Writer.KeyPrefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts,
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("expiry=%s", snap.Expiry),
		fmt.Sprintf("%04d", timestamp.Year()),
		fmt.Sprintf("%02d", timestamp.Month()),
		fmt.Sprintf("%02d", timestamp.Day()),
		fmt.Sprintf("%s_chain_%s.parquet", symbol, timestamp.Format("20060102150405")),
	)
	return path.Join(parts...)
}

func (w *ChainWriter) compression() parquet.CompressionCodec {
	switch strings.ToLower(w.config.Writer.Compression) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func toParquetRecords(snap models.ChainSnapshot) []ChainParquetRecord {
	out := make([]ChainParquetRecord, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		out = append(out, ChainParquetRecord{
			BatchID:     snap.BatchID,
			Symbol:      snap.Symbol,
			Underlying:  snap.Underlying,
			Expiry:      snap.Expiry,
			Spot:        snap.Spot,
			LotSize:     int32(snap.LotSize),
			Strike:      row.Strike,
			CallOI:      row.CallOI,
			CallLTP:     row.CallLTP,
			CallBid:     row.CallBid,
			CallBidQty:  row.CallBidQty,
			CallAsk:     row.CallAsk,
			CallAskQty:  row.CallAskQty,
			CallVolume:  row.CallVolume,
			PutOI:       row.PutOI,
			PutLTP:      row.PutLTP,
			PutBid:      row.PutBid,
			PutBidQty:   row.PutBidQty,
			PutAsk:      row.PutAsk,
			PutAskQty:   row.PutAskQty,
			PutVolume:   row.PutVolume,
			Timestamp:   snap.Timestamp.UnixMilli(),
			ProcessedAt: snap.ProcessedAt.UnixMilli(),
		})
	}
	return out
}

func (w *ChainWriter) createParquetFile(snap models.ChainSnapshot) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(ChainParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = w.compression()

	for _, record := range toParquetRecords(snap) {
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func (w *ChainWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       w.config.Writer.Compression,
			"chainflow-version": w.config.Chainflow.Version,
		},
	}

	timeout := w.config.Writer.UploadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parent := context.Background()
	if w.ctx != nil {
		parent = context.WithoutCancel(w.ctx)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if _, err := w.store.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}

// Stats returns the upload counters.
func (w *ChainWriter) Stats() WriterStats {
	return WriterStats{
		SnapshotsWritten: atomic.LoadInt64(&w.snapshotsWritten),
		RowsWritten:      atomic.LoadInt64(&w.rowsWritten),
		BytesWritten:     atomic.LoadInt64(&w.bytesWritten),
		Errors:           atomic.LoadInt64(&w.errorsCount),
	}
}
