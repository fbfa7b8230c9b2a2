package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chainflow/config"
	"chainflow/internal/channel/chain"
	"chainflow/internal/metrics"
	"chainflow/logger"
	"chainflow/models"
	"chainflow/processor"
	"chainflow/reader/truedata"
	"chainflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Chainflow.Name,
		"version":     cfg.Chainflow.Version,
		"environment": env,
		"symbols":     len(cfg.Reader.Symbols),
	}).Info("starting chainflow")

	if config.IsProductionLike(env) && (cfg.Source.TrueData.Username == "" || cfg.Source.TrueData.Password == "") {
		log.WithComponent("main").
			WithEnv("TRUEDATA_USERNAME", "TRUEDATA_PASSWORD").
			Error("vendor credentials are required in this environment")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Logging.CloudWatch.Region, cfg.Logging.CloudWatch.Namespace, cfg.Logging.CloudWatch.Dashboard)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := chain.NewChannels(
		cfg.Channels.RawBuffer,
		cfg.Channels.ProcessedBuffer,
	)
	defer channels.Close()

	go metrics.StartChannelSizeMetrics(ctx, channels, 30*time.Second)

	if cfg.Metrics.Prometheus.Enabled {
		go metrics.ServePrometheus(ctx, cfg.Metrics.Prometheus.Address)
	}

	lots := processor.NewLotSizeTable(cfg.LotSizes)
	decoder, err := processor.NewDecoder(processor.IndexedLayout)
	if err != nil {
		log.WithError(err).Error("invalid record layout")
		os.Exit(1)
	}
	aggregator := processor.NewAggregator(decoder, lots, lots.DefaultSymbol())

	chainReader := truedata.NewReader(cfg, channels, truedata.NewClientFromConfig(cfg))
	chainProcessor := processor.NewChainProcessor(cfg, channels, aggregator)

	// Each enabled sink gets its own copy of the snapshot stream.
	var sinkChans []chan models.ChainSnapshot
	sinkInput := func() <-chan models.ChainSnapshot {
		out := make(chan models.ChainSnapshot, cfg.Channels.ProcessedBuffer)
		sinkChans = append(sinkChans, out)
		return out
	}

	var chainWriter *writer.ChainWriter
	if cfg.Storage.S3.Enabled {
		chainWriter, err = writer.NewChainWriter(cfg, sinkInput())
		if err != nil {
			log.WithError(err).Error("failed to create S3 writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping writer")
	}

	var kafkaWriter *writer.KafkaWriter
	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg, sinkInput())
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	}

	if len(sinkChans) == 0 {
		go discardSnapshots(ctx, channels)
	} else {
		go chain.Broadcast(ctx, channels.Norm, sinkChans...)
	}

	if chainWriter != nil {
		if err := chainWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("chain writer failed to start")
		}
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("kafka writer failed to start")
		}
	}
	if err := chainProcessor.Start(ctx); err != nil {
		log.WithError(err).Warn("chain processor failed to start")
	}
	if err := chainReader.Start(ctx); err != nil {
		log.WithError(err).Error("chain reader failed to start")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Info("stopping chain reader")
		chainReader.Stop()

		log.Info("stopping chain processor")
		chainProcessor.Stop()

		if chainWriter != nil {
			log.Info("stopping chain writer")
			chainWriter.Stop()
		}
		if kafkaWriter != nil {
			log.Info("stopping kafka writer")
			kafkaWriter.Stop()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("chainflow stopped")
}

// discardSnapshots keeps the normalized channel moving when no sink is configured.
func discardSnapshots(ctx context.Context, channels *chain.Channels) {
	log := logger.GetLogger().WithComponent("main")
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-channels.Norm:
			if !ok {
				return
			}
			log.WithFields(logger.Fields{
				"symbol": snap.Symbol,
				"expiry": snap.Expiry,
				"rows":   len(snap.Rows),
			}).Debug("snapshot discarded")
		}
	}
}
