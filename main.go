package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"l4book/config"
	"l4book/internal/api"
	"l4book/internal/channel"
	"l4book/internal/display"
	"l4book/internal/metrics"
	"l4book/logger"
	"l4book/processor"
	"l4book/reader/hyperliquid"
	"l4book/writer"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	shardPath := flag.String("shards", "config/ip_shards.yml", "Path to market shard configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath, "config/config.yml"))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	shards, err := config.LoadMarketShards(*shardPath)
	if err != nil {
		log.WithError(err).Error("failed to load shard configuration")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
		"markets": cfg.Source.Markets,
	}).Info("starting l4book")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Prometheus {
		metrics.Init()
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	if strings.EqualFold(cfg.Logging.Level, "report") {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	var capture io.Writer
	if cfg.Source.Capture != "" {
		lj := &lumberjack.Logger{Filename: cfg.Source.Capture, MaxSize: 512, MaxBackups: 10, Compress: true}
		defer lj.Close()
		capture = &lockedWriter{w: lj}
	}

	policy, err := channel.ParsePolicy(cfg.Ingest.Policy)
	if err != nil {
		log.WithError(err).Error("invalid ingest policy")
		os.Exit(1)
	}
	queues := channel.NewRegistry()
	metrics.StartQueueMetrics(ctx, queues, time.Second)

	books := api.NewBooks()
	var wg sync.WaitGroup
	for _, market := range cfg.Source.Markets {
		sup, err := newSupervisor(cfg, shards, market, policy, queues, capture)
		if err != nil {
			log.WithError(err).WithMarket(market).Error("failed to set up market")
			os.Exit(1)
		}
		bk := sup.Book()
		books.Add(bk)
		logger.RegisterBook(market, func() logger.Fields {
			s := bk.Stats()
			return logger.Fields{"orders": s.Orders, "batches": s.Batches, "skipped": s.Skipped, "resyncs": s.Resyncs}
		})

		wg.Add(1)
		go func(market string) {
			defer wg.Done()
			defer logger.UnregisterBook(market)
			if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).WithMarket(market).Error("market ingestion stopped")
			}
		}(market)
	}

	if srv := api.NewServer(cfg.API, log, books); srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).Error("book api failed")
			}
		}()
	}

	var snapshotWriter *writer.SnapshotWriter
	if cfg.Storage.S3.Enabled {
		snapshotWriter, err = writer.NewSnapshotWriter(ctx, cfg.Storage.S3, books)
		if err != nil {
			log.WithError(err).Error("failed to create S3 writer")
			os.Exit(1)
		}
		if err := snapshotWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("s3 writer failed to start")
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping snapshot writer")
	}

	var publisher *writer.TopOfBookPublisher
	if cfg.Storage.Kafka.Enabled {
		publisher, err = writer.NewTopOfBookPublisher(cfg.Storage.Kafka, books)
		if err != nil {
			log.WithError(err).Error("failed to create kafka publisher")
			os.Exit(1)
		}
		if err := publisher.Start(ctx); err != nil {
			log.WithError(err).Warn("kafka publisher failed to start")
		}
	}

	if cfg.Display.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			display.Run(ctx, os.Stdout, books, cfg.Display.Interval, display.Options{Levels: cfg.Display.Levels, Orders: cfg.Display.Orders})
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if snapshotWriter != nil {
		log.Info("stopping S3 writer")
		snapshotWriter.Stop()
	}
	if publisher != nil {
		log.Info("stopping kafka publisher")
		publisher.Stop()
	}

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
	log.Info("l4book stopped")
}

// newSupervisor wires one market: its book, ingestor and feed dialer. A
// shard entry for the market overrides the endpoint and pins the source IP.
func newSupervisor(cfg *config.Config, shards *config.MarketShards, market string, policy channel.Policy, queues *channel.Registry, capture io.Writer) (*processor.Supervisor, error) {
	bk := processor.NewBook(market)
	in, err := processor.NewIngestor(bk, processor.IngestOptions{Buffer: cfg.Ingest.Buffer, Policy: policy, Queues: queues})
	if err != nil {
		return nil, err
	}

	wsCfg := hyperliquid.Config{
		URL:              cfg.Source.URL,
		Market:           market,
		PingInterval:     cfg.Source.PingInterval,
		ReadTimeout:      cfg.Source.ReadTimeout,
		HandshakeTimeout: cfg.Source.HandshakeTimeout,
		ReadLimit:        cfg.Source.ReadLimit,
		Capture:          capture,
	}
	if shard, ok := shards.Lookup(market); ok {
		wsCfg.LocalIP = shard.IP
		if shard.Endpoint != "" {
			wsCfg.URL = shard.Endpoint
		}
	}
	dial := func(ctx context.Context) (processor.Source, error) {
		src, err := hyperliquid.Dial(ctx, wsCfg)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", market, err)
		}
		return src, nil
	}

	return processor.NewSupervisor(in, dial, processor.SupervisorOptions{
		ReconnectDelay: cfg.Source.ReconnectDelay,
		MaxReconnects:  cfg.Source.MaxReconnects,
	}), nil
}

// lockedWriter serialises capture lines from concurrent subscriptions.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
