// Package writer persists and publishes views of the live books.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"l4book/book"
	appconfig "l4book/config"
	"l4book/internal/metrics"
	"l4book/logger"
)

// Books is the set of live books the sinks read from.
type Books interface {
	Book(market string) (*book.Book, bool)
	Markets() []string
}

// SnapshotWriter periodically uploads the top levels of every book to S3
// as parquet. A market whose book has not changed since its last upload is
// skipped.
type SnapshotWriter struct {
	cfg    appconfig.S3Config
	books  Books
	client objectPutter
	log    *logger.Log
	now    func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	written map[string]uint64
	stats   metrics.WriterStats
}

func NewSnapshotWriter(ctx context.Context, cfg appconfig.S3Config, books Books) (*SnapshotWriter, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newSnapshotWriter(cfg, books, client), nil
}

func newSnapshotWriter(cfg appconfig.S3Config, books Books, client objectPutter) *SnapshotWriter {
	if cfg.Depth <= 0 {
		cfg.Depth = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	return &SnapshotWriter{
		cfg:     cfg,
		books:   books,
		client:  client,
		log:     logger.GetLogger(),
		now:     time.Now,
		written: make(map[string]uint64),
	}
}

// Start launches the flush loop.
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("snapshot writer already running")
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Flush(ctx)
			}
		}
	}()

	w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"bucket":   w.cfg.Bucket,
		"interval": w.cfg.FlushInterval.String(),
		"depth":    w.cfg.Depth,
	}).Info("snapshot writer started")
	return nil
}

// Stop ends the loop and writes a final snapshot of every book.
func (w *SnapshotWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	w.Flush(ctx)
	metrics.ReportWriter(w.log, "s3_writer", w.Stats())
	w.log.WithComponent("s3_writer").Info("snapshot writer stopped")
}

// Flush uploads one file per changed market and returns how many were
// written.
func (w *SnapshotWriter) Flush(ctx context.Context) int {
	files := 0
	for _, market := range w.books.Markets() {
		bk, ok := w.books.Book(market)
		if !ok {
			continue
		}
		snap := bk.Snapshot()

		w.mu.Lock()
		last, seen := w.written[market]
		w.mu.Unlock()
		if seen && last == snap.Version() {
			continue
		}
		if err := w.write(ctx, snap); err != nil {
			w.mu.Lock()
			w.stats.ErrorsCount++
			w.mu.Unlock()
			w.log.WithComponent("s3_writer").WithMarket(market).WithError(err).Error("snapshot upload failed")
			continue
		}
		files++
	}
	w.mu.Lock()
	w.stats.Flushes++
	w.mu.Unlock()
	return files
}

func (w *SnapshotWriter) write(ctx context.Context, snap *book.Snapshot) error {
	at := w.now().UTC()
	rows := snapshotRows(snap, w.cfg.Depth, at)
	data, err := encodeParquet(rows)
	if err != nil {
		return fmt.Errorf("encode parquet: %w", err)
	}
	key := w.s3Key(snap.Market(), at)
	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	w.mu.Lock()
	w.written[snap.Market()] = snap.Version()
	w.stats.FilesWritten++
	w.stats.BytesWritten += int64(len(data))
	w.stats.Rows += int64(len(rows))
	w.mu.Unlock()

	logger.IncrementS3Write(int64(len(data)))
	w.log.WithComponent("s3_writer").WithMarket(snap.Market()).WithFields(logger.Fields{
		"s3_key":  key,
		"rows":    len(rows),
		"bytes":   len(data),
		"version": snap.Version(),
	}).Debug("book snapshot uploaded")
	return nil
}

func (w *SnapshotWriter) s3Key(market string, at time.Time) string {
	return path.Join(
		w.cfg.Prefix,
		"market="+market,
		fmt.Sprintf("year=%04d", at.Year()),
		fmt.Sprintf("month=%02d", int(at.Month())),
		fmt.Sprintf("day=%02d", at.Day()),
		fmt.Sprintf("hour=%02d", at.Hour()),
		fmt.Sprintf("l4book_%s_%d_%s.parquet", market, at.UnixNano(), uuid.NewString()),
	)
}

func (w *SnapshotWriter) Stats() metrics.WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
