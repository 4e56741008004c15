package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"l4book/book"
	"l4book/internal/channel"
	"l4book/internal/metrics"
	"l4book/logger"
	"l4book/models"
)

type IngestOptions struct {
	Buffer int
	Policy channel.Policy
	// Queues, when set, exposes the live queue for occupancy metrics.
	Queues *channel.Registry
}

type IngestStats struct {
	Frames    int64
	Snapshots int64
	Mismatch  int64
}

// Ingestor feeds one book from one subscription at a time. It is the
// book's only writer.
type Ingestor struct {
	book *book.Book
	opts IngestOptions
	log  *logger.Log

	mu      sync.RWMutex
	running bool
	stats   IngestStats
}

func NewIngestor(b *book.Book, opts IngestOptions) (*Ingestor, error) {
	if opts.Buffer <= 0 {
		return nil, fmt.Errorf("ingestor %s: buffer must be greater than 0", b.Market())
	}
	if _, err := channel.ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	return &Ingestor{book: b, opts: opts, log: logger.GetLogger()}, nil
}

func (in *Ingestor) Book() *book.Book { return in.book }

func (in *Ingestor) Stats() IngestStats {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.stats
}

// Run consumes src until it ends, fails or ctx is done, and takes ownership
// of src: it is closed before Run returns.
//
// Frames are applied one at a time in arrival order. Cancellation is only
// observed between frames and no buffered frame is applied after it.
// Run returns nil when src reports io.EOF, ctx.Err() on cancellation,
// book.ErrConnection wrapping the transport error after the frames already
// buffered were applied, and book.ErrOverflow once the queue evicted a frame
// and the book was marked stale. A source error wrapping
// models.ErrMalformedFrame also marks the book stale.
func (in *Ingestor) Run(ctx context.Context, src Source) error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return fmt.Errorf("ingestor %s already running", in.book.Market())
	}
	in.running = true
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		in.running = false
		in.mu.Unlock()
	}()

	market := in.book.Market()
	log := in.log.WithComponent("ingest").WithMarket(market)

	q, err := channel.NewFrameQueue(market, in.opts.Buffer, in.opts.Policy)
	if err != nil {
		_ = src.Close()
		return err
	}
	q.OnDrop = func(models.Frame) {
		logger.IncrementFrameDropped()
		metrics.EmitDropMetric(in.log, metrics.DropMetricFrameQueue, market, "queue")
	}
	if in.opts.Queues != nil {
		in.opts.Queues.Put(market, q)
		defer in.opts.Queues.Remove(market, q)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	var srcErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer q.Close()
		srcErr = in.pump(pumpCtx, src, q)
	}()
	stop := func() {
		cancel()
		_ = src.Close()
		<-done
	}

	log.WithField("policy", string(q.Policy())).Info("ingestion started")

	for {
		select {
		case <-ctx.Done():
			stop()
			log.Info("ingestion cancelled")
			return ctx.Err()
		case f, ok := <-q.Frames():
			if !ok {
				// The pump has exited and everything it queued was applied.
				stop()
				return in.finish(log, srcErr)
			}
			if ctx.Err() != nil {
				stop()
				log.Info("ingestion cancelled")
				return ctx.Err()
			}
			// A snapshot replaces everything the evicted frames would have
			// changed; any other frame after a hole would build on a gap.
			if q.Missed(f) && !f.IsSnapshot() {
				in.book.MarkStale()
				stop()
				log.WithFields(logger.Fields{
					"dropped": q.Stats().Dropped,
					"seq":     f.Seq,
				}).Error("frame queue overflowed; book marked stale")
				return book.ErrOverflow
			}
			in.apply(f)
		}
	}
}

func (in *Ingestor) finish(log *logger.Entry, srcErr error) error {
	switch {
	case srcErr == nil, errors.Is(srcErr, io.EOF):
		log.Info("subscription ended")
		return nil
	case errors.Is(srcErr, context.Canceled), errors.Is(srcErr, context.DeadlineExceeded):
		return srcErr
	}
	if errors.Is(srcErr, models.ErrMalformedFrame) {
		// The frame is gone; the book stays stale until the next snapshot.
		in.book.MarkStale()
		log.WithError(srcErr).Error("undecodable l4 frame; book marked stale")
	} else {
		log.WithError(srcErr).Warn("feed connection lost")
	}
	return fmt.Errorf("%w: %s: %w", book.ErrConnection, in.book.Market(), srcErr)
}

// pump is the only place that blocks on the transport.
func (in *Ingestor) pump(ctx context.Context, src Source, q *channel.FrameQueue) error {
	market := in.book.Market()
	for {
		f, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if f.Market != "" && f.Market != market {
			in.mu.Lock()
			in.stats.Mismatch++
			in.mu.Unlock()
			continue
		}
		if f.ReceivedAt.IsZero() {
			f.ReceivedAt = time.Now()
		}
		if err := q.Send(ctx, f); err != nil {
			return err
		}
	}
}

func (in *Ingestor) apply(f models.Frame) {
	start := time.Now()
	market := in.book.Market()
	batch := f.Batch()

	var res book.ApplyResult
	if f.IsSnapshot() {
		res = in.book.ApplySnapshot(batch)
		metrics.IncResync(market)
	} else {
		res = in.book.Apply(batch)
	}

	in.mu.Lock()
	in.stats.Frames++
	if f.IsSnapshot() {
		in.stats.Snapshots++
	}
	in.mu.Unlock()

	metrics.ObserveApply(market, res)
	metrics.ObserveSnapshot(in.book.Snapshot())
	logger.IncrementFrameApplied(len(batch))
	if res.Skipped > 0 {
		logger.AddEntriesSkipped(res.Skipped)
	}

	entry := in.log.WithComponent("ingest").WithMarket(market)
	if f.IsSnapshot() {
		entry.WithFields(logger.Fields{
			"orders": res.Applied,
			"height": f.Height,
		}).Info("applied book snapshot")
	}
	logger.LogPerformanceEntry(entry, "ingest", "apply_frame", time.Since(start), logger.Fields{
		"type":    f.Type,
		"entries": len(batch),
		"skipped": res.Skipped,
	})
}
