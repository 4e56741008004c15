package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"l4book/book"
	"l4book/internal/metrics"
	"l4book/logger"
)

// DialFunc opens a fresh subscription for one market.
type DialFunc func(ctx context.Context) (Source, error)

// SupervisorOptions control resubscription.
type SupervisorOptions struct {
	// ReconnectDelay is the minimum gap between subscription attempts.
	ReconnectDelay time.Duration
	// MaxReconnects stops the supervisor after that many consecutive
	// failed attempts. Zero means retry forever.
	MaxReconnects int
}

// Supervisor keeps an Ingestor subscribed. Before every resubscription the
// book is cleared, so no order from the previous subscription survives into
// the next one.
type Supervisor struct {
	ingestor *Ingestor
	dial     DialFunc
	opts     SupervisorOptions
	limiter  *rate.Limiter
	log      *logger.Entry
}

func NewSupervisor(in *Ingestor, dial DialFunc, opts SupervisorOptions) *Supervisor {
	limit := rate.Inf
	if opts.ReconnectDelay > 0 {
		limit = rate.Every(opts.ReconnectDelay)
	}
	return &Supervisor{
		ingestor: in,
		dial:     dial,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		log:      logger.GetLogger().WithComponent("supervisor").WithMarket(in.Book().Market()),
	}
}

func (s *Supervisor) Book() *book.Book { return s.ingestor.Book() }

// Run subscribes and resubscribes until ctx is done or MaxReconnects
// consecutive attempts failed. It returns ctx.Err() on cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	bk := s.ingestor.Book()
	market := bk.Market()
	failures := 0

	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if attempt > 0 {
			bk.Reset()
			metrics.IncReconnect(market)
			logger.IncrementReconnect()
		}

		src, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			s.log.WithError(err).WithField("failures", failures).Warn("subscription failed")
			if s.opts.MaxReconnects > 0 && failures >= s.opts.MaxReconnects {
				return fmt.Errorf("%s: giving up after %d failed subscriptions: %w", market, failures, err)
			}
			continue
		}

		before := s.ingestor.Stats().Frames
		err = s.ingestor.Run(ctx, src)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			failures = 0
			s.log.Info("subscription closed by feed; resubscribing")
		default:
			// A subscription that delivered frames before failing resets the
			// failure count.
			if s.ingestor.Stats().Frames > before {
				failures = 0
			}
			failures++
			entry := s.log.WithError(err).WithField("failures", failures)
			if errors.Is(err, book.ErrOverflow) {
				entry.Warn("book stale after overflow; resubscribing")
			} else {
				entry.Warn("subscription lost; resubscribing")
			}
			if s.opts.MaxReconnects > 0 && failures >= s.opts.MaxReconnects {
				return fmt.Errorf("%s: giving up after %d failed subscriptions: %w", market, failures, err)
			}
		}
	}
}
