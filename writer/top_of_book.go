package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"l4book/book"
	appconfig "l4book/config"
	"l4book/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TopOfBook is the message published for every book change.
type TopOfBook struct {
	Market  string      `json:"market"`
	Version uint64      `json:"version"`
	Stale   bool        `json:"stale"`
	Time    time.Time   `json:"time"`
	BestBid *book.Level `json:"best_bid"`
	BestAsk *book.Level `json:"best_ask"`
	Spread  string      `json:"spread,omitempty"`
	Mid     string      `json:"mid,omitempty"`
	Bids    int         `json:"bid_orders"`
	Asks    int         `json:"ask_orders"`
}

func topOfBook(snap *book.Snapshot) TopOfBook {
	t := TopOfBook{
		Market:  snap.Market(),
		Version: snap.Version(),
		Stale:   snap.Stale(),
		Time:    snap.UpdatedAt(),
		Bids:    snap.OrderCount(book.Bid),
		Asks:    snap.OrderCount(book.Ask),
	}
	if l, ok := snap.Best(book.Bid); ok {
		t.BestBid = &l
	}
	if l, ok := snap.Best(book.Ask); ok {
		t.BestAsk = &l
	}
	if s, ok := snap.Spread(); ok {
		t.Spread = s.String()
	}
	if m, ok := snap.Mid(); ok {
		t.Mid = m.String()
	}
	return t
}

// TopOfBookPublisher polls the books each interval and writes a JSON
// top-of-book message, keyed by market, for every book whose version moved.
type TopOfBookPublisher struct {
	cfg    appconfig.KafkaConfig
	books  Books
	writer messageWriter
	log    *logger.Log

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	sent    map[string]uint64
}

func NewTopOfBookPublisher(cfg appconfig.KafkaConfig, books Books) (*TopOfBookPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	p := newTopOfBookPublisher(cfg, books, w)
	p.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka publisher initialized")
	return p, nil
}

func newTopOfBookPublisher(cfg appconfig.KafkaConfig, books Books, w messageWriter) *TopOfBookPublisher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &TopOfBookPublisher{
		cfg:    cfg,
		books:  books,
		writer: w,
		log:    logger.GetLogger(),
		sent:   make(map[string]uint64),
	}
}

func (p *TopOfBookPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("kafka publisher already running")
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.Publish(ctx); err != nil && ctx.Err() == nil {
					p.log.WithComponent("kafka_writer").WithError(err).Warn("failed to publish top of book")
				}
			}
		}
	}()
	return nil
}

// Publish writes one message per changed book and returns how many were sent.
func (p *TopOfBookPublisher) Publish(ctx context.Context) (int, error) {
	var (
		msgs     []kafka.Message
		versions = map[string]uint64{}
	)
	for _, market := range p.books.Markets() {
		bk, ok := p.books.Book(market)
		if !ok {
			continue
		}
		snap := bk.Snapshot()
		p.mu.Lock()
		last, seen := p.sent[market]
		p.mu.Unlock()
		if seen && last == snap.Version() {
			continue
		}
		data, err := json.Marshal(topOfBook(snap))
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(market), Value: data})
		versions[market] = snap.Version()
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}

	p.mu.Lock()
	for m, v := range versions {
		p.sent[m] = v
	}
	p.mu.Unlock()
	for _, m := range msgs {
		logger.IncrementKafkaMessage(len(m.Value))
	}
	return len(msgs), nil
}

// Stop waits for the loop to exit; cancel the Start context first.
func (p *TopOfBookPublisher) Stop() {
	p.mu.Lock()
	running := p.running
	p.running = false
	p.mu.Unlock()
	if !running {
		return
	}
	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		p.log.WithComponent("kafka_writer").WithError(err).Warn("failed to close kafka writer")
	}
	p.log.WithComponent("kafka_writer").Debug("kafka publisher stopped")
}
