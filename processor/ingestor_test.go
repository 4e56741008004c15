package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"l4book/book"
	"l4book/internal/channel"
	"l4book/models"
)

// fakeSource replays frames, then returns err. When gate is set every Next
// waits for a token first.
type fakeSource struct {
	mu     sync.Mutex
	frames []models.Frame
	err    error
	gate   chan struct{}
	closed bool
}

func (s *fakeSource) Next(ctx context.Context) (models.Frame, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return models.Frame{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		if s.err == nil {
			<-ctx.Done()
			return models.Frame{}, ctx.Err()
		}
		return models.Frame{}, s.err
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func entries(triples ...string) models.Entries {
	var out models.Entries
	for i := 0; i+2 < len(triples); i += 3 {
		out = append(out, models.WireEntry{Price: triples[i], Size: triples[i+1], OrderID: triples[i+2]})
	}
	return out
}

func newIngestor(t *testing.T, market string, buffer int, policy channel.Policy) *Ingestor {
	t.Helper()
	in, err := NewIngestor(NewBook(market), IngestOptions{Buffer: buffer, Policy: policy})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	return in
}

func TestRunAppliesFramesUntilEOF(t *testing.T) {
	in := newIngestor(t, "BTC", 4, channel.Block)
	src := &fakeSource{
		frames: []models.Frame{
			{Market: "BTC", Type: models.FrameSnapshot, Bids: entries("100", "2", "a"), Asks: entries("101", "3", "b")},
			{Market: "BTC", Type: models.FrameDiff, Bids: entries("100", "3", "c", "100", "0", "a")},
			{Market: "ETH", Type: models.FrameDiff, Bids: entries("1", "1", "zzz")},
		},
		err: io.EOF,
	}

	if err := in.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !src.closed {
		t.Fatal("source not closed")
	}

	s := in.Book().Snapshot()
	lv := s.Levels(book.Bid)
	if len(lv) != 1 || lv[0].Count != 1 || lv[0].Size.String() != "3" {
		t.Fatalf("bid levels = %+v", lv)
	}
	if _, ok := s.Order("zzz"); ok {
		t.Fatal("frame for another market was applied")
	}
	st := in.Stats()
	if st.Frames != 2 || st.Snapshots != 1 || st.Mismatch != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRunWrapsConnectionError(t *testing.T) {
	in := newIngestor(t, "BTC", 4, channel.Block)
	cause := errors.New("read tcp: connection reset")
	src := &fakeSource{
		frames: []models.Frame{{Market: "BTC", Bids: entries("100", "1", "a")}},
		err:    cause,
	}

	err := in.Run(context.Background(), src)
	if !errors.Is(err, book.ErrConnection) || !errors.Is(err, cause) {
		t.Fatalf("Run error = %v", err)
	}
	if _, ok := in.Book().Snapshot().Order("a"); !ok {
		t.Fatal("frame buffered before the failure was not applied")
	}
}

func TestRunMarksStaleOnMalformedFrame(t *testing.T) {
	in := newIngestor(t, "BTC", 4, channel.Block)
	src := &fakeSource{
		frames: []models.Frame{{Market: "BTC", Type: models.FrameSnapshot, Bids: entries("100", "1", "a")}},
		err:    fmt.Errorf("feed: %w", models.ErrMalformedFrame),
	}

	err := in.Run(context.Background(), src)
	if !errors.Is(err, book.ErrConnection) || !errors.Is(err, models.ErrMalformedFrame) {
		t.Fatalf("Run error = %v", err)
	}
	s := in.Book().Snapshot()
	if !s.Stale() {
		t.Fatal("book not stale after losing a frame")
	}
	if _, ok := s.Order("a"); !ok {
		t.Fatal("frame before the corrupt one was not applied")
	}
}

func TestRunSkipsMalformedEntries(t *testing.T) {
	in := newIngestor(t, "BTC", 4, channel.Block)
	src := &fakeSource{
		frames: []models.Frame{{Market: "BTC", Bids: entries("abc", "1", "bad", "100", "1", "good")}},
		err:    io.EOF,
	}
	if err := in.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := in.Book().Stats()
	if st.Applied != 1 || st.Skipped != 1 {
		t.Fatalf("book stats = %+v", st)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	in := newIngestor(t, "BTC", 4, channel.Block)
	src := &fakeSource{frames: []models.Frame{{Market: "BTC", Bids: entries("100", "1", "a")}}}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- in.Run(ctx, src) }()

	deadline := time.Now().Add(2 * time.Second)
	for in.Stats().Frames == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if in.Book().Snapshot().OrderCount(book.Bid) != 1 {
		t.Fatal("frame before cancel not applied")
	}
}

// gateObserver blocks the applier on the first malformed entry until
// released, which holds the consumer inside a batch.
type gateObserver struct {
	book.NopObserver
	entered chan struct{}
	release chan struct{}
}

func newGateObserver() *gateObserver {
	return &gateObserver{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gateObserver) ParseError(book.Entry, error) {
	g.entered <- struct{}{}
	<-g.release
}

// holdFirstFrame lets exactly one frame through, waits until the applier is
// stuck inside it, then opens the source fully.
func holdFirstFrame(t *testing.T, src *fakeSource, obs *gateObserver) {
	t.Helper()
	src.gate <- struct{}{}
	select {
	case <-obs.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("applier never reached the first frame")
	}
	close(src.gate)
}

func TestRunOverflowMarksStale(t *testing.T) {
	obs := newGateObserver()
	b := book.New("BTC", obs)
	queues := channel.NewRegistry()
	in, err := NewIngestor(b, IngestOptions{Buffer: 1, Policy: channel.DropOldest, Queues: queues})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	src := &fakeSource{frames: []models.Frame{
		{Market: "BTC", Bids: entries("bad", "1", "x", "100", "1", "a")},
		{Market: "BTC", Bids: entries("100", "1", "b")},
		{Market: "BTC", Bids: entries("100", "1", "c")},
		{Market: "BTC", Bids: entries("100", "1", "d")},
	}, gate: make(chan struct{})}

	errc := make(chan error, 1)
	go func() { errc <- in.Run(context.Background(), src) }()
	holdFirstFrame(t, src, obs)

	deadline := time.Now().Add(2 * time.Second)
	for queues.Stats()["BTC"].Dropped < 2 {
		if time.Now().After(deadline) {
			t.Fatal("queue never overflowed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(obs.release)

	select {
	case err := <-errc:
		if !errors.Is(err, book.ErrOverflow) {
			t.Fatalf("Run error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if !b.Snapshot().Stale() {
		t.Fatal("book not marked stale on overflow")
	}
	if _, ok := b.Snapshot().Order("d"); ok {
		t.Fatal("frame after a gap was applied")
	}
}

func TestRunSnapshotClearsOverflow(t *testing.T) {
	obs := newGateObserver()
	b := book.New("BTC", obs)
	queues := channel.NewRegistry()
	in, err := NewIngestor(b, IngestOptions{Buffer: 1, Policy: channel.DropOldest, Queues: queues})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	src := &fakeSource{
		frames: []models.Frame{
			{Market: "BTC", Bids: entries("bad", "1", "x")},
			{Market: "BTC", Bids: entries("100", "1", "lost")},
			{Market: "BTC", Type: models.FrameSnapshot, Bids: entries("100", "1", "fresh")},
		},
		err:  io.EOF,
		gate: make(chan struct{}),
	}

	errc := make(chan error, 1)
	go func() { errc <- in.Run(context.Background(), src) }()
	holdFirstFrame(t, src, obs)

	deadline := time.Now().Add(2 * time.Second)
	for queues.Stats()["BTC"].Dropped < 1 {
		if time.Now().After(deadline) {
			t.Fatal("queue never overflowed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(obs.release)

	if err := <-errc; err != nil {
		t.Fatalf("Run error = %v", err)
	}
	s := b.Snapshot()
	if s.Stale() {
		t.Fatal("snapshot did not clear stale flag")
	}
	if _, ok := s.Order("fresh"); !ok {
		t.Fatal("snapshot after overflow not applied")
	}
}

func TestRunDetectsEvictionAfterSnapshotDequeued(t *testing.T) {
	obs := newGateObserver()
	b := book.New("BTC", obs)
	queues := channel.NewRegistry()
	in, err := NewIngestor(b, IngestOptions{Buffer: 1, Policy: channel.DropOldest, Queues: queues})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	src := &fakeSource{
		frames: []models.Frame{
			{Market: "BTC", Type: models.FrameSnapshot, Bids: entries("bad", "1", "x", "100", "1", "s1")},
			{Market: "BTC", Type: models.FrameDiff, Bids: entries("100", "1", "d1")},
			{Market: "BTC", Type: models.FrameDiff, Bids: entries("100", "1", "d2")},
		},
		err:  io.EOF,
		gate: make(chan struct{}),
	}

	errc := make(chan error, 1)
	go func() { errc <- in.Run(context.Background(), src) }()
	// The snapshot is out of the queue and being applied while d2 evicts d1.
	holdFirstFrame(t, src, obs)

	deadline := time.Now().Add(2 * time.Second)
	for queues.Stats()["BTC"].Dropped < 1 {
		if time.Now().After(deadline) {
			t.Fatal("queue never overflowed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(obs.release)

	select {
	case err := <-errc:
		if !errors.Is(err, book.ErrOverflow) {
			t.Fatalf("Run error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	s := b.Snapshot()
	if !s.Stale() {
		t.Fatal("book not marked stale after losing d1")
	}
	if _, ok := s.Order("s1"); !ok {
		t.Fatal("snapshot was not applied")
	}
	if _, ok := s.Order("d2"); ok {
		t.Fatal("d2 applied on top of the missing d1")
	}
}

func TestNewIngestorValidates(t *testing.T) {
	if _, err := NewIngestor(NewBook("BTC"), IngestOptions{Buffer: 0}); err == nil {
		t.Fatal("expected error for zero buffer")
	}
	if _, err := NewIngestor(NewBook("BTC"), IngestOptions{Buffer: 1, Policy: "lossy"}); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
