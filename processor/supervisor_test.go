package processor

import (
	"context"
	"errors"
	"io"
	"testing"

	"l4book/book"
	"l4book/internal/channel"
	"l4book/models"
)

func TestSupervisorResetsBookBeforeResubscribe(t *testing.T) {
	in := newIngestor(t, "BTC", 4, channel.Block)
	bk := in.Book()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	var ordersAtSecondDial int
	var staleAtSecondDial bool
	dial := func(ctx context.Context) (Source, error) {
		calls++
		switch calls {
		case 1:
			return &fakeSource{
				frames: []models.Frame{{Market: "BTC", Type: models.FrameSnapshot, Bids: entries("100", "1", "a")}},
				err:    errors.New("connection reset by peer"),
			}, nil
		case 2:
			ordersAtSecondDial = bk.Snapshot().OrderCount(book.Bid)
			staleAtSecondDial = bk.Snapshot().Stale()
			return &fakeSource{
				frames: []models.Frame{{Market: "BTC", Type: models.FrameDiff, Bids: entries("99", "1", "b")}},
				err:    io.EOF,
			}, nil
		default:
			cancel()
			return nil, ctx.Err()
		}
	}

	err := NewSupervisor(in, dial, SupervisorOptions{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if calls != 3 {
		t.Fatalf("dialled %d times, want 3", calls)
	}
	if ordersAtSecondDial != 0 {
		t.Fatalf("book kept %d orders across resubscription", ordersAtSecondDial)
	}
	if !staleAtSecondDial {
		t.Fatal("cleared book was presented as current before the new snapshot")
	}
	if st := in.Stats(); st.Frames != 2 || st.Snapshots != 1 {
		t.Fatalf("unexpected ingest stats %+v", st)
	}
}

func TestSupervisorGivesUp(t *testing.T) {
	in := newIngestor(t, "ETH", 4, channel.Block)
	calls := 0
	dial := func(context.Context) (Source, error) {
		calls++
		return nil, errors.New("dial refused")
	}

	err := NewSupervisor(in, dial, SupervisorOptions{MaxReconnects: 3}).Run(context.Background())
	if err == nil || calls != 3 {
		t.Fatalf("Run = %v after %d dials, want error after 3", err, calls)
	}
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	in := newIngestor(t, "SOL", 4, channel.Block)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dial := func(context.Context) (Source, error) {
		t.Fatal("dialled after cancellation")
		return nil, nil
	}
	if err := NewSupervisor(in, dial, SupervisorOptions{}).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
}
