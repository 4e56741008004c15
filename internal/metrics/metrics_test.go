package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"l4book/book"
	"l4book/internal/channel"
	"l4book/logger"
	"l4book/models"
)

func TestObserveApplyAndSnapshot(t *testing.T) {
	Init()
	before := testutil.ToFloat64(current.Load().entriesApplied.WithLabelValues("TEST"))

	b := book.New("TEST", nil)
	res := b.Apply([]book.Entry{
		{OrderID: "1", Side: book.Bid, Price: "100", Size: "1"},
		{OrderID: "2", Side: book.Ask, Price: "x", Size: "1"},
	})
	ObserveApply("TEST", res)
	ObserveSnapshot(b.Snapshot())

	if got := testutil.ToFloat64(current.Load().entriesApplied.WithLabelValues("TEST")) - before; got != 1 {
		t.Fatalf("applied delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(current.Load().orders.WithLabelValues("TEST", "bid")); got != 1 {
		t.Fatalf("bid orders gauge = %v", got)
	}
	if got := testutil.ToFloat64(current.Load().levels.WithLabelValues("TEST", "ask")); got != 0 {
		t.Fatalf("ask levels gauge = %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	IncResync("SRV")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `l4book_resyncs_total{market="SRV"} 1`) {
		t.Fatalf("resync counter missing from output")
	}
}

func TestReportQueues(t *testing.T) {
	Init()
	r := channel.NewRegistry()
	q, err := channel.NewFrameQueue("q", 2, channel.Block)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	r.Put("QUEUE", q)
	_ = q.Send(context.Background(), models.Frame{Market: "QUEUE"})

	ReportQueues(logger.Logger(), r)
	if got := testutil.ToFloat64(current.Load().queueLength.WithLabelValues("QUEUE")); got != 1 {
		t.Fatalf("queue length gauge = %v", got)
	}
}

func TestInitRacesWithRecorders(t *testing.T) {
	b := book.New("RACE", nil)
	b.Apply([]book.Entry{{OrderID: "1", Side: book.Bid, Price: "1", Size: "1"}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ObserveApply("RACE", book.ApplyResult{Applied: 1})
				ObserveSnapshot(b.Snapshot())
				IncResync("RACE")
				SetQueueLength("RACE", j)
			}
		}()
	}
	Init()
	wg.Wait()
	if !Enabled() {
		t.Fatal("collectors not enabled after Init")
	}
}
