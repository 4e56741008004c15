package display

import (
	"bytes"
	"strings"
	"testing"

	"l4book/book"
)

func TestRenderLadder(t *testing.T) {
	bk := book.New("BTC", nil)
	bk.ApplySnapshot([]book.Entry{
		{OrderID: "b1", Side: book.Bid, Price: "100", Size: "1"},
		{OrderID: "b2", Side: book.Bid, Price: "100", Size: "2"},
		{OrderID: "b3", Side: book.Bid, Price: "100", Size: "3"},
		{OrderID: "a1", Side: book.Ask, Price: "101", Size: "1"},
		{OrderID: "a2", Side: book.Ask, Price: "102", Size: "5"},
	})

	var buf bytes.Buffer
	Render(&buf, bk.Snapshot(), Options{Levels: 5, Orders: 2})
	out := buf.String()

	far := strings.Index(out, "102")
	near := strings.Index(out, "101")
	spread := strings.Index(out, "spread")
	bid := strings.Index(out, "b1:1")
	if far < 0 || near < 0 || spread < 0 || bid < 0 {
		t.Fatalf("missing rows in\n%s", out)
	}
	if !(far < near && near < spread && spread < bid) {
		t.Fatalf("rows out of order in\n%s", out)
	}
	if !strings.Contains(out, "b2:2 +1") {
		t.Fatalf("queue not truncated in\n%s", out)
	}
	if !strings.Contains(out, "BTC v1") {
		t.Fatalf("caption missing in\n%s", out)
	}
}

func TestRenderEmptyStaleBook(t *testing.T) {
	bk := book.New("ETH", nil)
	bk.MarkStale()

	var buf bytes.Buffer
	Render(&buf, bk.Snapshot(), Options{})
	out := buf.String()
	if !strings.Contains(out, "STALE") || !strings.Contains(out, "mid -") {
		t.Fatalf("unexpected output\n%s", out)
	}
}
