package book

import (
	"fmt"
	"testing"
)

func apply(t *testing.T, b *Book, entries ...Entry) {
	t.Helper()
	if res := b.Apply(entries); res.Skipped != 0 {
		t.Fatalf("unexpected skipped entries: %+v", res)
	}
}

func bid(id, px, sz string) Entry { return Entry{OrderID: id, Side: Bid, Price: px, Size: sz} }
func ask(id, px, sz string) Entry { return Entry{OrderID: id, Side: Ask, Price: px, Size: sz} }

func TestSnapshotBasicSpread(t *testing.T) {
	b := New("BTC", nil)
	apply(t, b, bid("1", "100", "2"), ask("2", "101", "3"))

	s := b.Snapshot()
	best, ok := s.Best(Bid)
	if !ok || !best.Price.Equal(d("100")) || !best.Size.Equal(d("2")) || best.Count != 1 {
		t.Fatalf("best bid = %+v, %v", best, ok)
	}
	best, ok = s.Best(Ask)
	if !ok || !best.Price.Equal(d("101")) || !best.Size.Equal(d("3")) || best.Count != 1 {
		t.Fatalf("best ask = %+v, %v", best, ok)
	}
	spread, ok := s.Spread()
	if !ok || !spread.Equal(d("1")) {
		t.Fatalf("spread = %s, %v", spread, ok)
	}
	mid, ok := s.Mid()
	if !ok || !mid.Equal(d("100.5")) {
		t.Fatalf("mid = %s, %v", mid, ok)
	}
}

func TestSnapshotLevelAggregation(t *testing.T) {
	b := New("BTC", nil)
	apply(t, b, bid("1", "100", "2"), bid("2", "100", "3"), bid("3", "99", "1"))

	lv := b.Snapshot().Levels(Bid)
	if len(lv) != 2 {
		t.Fatalf("levels = %+v", lv)
	}
	if !lv[0].Price.Equal(d("100")) || !lv[0].Size.Equal(d("5")) || lv[0].Count != 2 {
		t.Fatalf("level 0 = %+v", lv[0])
	}
	if !lv[1].Price.Equal(d("99")) || !lv[1].Size.Equal(d("1")) || lv[1].Count != 1 {
		t.Fatalf("level 1 = %+v", lv[1])
	}
}

func TestSnapshotFullRemovalEmptiesLevel(t *testing.T) {
	b := New("BTC", nil)
	apply(t, b, bid("1", "100", "2"), bid("2", "100", "3"), bid("3", "99", "1"))
	apply(t, b, bid("1", "100", "0"), bid("2", "100", "0"))

	s := b.Snapshot()
	lv := s.Levels(Bid)
	if len(lv) != 1 || !lv[0].Price.Equal(d("99")) || !lv[0].Size.Equal(d("1")) || lv[0].Count != 1 {
		t.Fatalf("levels = %+v", lv)
	}
	if got := s.OrdersAt(Bid, d("100")); len(got) != 0 {
		t.Fatalf("orders at 100 = %+v", got)
	}
}

func TestSnapshotEmptySides(t *testing.T) {
	b := New("BTC", nil)
	s := b.Snapshot()
	if _, ok := s.Best(Bid); ok {
		t.Fatal("best bid on empty book")
	}
	if _, ok := s.Spread(); ok {
		t.Fatal("spread on empty book")
	}
	apply(t, b, bid("1", "100", "1"))
	if _, ok := b.Snapshot().Spread(); ok {
		t.Fatal("spread with empty ask side")
	}
	if _, ok := b.Snapshot().Mid(); ok {
		t.Fatal("mid with empty ask side")
	}
}

func TestSnapshotSortOrder(t *testing.T) {
	b := New("ETH", nil)
	apply(t, b,
		bid("1", "99", "1"), bid("2", "101", "1"), bid("3", "100", "1"),
		ask("4", "105", "1"), ask("5", "103", "1"), ask("6", "104", "1"),
	)
	s := b.Snapshot()
	wantBids := []string{"101", "100", "99"}
	for i, lvl := range s.Levels(Bid) {
		if !lvl.Price.Equal(d(wantBids[i])) {
			t.Fatalf("bid %d = %s, want %s", i, lvl.Price, wantBids[i])
		}
	}
	wantAsks := []string{"103", "104", "105"}
	for i, lvl := range s.Levels(Ask) {
		if !lvl.Price.Equal(d(wantAsks[i])) {
			t.Fatalf("ask %d = %s, want %s", i, lvl.Price, wantAsks[i])
		}
	}
	top := s.TopN(Ask, 2)
	if len(top) != 2 || !top[1].Price.Equal(d("104")) {
		t.Fatalf("top 2 asks = %+v", top)
	}
	if n := len(s.TopN(Bid, 10)); n != 3 {
		t.Fatalf("top 10 bids returned %d levels", n)
	}
	if !s.Depth(Bid, 2).Equal(d("2")) {
		t.Fatalf("depth = %s, want 2", s.Depth(Bid, 2))
	}
	if s.LevelCount(Ask) != 3 || s.OrderCount(Ask) != 3 {
		t.Fatalf("ask counts = %d levels %d orders", s.LevelCount(Ask), s.OrderCount(Ask))
	}
}

func TestSnapshotQueuePosition(t *testing.T) {
	b := New("BTC", nil)
	apply(t, b, bid("a", "100", "1"), bid("b", "100", "1"), bid("c", "100", "1"))

	pos, ok := b.Snapshot().QueuePosition("b")
	if !ok || pos.Rank != 2 || pos.Total != 3 {
		t.Fatalf("position of b = %+v, %v", pos, ok)
	}

	// A size change keeps the place in the queue.
	apply(t, b, bid("a", "100", "4"))
	pos, _ = b.Snapshot().QueuePosition("a")
	if pos.Rank != 1 {
		t.Fatalf("a moved to rank %d after resize", pos.Rank)
	}

	// A reprice sends it to the back of the new level.
	apply(t, b, bid("a", "99", "4"), bid("a", "100", "4"))
	pos, _ = b.Snapshot().QueuePosition("a")
	if pos.Rank != 3 || pos.Total != 3 {
		t.Fatalf("a after reprice = %+v", pos)
	}

	orders := b.Snapshot().OrdersAt(Bid, d("100.0"))
	if len(orders) != 3 || orders[0].ID != "b" || orders[1].ID != "c" || orders[2].ID != "a" {
		t.Fatalf("orders at 100 = %+v", orders)
	}
	if _, ok := b.Snapshot().QueuePosition("zzz"); ok {
		t.Fatal("queue position for unknown order")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	b := New("BTC", nil)
	apply(t, b, bid("1", "100", "2"))
	before := b.Snapshot()

	apply(t, b, bid("1", "100", "7"), bid("2", "98", "1"), ask("3", "101", "1"))

	lv := before.Levels(Bid)
	if len(lv) != 1 || !lv[0].Size.Equal(d("2")) {
		t.Fatalf("old snapshot changed: %+v", lv)
	}
	if _, ok := before.Best(Ask); ok {
		t.Fatal("old snapshot gained an ask")
	}
	o, ok := before.Order("1")
	if !ok || !o.Size.Equal(d("2")) {
		t.Fatalf("old snapshot order = %+v", o)
	}
	if before.Version() >= b.Snapshot().Version() {
		t.Fatalf("version did not advance: %d -> %d", before.Version(), b.Snapshot().Version())
	}
}

func TestSnapshotSharesUntouchedLevels(t *testing.T) {
	b := New("BTC", nil)
	apply(t, b, bid("1", "100", "1"), bid("2", "99", "1"), ask("3", "101", "1"))
	before := b.Snapshot()

	apply(t, b, bid("4", "99", "2"))
	after := b.Snapshot()

	if after.sides[Bid][0] != before.sides[Bid][0] {
		t.Fatal("untouched bid level was rebuilt")
	}
	if after.sides[Bid][1] == before.sides[Bid][1] {
		t.Fatal("changed bid level was reused")
	}
	if &after.sides[Ask][0] != &before.sides[Ask][0] {
		t.Fatal("untouched ask side was rebuilt")
	}
	if qp, ok := after.QueuePosition("4"); !ok || qp.Rank != 2 || qp.Total != 2 {
		t.Fatalf("queue position = %+v, %v", qp, ok)
	}
	if _, ok := before.Order("4"); ok {
		t.Fatal("old snapshot sees a later order")
	}

	apply(t, b, bid("1", "100", "0"))
	if _, ok := after.Order("1"); !ok {
		t.Fatal("removal leaked into an older snapshot")
	}
	if _, ok := b.Snapshot().Order("1"); ok {
		t.Fatal("removed order still visible")
	}
}

func BenchmarkApplySingleEntry(b *testing.B) {
	bk := New("BTC", nil)
	entries := make([]Entry, 0, 100000)
	for i := 0; i < 100000; i++ {
		entries = append(entries, Entry{
			OrderID: fmt.Sprintf("o%d", i),
			Side:    Side(i % 2),
			Price:   fmt.Sprintf("%d", 1000+i%500),
			Size:    "1",
		})
	}
	bk.ApplySnapshot(entries)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bk.Apply([]Entry{{OrderID: "o0", Side: Bid, Price: "1000", Size: fmt.Sprintf("%d", 1+i%7)}})
	}
}
