package api

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"l4book/book"
)

// Directory resolves markets to their live books.
type Directory interface {
	Book(market string) (*book.Book, bool)
	Markets() []string
}

// Books is a Directory that markets can join and leave at runtime.
type Books struct {
	mu    sync.RWMutex
	books map[string]*book.Book
}

func NewBooks() *Books {
	return &Books{books: make(map[string]*book.Book)}
}

func (b *Books) Add(bk *book.Book) {
	b.mu.Lock()
	b.books[bk.Market()] = bk
	b.mu.Unlock()
}

func (b *Books) Remove(market string) {
	b.mu.Lock()
	delete(b.books, market)
	b.mu.Unlock()
}

func (b *Books) Book(market string) (*book.Book, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bk, ok := b.books[market]
	return bk, ok
}

// Markets returns the market names in sorted order.
func (b *Books) Markets() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.books))
	for m := range b.books {
		out = append(out, m)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

type levelView struct {
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Count  int             `json:"count"`
	Orders []book.Order    `json:"orders,omitempty"`
}

type sideView struct {
	Orders int         `json:"orders"`
	Levels int         `json:"levels"`
	Depth  string      `json:"depth"`
	Book   []levelView `json:"book"`
}

type bookView struct {
	Market    string      `json:"market"`
	Version   uint64      `json:"version"`
	Stale     bool        `json:"stale"`
	UpdatedAt time.Time   `json:"updated_at"`
	Spread    *string     `json:"spread"`
	Mid       *string     `json:"mid"`
	Bids      sideView    `json:"bids"`
	Asks      sideView    `json:"asks"`
	Stats     *book.Stats `json:"stats,omitempty"`
}

type marketSummary struct {
	Market  string      `json:"market"`
	Version uint64      `json:"version"`
	Stale   bool        `json:"stale"`
	BestBid *book.Level `json:"best_bid"`
	BestAsk *book.Level `json:"best_ask"`
	Orders  int         `json:"orders"`
	Stats   book.Stats  `json:"stats"`
}

type orderView struct {
	Market string             `json:"market"`
	Side   string             `json:"side"`
	Order  book.Order         `json:"order"`
	Queue  book.QueuePosition `json:"queue"`
	Stale  bool               `json:"stale"`
}

func optional(d decimal.Decimal, ok bool) *string {
	if !ok {
		return nil
	}
	s := d.String()
	return &s
}

func best(s *book.Snapshot, side book.Side) *book.Level {
	lvl, ok := s.Best(side)
	if !ok {
		return nil
	}
	return &lvl
}

func summarise(bk *book.Book) marketSummary {
	snap := bk.Snapshot()
	return marketSummary{
		Market:  bk.Market(),
		Version: snap.Version(),
		Stale:   snap.Stale(),
		BestBid: best(snap, book.Bid),
		BestAsk: best(snap, book.Ask),
		Orders:  snap.OrderCount(book.Bid) + snap.OrderCount(book.Ask),
		Stats:   bk.Stats(),
	}
}

// renderBook builds the depth view of one snapshot. depth <= 0 means every
// level. withOrders attaches the resting orders of each returned level.
func renderBook(snap *book.Snapshot, depth int, withOrders bool) bookView {
	spread, sok := snap.Spread()
	mid, mok := snap.Mid()
	return bookView{
		Market:    snap.Market(),
		Version:   snap.Version(),
		Stale:     snap.Stale(),
		UpdatedAt: snap.UpdatedAt(),
		Spread:    optional(spread, sok),
		Mid:       optional(mid, mok),
		Bids:      renderSide(snap, book.Bid, depth, withOrders),
		Asks:      renderSide(snap, book.Ask, depth, withOrders),
	}
}

func renderSide(snap *book.Snapshot, side book.Side, depth int, withOrders bool) sideView {
	var levels []book.Level
	if depth > 0 {
		levels = snap.TopN(side, depth)
	} else {
		levels = snap.Levels(side)
	}
	out := make([]levelView, len(levels))
	for i, l := range levels {
		out[i] = levelView{Price: l.Price, Size: l.Size, Count: l.Count}
		if withOrders {
			out[i].Orders = snap.OrdersAt(side, l.Price)
		}
	}
	return sideView{
		Orders: snap.OrderCount(side),
		Levels: snap.LevelCount(side),
		Depth:  snap.Depth(side, len(levels)).String(),
		Book:   out,
	}
}
