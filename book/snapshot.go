package book

import (
	"time"

	"github.com/shopspring/decimal"
)

type levelView struct {
	Level
	orders []Order
	ranks  map[string]int
}

func newLevelView(lvl *level, slots []slot) *levelView {
	v := &levelView{
		Level:  Level{Price: lvl.price, Size: lvl.total, Count: len(lvl.slots)},
		orders: make([]Order, len(lvl.slots)),
		ranks:  make(map[string]int, len(lvl.slots)),
	}
	for rank, idx := range lvl.slots {
		o := slots[idx].order
		v.orders[rank] = o
		v.ranks[o.ID] = rank
	}
	return v
}

// Snapshot is an immutable, point-in-time rendering of a ledger. It never
// changes after it is published and is safe to share between goroutines.
// Consecutive snapshots share every level and index shard the batch in
// between did not touch.
type Snapshot struct {
	market    string
	version   uint64
	stale     bool
	updatedAt time.Time

	sides   [2][]*levelView
	byPrice [2]map[string]int
	index   locatorIndex
}

func newSnapshot(market string, version uint64, stale bool, l *Ledger) *Snapshot {
	s := &Snapshot{
		market:    market,
		version:   version,
		stale:     stale,
		updatedAt: time.Now(),
		index:     l.locs.freeze(),
	}
	for _, side := range []Side{Bid, Ask} {
		s.sides[side], s.byPrice[side] = l.sides[side].publish(l.slots)
	}
	return s
}

// Market returns the market the snapshot belongs to.
func (s *Snapshot) Market() string { return s.market }

// Version increases with every snapshot the book publishes: after each
// batch and whenever the book is reset or marked stale.
func (s *Snapshot) Version() uint64 { return s.version }

// Stale reports that the book is known to have missed deltas.
func (s *Snapshot) Stale() bool { return s.stale }

// UpdatedAt is when the snapshot was built.
func (s *Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// Best returns the best level of a side.
func (s *Snapshot) Best(side Side) (Level, bool) {
	if len(s.sides[side]) == 0 {
		return Level{}, false
	}
	return s.sides[side][0].Level, true
}

// Spread is best ask minus best bid; absent when either side is empty.
func (s *Snapshot) Spread() (decimal.Decimal, bool) {
	bid, ok := s.Best(Bid)
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := s.Best(Ask)
	if !ok {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Mid is the midpoint between best bid and best ask.
func (s *Snapshot) Mid() (decimal.Decimal, bool) {
	bid, ok := s.Best(Bid)
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := s.Best(Ask)
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Levels returns all levels of a side, best price first.
func (s *Snapshot) Levels(side Side) []Level {
	return s.TopN(side, len(s.sides[side]))
}

// TopN returns up to n levels of a side, best price first.
func (s *Snapshot) TopN(side Side, n int) []Level {
	views := s.sides[side]
	if n > len(views) {
		n = len(views)
	}
	if n < 0 {
		n = 0
	}
	out := make([]Level, n)
	for i := 0; i < n; i++ {
		out[i] = views[i].Level
	}
	return out
}

// Depth sums the size of the top n levels of a side.
func (s *Snapshot) Depth(side Side, n int) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range s.TopN(side, n) {
		total = total.Add(lvl.Size)
	}
	return total
}

// OrdersAt returns the orders resting at a price, in arrival order.
func (s *Snapshot) OrdersAt(side Side, price decimal.Decimal) []Order {
	li, ok := s.byPrice[side][priceKey(price)]
	if !ok {
		return nil
	}
	orders := s.sides[side][li].orders
	out := make([]Order, len(orders))
	copy(out, orders)
	return out
}

// find returns the level view holding id and the order's rank in it.
func (s *Snapshot) find(id string) (*levelView, int, bool) {
	loc, ok := lookup(&s.index, id)
	if !ok {
		return nil, 0, false
	}
	li, ok := s.byPrice[loc.side][loc.key]
	if !ok {
		return nil, 0, false
	}
	v := s.sides[loc.side][li]
	rank, ok := v.ranks[id]
	return v, rank, ok
}

// Order looks up a single order.
func (s *Snapshot) Order(id string) (Order, bool) {
	v, rank, ok := s.find(id)
	if !ok {
		return Order{}, false
	}
	return v.orders[rank], true
}

// QueuePosition returns the order's rank among the orders at its price.
// Ranks follow arrival order as seen by this process: a reprice sends the
// order to the back, a size change at the same price keeps its place.
func (s *Snapshot) QueuePosition(id string) (QueuePosition, bool) {
	v, rank, ok := s.find(id)
	if !ok {
		return QueuePosition{}, false
	}
	return QueuePosition{Rank: rank + 1, Total: len(v.orders)}, true
}

// OrderCount returns the number of orders resting on a side.
func (s *Snapshot) OrderCount(side Side) int {
	n := 0
	for _, v := range s.sides[side] {
		n += v.Count
	}
	return n
}

// LevelCount returns the number of distinct prices on a side.
func (s *Snapshot) LevelCount(side Side) int {
	return len(s.sides[side])
}
