package book

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type slot struct {
	order Order
	key   string
}

// Ledger is the authoritative id -> order mapping for one market. Records
// live in a dense slot arena with a free list so high-frequency churn does
// not allocate. A Ledger is not safe for concurrent use; Book serialises
// access to it.
type Ledger struct {
	slots []slot
	free  []int32
	index map[string]int32
	sides [2]*levelIndex
	locs  *locator
	seq   uint64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		index: make(map[string]int32),
		sides: [2]*levelIndex{newLevelIndex(Bid), newLevelIndex(Ask)},
		locs:  newLocator(),
	}
}

// Upsert sets the order's side, price and size in one step. A zero size
// removes the order. sideChanged reports an existing order that moved to
// the other side of the book.
func (l *Ledger) Upsert(id string, side Side, price, size decimal.Decimal) (sideChanged bool, err error) {
	if size.IsNegative() {
		return false, fmt.Errorf("%w: order %s size %s", ErrNegativeSize, id, size)
	}
	if size.IsZero() {
		l.Remove(id)
		return false, nil
	}

	key := priceKey(price)
	if idx, ok := l.index[id]; ok {
		s := &l.slots[idx]
		if s.order.Side == side && s.key == key {
			l.sides[side].adjust(key, s.order.Size, size)
			s.order.Price = price
			s.order.Size = size
			return false, nil
		}

		sideChanged = s.order.Side != side
		l.sides[s.order.Side].remove(idx, s.key, s.order.Size)
		l.seq++
		s.order = Order{ID: id, Side: side, Price: price, Size: size, Seq: l.seq}
		s.key = key
		l.sides[side].add(idx, key, price, size)
		l.locs.set(id, orderLoc{side: side, key: key})
		return sideChanged, nil
	}

	idx := l.alloc()
	l.seq++
	l.slots[idx] = slot{
		order: Order{ID: id, Side: side, Price: price, Size: size, Seq: l.seq},
		key:   key,
	}
	l.index[id] = idx
	l.sides[side].add(idx, key, price, size)
	l.locs.set(id, orderLoc{side: side, key: key})
	return false, nil
}

// Remove deletes the order. Unknown ids are a no-op and report false.
func (l *Ledger) Remove(id string) bool {
	idx, ok := l.index[id]
	if !ok {
		return false
	}
	s := &l.slots[idx]
	l.sides[s.order.Side].remove(idx, s.key, s.order.Size)
	*s = slot{}
	delete(l.index, id)
	l.locs.del(id)
	l.free = append(l.free, idx)
	return true
}

// Get returns a copy of the order with the given id.
func (l *Ledger) Get(id string) (Order, bool) {
	idx, ok := l.index[id]
	if !ok {
		return Order{}, false
	}
	return l.slots[idx].order, true
}

// SideRecords returns a point-in-time copy of one side's orders, best price
// first and arrival order within a price.
func (l *Ledger) SideRecords(side Side) []Order {
	out := make([]Order, 0, l.Len(side))
	l.sides[side].each(func(lvl *level) bool {
		for _, idx := range lvl.slots {
			out = append(out, l.slots[idx].order)
		}
		return true
	})
	return out
}

// Levels returns the aggregated price levels of one side, best price first.
func (l *Ledger) Levels(side Side) []Level {
	return l.sides[side].list()
}

// Len returns the number of orders resting on one side.
func (l *Ledger) Len(side Side) int {
	return l.sides[side].orders
}

// Size returns the total number of orders in the ledger.
func (l *Ledger) Size() int {
	return len(l.index)
}

// Reset drops every order. Allocated capacity is kept for the resync that
// usually follows.
func (l *Ledger) Reset() {
	l.slots = l.slots[:0]
	l.free = l.free[:0]
	clear(l.index)
	l.sides = [2]*levelIndex{newLevelIndex(Bid), newLevelIndex(Ask)}
	l.locs.reset()
}

func (l *Ledger) alloc() int32 {
	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		return idx
	}
	l.slots = append(l.slots, slot{})
	return int32(len(l.slots) - 1)
}
