package book

import (
	"sort"

	"github.com/shopspring/decimal"
)

// level keeps the running total for one price and the ledger slots resting
// there in arrival order.
type level struct {
	price decimal.Decimal
	total decimal.Decimal
	slots []int32
	view  *levelView // last published rendering; nil once the level changed
}

// levelIndex is the incremental price-level aggregate for one side. It is
// adjusted on every ledger mutation, never recomputed.
type levelIndex struct {
	side   Side
	levels map[string]*level
	prices []decimal.Decimal // ascending
	orders int

	// Published rendering of the side, reused until a level changes.
	dirty   bool
	views   []*levelView
	byPrice map[string]int
}

func newLevelIndex(side Side) *levelIndex {
	return &levelIndex{
		side:   side,
		levels: make(map[string]*level),
		dirty:  true,
	}
}

func (x *levelIndex) touch(lvl *level) {
	lvl.view = nil
	x.dirty = true
}

// priceKey is the canonical text of a price, so 100, 100.0 and 1e2 share a level.
func priceKey(p decimal.Decimal) string {
	return p.String()
}

func (x *levelIndex) search(p decimal.Decimal) int {
	return sort.Search(len(x.prices), func(i int) bool {
		return x.prices[i].Cmp(p) >= 0
	})
}

func (x *levelIndex) add(slot int32, key string, price, size decimal.Decimal) {
	lvl, ok := x.levels[key]
	if !ok {
		lvl = &level{price: price, total: decimal.Zero}
		x.levels[key] = lvl

		i := x.search(price)
		x.prices = append(x.prices, decimal.Decimal{})
		copy(x.prices[i+1:], x.prices[i:])
		x.prices[i] = price
	}
	lvl.total = lvl.total.Add(size)
	lvl.slots = append(lvl.slots, slot)
	x.orders++
	x.touch(lvl)
}

func (x *levelIndex) remove(slot int32, key string, size decimal.Decimal) {
	lvl, ok := x.levels[key]
	if !ok {
		return
	}
	for i, s := range lvl.slots {
		if s == slot {
			lvl.slots = append(lvl.slots[:i], lvl.slots[i+1:]...)
			x.orders--
			break
		}
	}
	lvl.total = lvl.total.Sub(size)
	x.touch(lvl)
	if len(lvl.slots) > 0 {
		return
	}

	delete(x.levels, key)
	i := x.search(lvl.price)
	if i < len(x.prices) && x.prices[i].Equal(lvl.price) {
		x.prices = append(x.prices[:i], x.prices[i+1:]...)
	}
}

func (x *levelIndex) adjust(key string, from, to decimal.Decimal) {
	if lvl, ok := x.levels[key]; ok {
		lvl.total = lvl.total.Sub(from).Add(to)
		x.touch(lvl)
	}
}

// each walks the levels best price first: descending for bids, ascending
// for asks. Returning false stops the walk.
func (x *levelIndex) each(fn func(lvl *level) bool) {
	if x.side == Bid {
		for i := len(x.prices) - 1; i >= 0; i-- {
			if !fn(x.levels[priceKey(x.prices[i])]) {
				return
			}
		}
		return
	}
	for _, p := range x.prices {
		if !fn(x.levels[priceKey(p)]) {
			return
		}
	}
}

func (x *levelIndex) list() []Level {
	out := make([]Level, 0, len(x.prices))
	x.each(func(lvl *level) bool {
		out = append(out, Level{Price: lvl.price, Size: lvl.total, Count: len(lvl.slots)})
		return true
	})
	return out
}

func (x *levelIndex) count() int {
	return len(x.prices)
}

// publish renders the side best price first. Levels untouched since the
// previous call keep their view, and an untouched side is returned as is.
func (x *levelIndex) publish(slots []slot) ([]*levelView, map[string]int) {
	if !x.dirty {
		return x.views, x.byPrice
	}
	views := make([]*levelView, 0, len(x.prices))
	byPrice := make(map[string]int, len(x.prices))
	x.each(func(lvl *level) bool {
		if lvl.view == nil {
			lvl.view = newLevelView(lvl, slots)
		}
		byPrice[priceKey(lvl.price)] = len(views)
		views = append(views, lvl.view)
		return true
	})
	x.views, x.byPrice, x.dirty = views, byPrice, false
	return views, byPrice
}
