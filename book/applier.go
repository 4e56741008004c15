package book

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Observer receives the conditions the applier recovers from locally.
type Observer interface {
	ParseError(e Entry, err error)
	SideChanged(id string, from, to Side)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) ParseError(Entry, error)         {}
func (NopObserver) SideChanged(string, Side, Side) {}

// ApplyResult counts what happened to one batch.
type ApplyResult struct {
	Applied     int `json:"applied"`
	Skipped     int `json:"skipped"`
	Removed     int `json:"removed"`
	SideChanges int `json:"side_changes"`
}

// Add accumulates another result into r.
func (r *ApplyResult) Add(o ApplyResult) {
	r.Applied += o.Applied
	r.Skipped += o.Skipped
	r.Removed += o.Removed
	r.SideChanges += o.SideChanges
}

// Applier validates delta entries and applies them to a ledger in order.
type Applier struct {
	ledger *Ledger
	obs    Observer
}

// NewApplier binds an applier to a ledger. A nil observer is replaced by
// NopObserver.
func NewApplier(ledger *Ledger, obs Observer) *Applier {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Applier{ledger: ledger, obs: obs}
}

// Apply applies entries strictly in the given order, so a later entry for the
// same id overrides an earlier one. Malformed entries are skipped
// individually.
func (a *Applier) Apply(entries []Entry) ApplyResult {
	var res ApplyResult
	for _, e := range entries {
		price, size, err := ParseEntry(e)
		if err != nil {
			res.Skipped++
			a.obs.ParseError(e, err)
			continue
		}

		if size.IsZero() {
			if a.ledger.Remove(e.OrderID) {
				res.Removed++
			}
			res.Applied++
			continue
		}

		changed, err := a.ledger.Upsert(e.OrderID, e.Side, price, size)
		if err != nil {
			res.Skipped++
			a.obs.ParseError(e, err)
			continue
		}
		if changed {
			res.SideChanges++
			a.obs.SideChanged(e.OrderID, e.Side.Opposite(), e.Side)
		}
		res.Applied++
	}
	return res
}

// ParseEntry converts the entry's decimal text. Every returned error wraps
// ErrParse.
func ParseEntry(e Entry) (price, size decimal.Decimal, err error) {
	if strings.TrimSpace(e.OrderID) == "" {
		return price, size, fmt.Errorf("%w: missing order id", ErrParse)
	}
	if e.SideLabel != "" {
		if _, err := ParseSide(e.SideLabel); err != nil {
			return price, size, fmt.Errorf("%w: order %s: %v", ErrParse, e.OrderID, err)
		}
	}
	size, err = decimal.NewFromString(strings.TrimSpace(e.Size))
	if err != nil {
		return price, size, fmt.Errorf("%w: order %s size %q: %v", ErrParse, e.OrderID, e.Size, err)
	}
	if size.IsNegative() {
		return price, size, fmt.Errorf("%w: order %s: %w", ErrParse, e.OrderID, ErrNegativeSize)
	}
	price, err = decimal.NewFromString(strings.TrimSpace(e.Price))
	if err != nil {
		return price, size, fmt.Errorf("%w: order %s price %q: %v", ErrParse, e.OrderID, e.Price, err)
	}
	if !size.IsZero() && !price.IsPositive() {
		return price, size, fmt.Errorf("%w: order %s price %s must be positive", ErrParse, e.OrderID, price)
	}
	return price, size, nil
}
