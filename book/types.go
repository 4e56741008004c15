package book

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book an order rests on.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// ParseSide accepts the spellings used by the feeds we consume.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "bids", "b", "buy":
		return Bid, nil
	case "ask", "asks", "a", "sell":
		return Ask, nil
	}
	return Bid, fmt.Errorf("unknown side %q", s)
}

// Order is a resting order as seen by the ledger. Values handed out by the
// ledger and snapshots are copies.
type Order struct {
	ID    string          `json:"oid"`
	Side  Side            `json:"-"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Seq   uint64          `json:"seq"` // arrival sequence inside its price level
}

// Level is the aggregate of all orders resting at one price on one side.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Count int             `json:"count"`
}

// Entry is one per-order delta exactly as received from the feed. Price and
// size stay as decimal text until the applier parses them.
type Entry struct {
	OrderID string
	Side    Side
	Price   string
	Size    string
	// SideLabel is the side as transmitted when the entry names its own.
	// An unknown label makes the entry malformed.
	SideLabel string
}

// QueuePosition is an order's 1-based rank among the orders resting at the
// same price, by arrival order.
type QueuePosition struct {
	Rank  int `json:"rank"`
	Total int `json:"total"`
}
