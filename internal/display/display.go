// Package display renders books as console tables.
package display

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"l4book/book"
)

// Options bound how much of the book is drawn.
type Options struct {
	Levels int // price levels per side
	Orders int // orders listed per level
}

// Render writes one book as a ladder: asks from worst to best, the spread,
// then bids from best to worst.
func Render(w io.Writer, snap *book.Snapshot, opts Options) {
	if opts.Levels <= 0 {
		opts.Levels = 10
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"side", "price", "size", "orders", "queue"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	asks := snap.TopN(book.Ask, opts.Levels)
	for i := len(asks) - 1; i >= 0; i-- {
		table.Append(row(snap, book.Ask, asks[i], opts.Orders))
	}
	spread := "-"
	if s, ok := snap.Spread(); ok {
		spread = s.String()
	}
	mid := "-"
	if m, ok := snap.Mid(); ok {
		mid = m.String()
	}
	table.Append([]string{"spread", spread, "", "", "mid " + mid})
	for _, lvl := range snap.TopN(book.Bid, opts.Levels) {
		table.Append(row(snap, book.Bid, lvl, opts.Orders))
	}

	table.SetFooter([]string{
		"total",
		fmt.Sprintf("%d/%d levels", snap.LevelCount(book.Bid), snap.LevelCount(book.Ask)),
		fmt.Sprintf("%s/%s", snap.Depth(book.Bid, opts.Levels), snap.Depth(book.Ask, opts.Levels)),
		fmt.Sprintf("%d/%d", snap.OrderCount(book.Bid), snap.OrderCount(book.Ask)),
		"",
	})

	caption := fmt.Sprintf("%s v%d", snap.Market(), snap.Version())
	if snap.Stale() {
		caption += " STALE"
	}
	table.SetCaption(true, caption)
	table.Render()
}

func row(snap *book.Snapshot, side book.Side, lvl book.Level, n int) []string {
	return []string{side.String(), lvl.Price.String(), lvl.Size.String(), strconv.Itoa(lvl.Count), queue(snap, side, lvl, n)}
}

// queue lists the first n orders at a level as id:size.
func queue(snap *book.Snapshot, side book.Side, lvl book.Level, n int) string {
	if n <= 0 {
		return ""
	}
	orders := snap.OrdersAt(side, lvl.Price)
	parts := make([]string, 0, n+1)
	for i, o := range orders {
		if i == n {
			parts = append(parts, fmt.Sprintf("+%d", len(orders)-n))
			break
		}
		parts = append(parts, o.ID+":"+o.Size.String())
	}
	return strings.Join(parts, " ")
}

// Books is what Run draws from.
type Books interface {
	Book(market string) (*book.Book, bool)
	Markets() []string
}

// Run redraws every book each interval until ctx is done.
func Run(ctx context.Context, w io.Writer, books Books, interval time.Duration, opts Options) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range books.Markets() {
				if bk, ok := books.Book(m); ok {
					Render(w, bk.Snapshot(), opts)
				}
			}
		}
	}
}
