// Package book reconstructs a per-order (L4) order book from a stream of
// per-order deltas.
//
// A Book has a single writer that applies delta batches in arrival order,
// and any number of readers. After every batch the writer publishes an
// immutable Snapshot through an atomic pointer, so readers never wait on
// the writer and never observe a half-applied batch.
package book

import (
	"sync"
	"sync/atomic"
)

// Stats are cumulative counters for one book.
type Stats struct {
	Batches     uint64 `json:"batches"`
	Applied     uint64 `json:"applied"`
	Skipped     uint64 `json:"skipped"`
	Removed     uint64 `json:"removed"`
	SideChanges uint64 `json:"side_changes"`
	Resyncs     uint64 `json:"resyncs"`
	Orders      int    `json:"orders"`
}

// Book owns the ledger of one market.
type Book struct {
	market string

	mu      sync.Mutex // serialises writers
	ledger  *Ledger
	applier *Applier
	version uint64
	stale   bool
	stats   Stats

	current atomic.Pointer[Snapshot]
}

// New creates an empty book. obs may be nil.
func New(market string, obs Observer) *Book {
	ledger := NewLedger()
	b := &Book{
		market:  market,
		ledger:  ledger,
		applier: NewApplier(ledger, obs),
	}
	b.current.Store(newSnapshot(market, 0, false, ledger))
	return b
}

// Market returns the market name.
func (b *Book) Market() string { return b.market }

// Apply applies one incremental batch and publishes a new snapshot.
func (b *Book) Apply(entries []Entry) ApplyResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := b.applier.Apply(entries)
	b.record(res)
	b.publish()
	return res
}

// ApplySnapshot replaces the whole book with an authoritative snapshot batch
// and clears the stale flag.
func (b *Book) ApplySnapshot(entries []Entry) ApplyResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ledger.Reset()
	res := b.applier.Apply(entries)
	b.stale = false
	b.stats.Resyncs++
	b.record(res)
	b.publish()
	return res
}

// Reset clears the book, e.g. before resubscribing after a disconnect. The
// empty book is stale until the next snapshot batch.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ledger.Reset()
	b.stale = true
	b.publish()
}

// MarkStale flags the book as missing deltas until the next snapshot batch.
func (b *Book) MarkStale() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stale {
		return
	}
	b.stale = true
	b.publish()
}

// Snapshot returns the latest published snapshot. It never blocks.
func (b *Book) Snapshot() *Snapshot {
	return b.current.Load()
}

// Stats returns the cumulative counters.
func (b *Book) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stats
	s.Orders = b.ledger.Size()
	return s
}

func (b *Book) record(res ApplyResult) {
	b.stats.Batches++
	b.stats.Applied += uint64(res.Applied)
	b.stats.Skipped += uint64(res.Skipped)
	b.stats.Removed += uint64(res.Removed)
	b.stats.SideChanges += uint64(res.SideChanges)
}

// publish makes the ledger's state visible. Every publication gets a new
// version so consumers that poll by version see stale and reset books too.
func (b *Book) publish() {
	b.version++
	b.current.Store(newSnapshot(b.market, b.version, b.stale, b.ledger))
}
