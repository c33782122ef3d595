// Package orderbook holds the in-memory, single-instrument limit order
// book (spec.md §4.C): two price-time-priority sides, queried for the
// best order and a five-level depth snapshot. It is owned exclusively
// by the matching engine's worker goroutine, so it guards state with a
// mutex only for the benefit of concurrent read-only queries (price
// summary, depth) from other goroutines, not for serialising writers.
package orderbook

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/camppoints/exchanged/internal/domain"
)

// Level is one aggregated price/quantity row of a depth snapshot.
type Level struct {
	Price int64
	Qty   int64
}

// Book is the two-sided order book for the single traded instrument.
type Book struct {
	mu   sync.RWMutex
	bids []*domain.Order // descending price, ascending ts_created/seq
	asks []*domain.Order // ascending price, ascending ts_created/seq
	seq  uint64
}

// New builds an empty Book.
func New() *Book {
	return &Book{}
}

// NextInsertionSeq hands out a monotonically increasing sequence
// number used to break ts_created ties (spec.md §4.C). Callers stamp
// it onto an Order before Insert.
func (b *Book) NextInsertionSeq() uint64 {
	return atomic.AddUint64(&b.seq, 1)
}

func less(side domain.Side) func(a, b *domain.Order) bool {
	return func(a, c *domain.Order) bool {
		if a.Price != c.Price {
			if side == domain.Buy {
				return a.Price > c.Price // highest bid first
			}
			return a.Price < c.Price // lowest ask first
		}
		if !a.TsCreated.Equal(c.TsCreated) {
			return a.TsCreated.Before(c.TsCreated)
		}
		return a.InsertionSeq < c.InsertionSeq
	}
}

func (b *Book) sideSlice(side domain.Side) *[]*domain.Order {
	if side == domain.Buy {
		return &b.bids
	}
	return &b.asks
}

// Insert adds a resting limit order to its side, keeping price-time
// priority order. Market orders are never inserted (spec.md §4.C).
func (b *Book) Insert(o *domain.Order) {
	if o.Type == domain.Market {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	slicePtr := b.sideSlice(o.Side)
	lessFn := less(o.Side)
	idx := sort.Search(len(*slicePtr), func(i int) bool {
		return lessFn(o, (*slicePtr)[i])
	})
	*slicePtr = append(*slicePtr, nil)
	copy((*slicePtr)[idx+1:], (*slicePtr)[idx:])
	(*slicePtr)[idx] = o
}

// Remove drops an order from the book by id, returning it if found.
func (b *Book) Remove(orderID string) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, side := range []domain.Side{domain.Buy, domain.Sell} {
		slicePtr := b.sideSlice(side)
		for i, o := range *slicePtr {
			if o.OrderID == orderID {
				*slicePtr = append((*slicePtr)[:i], (*slicePtr)[i+1:]...)
				return o, true
			}
		}
	}
	return nil, false
}

// Best returns the top-of-book order on side, if any.
func (b *Book) Best(side domain.Side) (*domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := *b.sideSlice(side)
	if len(s) == 0 {
		return nil, false
	}
	return s[0], true
}

// Depth aggregates qty_remaining per price level, up to levels deep,
// for both sides.
func (b *Book) Depth(levels int) (bids []Level, asks []Level) {
	if levels <= 0 {
		levels = 5
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	return aggregate(b.bids, levels), aggregate(b.asks, levels)
}

func aggregate(orders []*domain.Order, levels int) []Level {
	var out []Level
	for _, o := range orders {
		if len(out) > 0 && out[len(out)-1].Price == o.Price {
			out[len(out)-1].Qty += o.QtyRemaining
			continue
		}
		if len(out) == levels {
			break
		}
		out = append(out, Level{Price: o.Price, Qty: o.QtyRemaining})
	}
	return out
}

// AllResting returns every resting order across both sides, e.g. for
// forced end-of-session cancellation.
func (b *Book) AllResting() []*domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*domain.Order, 0, len(b.bids)+len(b.asks))
	out = append(out, b.bids...)
	out = append(out, b.asks...)
	return out
}

// AllRestingSides returns shallow copies of the bid and ask slices, for
// callers (the call auction) that need to scan and mutate a private
// working copy without holding the book's lock for the whole pass.
func (b *Book) AllRestingSides() (bids, asks []*domain.Order) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids = make([]*domain.Order, len(b.bids))
	copy(bids, b.bids)
	asks = make([]*domain.Order, len(b.asks))
	copy(asks, b.asks)
	return bids, asks
}
