package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/domain"
)

func mkOrder(id string, side domain.Side, price, qty int64, ts time.Time, seq uint64) *domain.Order {
	return &domain.Order{
		OrderID: id, Side: side, Type: domain.Limit, Price: price,
		QtyOriginal: qty, QtyRemaining: qty, Status: domain.StatusPending,
		TsCreated: ts, InsertionSeq: seq,
	}
}

func TestInsertPriceTimePriority(t *testing.T) {
	b := New()
	base := time.Now()

	b.Insert(mkOrder("b1", domain.Buy, 20, 5, base, 1))
	b.Insert(mkOrder("b2", domain.Buy, 25, 5, base.Add(time.Second), 2))
	b.Insert(mkOrder("b3", domain.Buy, 25, 5, base, 3))

	best, ok := b.Best(domain.Buy)
	require.True(t, ok)
	require.Equal(t, "b3", best.OrderID) // 25 @ earlier ts wins over 25 @ later ts
}

func TestRemove(t *testing.T) {
	b := New()
	base := time.Now()
	b.Insert(mkOrder("a1", domain.Sell, 20, 5, base, 1))

	o, ok := b.Remove("a1")
	require.True(t, ok)
	require.Equal(t, "a1", o.OrderID)

	_, ok = b.Best(domain.Sell)
	require.False(t, ok)
}

func TestDepthAggregation(t *testing.T) {
	b := New()
	base := time.Now()
	b.Insert(mkOrder("b1", domain.Buy, 20, 5, base, 1))
	b.Insert(mkOrder("b2", domain.Buy, 20, 3, base.Add(time.Second), 2))
	b.Insert(mkOrder("b3", domain.Buy, 19, 1, base, 3))

	bids, _ := b.Depth(5)
	require.Len(t, bids, 2)
	require.Equal(t, int64(20), bids[0].Price)
	require.Equal(t, int64(8), bids[0].Qty)
	require.Equal(t, int64(19), bids[1].Price)
}

func TestMarketOrdersNeverInsert(t *testing.T) {
	b := New()
	o := &domain.Order{OrderID: "m1", Side: domain.Buy, Type: domain.Market, QtyRemaining: 5}
	b.Insert(o)

	_, ok := b.Best(domain.Buy)
	require.False(t, ok)
}
