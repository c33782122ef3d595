package matching

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/escrow"
	"github.com/camppoints/exchanged/internal/holdings"
	"github.com/camppoints/exchanged/internal/ipo"
	"github.com/camppoints/exchanged/internal/kvstore/pebble"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog/sqlite"
	"github.com/camppoints/exchanged/internal/xerr"
)

type harness struct {
	engine   *Engine
	ledger   *ledger.Ledger
	escrow   *escrow.Manager
	holdings *holdings.Store
}

func newHarness(t *testing.T, refPrice, bandBps int64, ipoShares int64) *harness {
	t.Helper()
	kv, err := pebble.Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	log, err := sqlite.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	l := ledger.New(kv, log, nil)
	esc := escrow.New(kv, l, nil)
	hold := holdings.New(kv)

	ctx := context.Background()
	svc, err := ipo.New(ctx, kv, l, hold, log, ipo.State{SharesRemaining: ipoShares, Price: refPrice})
	require.NoError(t, err)

	eng := New(Deps{Ledger: l, Escrow: esc, Holdings: hold, Trades: log, IPO: svc}, refPrice, bandBps)
	return &harness{engine: eng, ledger: l, escrow: esc, holdings: hold}
}

func mkOrder(uid string, side domain.Side, typ domain.OrderType, qty, price int64) *domain.Order {
	return &domain.Order{
		OrderID:      uid + "-" + side.String() + "-" + typ.String(),
		UID:          uid,
		Side:         side,
		Type:         typ,
		QtyOriginal:  qty,
		QtyRemaining: qty,
		Price:        price,
		Status:       domain.StatusPending,
		TsCreated:    time.Now().UTC(),
	}
}

func TestSimpleCross(t *testing.T) {
	h := newHarness(t, 100, 500, 0)
	ctx := context.Background()
	require.NoError(t, h.ledger.CreateUser(ctx, domain.User{UID: "seller", Points: 0, Enabled: true}))
	require.NoError(t, h.ledger.CreateUser(ctx, domain.User{UID: "buyer", Points: 1000, Enabled: true}))
	_, err := h.holdings.ApplyBuy(ctx, "seller", 10, 100)
	require.NoError(t, err)

	sellOrder := mkOrder("seller", domain.Sell, domain.Limit, 10, 100)
	fills, err := h.engine.Submit(ctx, sellOrder)
	require.NoError(t, err)
	require.Empty(t, fills)
	require.Equal(t, domain.StatusPending, sellOrder.Status)

	buyOrder := mkOrder("buyer", domain.Buy, domain.Limit, 10, 100)
	fills, err = h.engine.Submit(ctx, buyOrder)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, int64(100), fills[0].Price)
	require.Equal(t, int64(10), fills[0].Qty)
	require.Equal(t, domain.StatusFilled, buyOrder.Status)

	buyerUser, err := h.ledger.GetUser(ctx, "buyer")
	require.NoError(t, err)
	require.Equal(t, int64(0), buyerUser.Points)

	sellerUser, err := h.ledger.GetUser(ctx, "seller")
	require.NoError(t, err)
	require.Equal(t, int64(1000), sellerUser.Points)

	buyerHolding, err := h.holdings.Get(ctx, "buyer")
	require.NoError(t, err)
	require.Equal(t, int64(10), buyerHolding.Shares)
}

func TestPartialFillThenCancel(t *testing.T) {
	h := newHarness(t, 100, 500, 0)
	ctx := context.Background()
	require.NoError(t, h.ledger.CreateUser(ctx, domain.User{UID: "seller", Points: 0, Enabled: true}))
	require.NoError(t, h.ledger.CreateUser(ctx, domain.User{UID: "buyer", Points: 1000, Enabled: true}))
	_, err := h.holdings.ApplyBuy(ctx, "seller", 5, 100)
	require.NoError(t, err)

	sellOrder := mkOrder("seller", domain.Sell, domain.Limit, 5, 100)
	_, err = h.engine.Submit(ctx, sellOrder)
	require.NoError(t, err)

	buyOrder := mkOrder("buyer", domain.Buy, domain.Limit, 10, 100)
	fills, err := h.engine.Submit(ctx, buyOrder)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, domain.StatusPartial, buyOrder.Status)
	require.Equal(t, int64(5), buyOrder.QtyRemaining)

	cancelled, ok := h.engine.CancelResting(buyOrder.OrderID)
	require.True(t, ok)
	require.Equal(t, int64(5), cancelled.QtyRemaining)
}

func TestBandRejection(t *testing.T) {
	h := newHarness(t, 100, 500, 0)
	ctx := context.Background()
	require.NoError(t, h.ledger.CreateUser(ctx, domain.User{UID: "buyer", Points: 1000, Enabled: true}))

	buyOrder := mkOrder("buyer", domain.Buy, domain.Limit, 1, 200)
	_, err := h.engine.Submit(ctx, buyOrder)
	require.ErrorIs(t, err, xerr.ErrPriceOutOfBand)
}

func TestMarketBuyFallsBackToIPO(t *testing.T) {
	h := newHarness(t, 50, 10_000, 100)
	ctx := context.Background()
	require.NoError(t, h.ledger.CreateUser(ctx, domain.User{UID: "buyer", Points: 1000, Enabled: true}))

	buyOrder := mkOrder("buyer", domain.Buy, domain.Market, 4, 0)
	fills, err := h.engine.Submit(ctx, buyOrder)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, domain.StatusFilled, buyOrder.Status)

	holding, err := h.holdings.Get(ctx, "buyer")
	require.NoError(t, err)
	require.Equal(t, int64(4), holding.Shares)
}

func TestCallAuctionClearsCrossingOrders(t *testing.T) {
	h := newHarness(t, 100, 10_000, 0)
	ctx := context.Background()
	require.NoError(t, h.ledger.CreateUser(ctx, domain.User{UID: "s1", Points: 0, Enabled: true}))
	require.NoError(t, h.ledger.CreateUser(ctx, domain.User{UID: "b1", Points: 10_000, Enabled: true}))
	_, err := h.holdings.ApplyBuy(ctx, "s1", 10, 100)
	require.NoError(t, err)

	sellOrder := mkOrder("s1", domain.Sell, domain.Limit, 10, 95)
	_, err = h.engine.Submit(ctx, sellOrder)
	require.NoError(t, err)

	buyOrder := mkOrder("b1", domain.Buy, domain.Limit, 10, 105)
	buyOrder.QtyRemaining = 10
	// submit buy as a resting order by forcing it past the book via direct insert
	buyOrder.OrderID = "b1-resting"
	h.engine.Book().Insert(buyOrder)

	price, vol, ok, err := h.engine.CallAuction(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), vol)
	require.GreaterOrEqual(t, price, int64(95))
	require.LessOrEqual(t, price, int64(105))
}
