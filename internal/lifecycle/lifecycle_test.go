package lifecycle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/clock"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/escrow"
	"github.com/camppoints/exchanged/internal/holdings"
	"github.com/camppoints/exchanged/internal/ipo"
	"github.com/camppoints/exchanged/internal/kvstore/pebble"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog/sqlite"
	"github.com/camppoints/exchanged/internal/matching"
	"github.com/camppoints/exchanged/internal/xerr"
)

func newTestService(t *testing.T) *Service {
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
	ipoSvc, err := ipo.New(ctx, kv, l, hold, log, ipo.State{SharesRemaining: 0, Price: 100})
	require.NoError(t, err)

	eng := matching.New(matching.Deps{Ledger: l, Escrow: esc, Holdings: hold, Trades: log, IPO: ipoSvc}, 100, 500)
	mAdapter := NewMatcherAdapter(eng)

	clk := clock.New(domain.MarketConfig{ForceOpen: true}, clock.DefaultConfig(), nil)

	svc := New(Deps{
		Ledger:   l,
		Escrow:   esc,
		Holdings: hold,
		Book:     mAdapter,
		Matcher:  mAdapter,
		Clock:    clk,
		Orders:   NewOrderStore(kv),
		Fee:      domain.FeePolicy{RatePct: 0, MinFee: 0},
	}, nil)

	return svc
}

func TestSubmitLimitOrdersCrossAndSettle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.ledger.(*ledger.Ledger).CreateUser(ctx, domain.User{UID: "seller", Points: 0, Enabled: true}))
	require.NoError(t, svc.ledger.(*ledger.Ledger).CreateUser(ctx, domain.User{UID: "buyer", Points: 1000, Enabled: true}))

	hold := svc.holdings.(*holdings.Store)
	_, err := hold.ApplyBuy(ctx, "seller", 10, 100)
	require.NoError(t, err)

	sellOrder, err := svc.Submit(ctx, "seller", domain.Sell, domain.Limit, 10, 100)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, sellOrder.Status)

	buyOrder, err := svc.Submit(ctx, "buyer", domain.Buy, domain.Limit, 10, 100)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, buyOrder.Status)

	buyerUser, err := svc.ledger.GetUser(ctx, "buyer")
	require.NoError(t, err)
	require.Equal(t, int64(0), buyerUser.Points)
	require.Equal(t, int64(0), buyerUser.Escrow)
}

func TestCancelRestingOrderReleasesEscrow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.ledger.(*ledger.Ledger).CreateUser(ctx, domain.User{UID: "buyer", Points: 1000, Enabled: true}))

	buyOrder, err := svc.Submit(ctx, "buyer", domain.Buy, domain.Limit, 10, 100)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, buyOrder.Status)

	u, err := svc.ledger.GetUser(ctx, "buyer")
	require.NoError(t, err)
	require.Equal(t, int64(1000), u.Escrow+u.Points)
	require.Equal(t, int64(1000), u.Escrow)

	require.NoError(t, svc.Cancel(ctx, "buyer", buyOrder.OrderID, "user_requested"))

	u, err = svc.ledger.GetUser(ctx, "buyer")
	require.NoError(t, err)
	require.Equal(t, int64(1000), u.Points)
	require.Equal(t, int64(0), u.Escrow)
}

func TestCancelByNonOwnerRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.ledger.(*ledger.Ledger).CreateUser(ctx, domain.User{UID: "buyer", Points: 1000, Enabled: true}))

	buyOrder, err := svc.Submit(ctx, "buyer", domain.Buy, domain.Limit, 10, 100)
	require.NoError(t, err)

	err = svc.Cancel(ctx, "someone_else", buyOrder.OrderID, "malicious")
	require.ErrorIs(t, err, xerr.ErrNotOwner)
}

func TestSubmitRejectedWhenMarketClosed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.ledger.(*ledger.Ledger).CreateUser(ctx, domain.User{UID: "buyer", Points: 1000, Enabled: true}))

	svc.clock.(*clock.Clock).ManualClose()
	_, err := svc.Submit(ctx, "buyer", domain.Buy, domain.Limit, 10, 100)
	require.ErrorIs(t, err, xerr.ErrMarketClosed)
}
