package api

import (
	"context"

	"github.com/camppoints/exchanged/internal/clock"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/ipo"
	"github.com/camppoints/exchanged/internal/ledgerlog"
	"github.com/camppoints/exchanged/internal/matching"
	"github.com/camppoints/exchanged/internal/orderbook"
)

// MarketAPI implements the read-only Market query API contract:
// price_summary, depth, recent_trades, market_status, ipo_status.
// Unlike LifecycleAPI these never mutate state, so they bypass the
// Sharded Router entirely and read straight from the engine/clock.
type MarketAPI struct {
	matcher   *matching.Engine
	ledgerLog ledgerlog.Store
	clock     *clock.Clock
	ipo       *ipo.Service
}

// NewMarketAPI builds a MarketAPI over the kernel's read surfaces.
func NewMarketAPI(eng *matching.Engine, log ledgerlog.Store, clk *clock.Clock, ipoSvc *ipo.Service) *MarketAPI {
	return &MarketAPI{matcher: eng, ledgerLog: log, clock: clk, ipo: ipoSvc}
}

// PriceSummary returns the current session's price stats.
func (a *MarketAPI) PriceSummary() matching.PriceSummary {
	return a.matcher.PriceSummary()
}

// Depth returns the top levels of resting buy/sell orders.
func (a *MarketAPI) Depth(levels int) (bids, asks []orderbook.Level) {
	return a.matcher.Book().Depth(levels)
}

// RecentTrades returns the most recent executed trades, newest first.
func (a *MarketAPI) RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	return a.ledgerLog.RecentTrades(ctx, limit)
}

// MarketStatus is the result of market_status() (spec.md §6).
type MarketStatus struct {
	IsOpen           bool
	NextTransitionTs int64
	Windows          []domain.Window
}

// MarketStatus reports the market clock's current state.
func (a *MarketAPI) MarketStatus() MarketStatus {
	return MarketStatus{
		IsOpen:           a.clock.IsOpen(),
		NextTransitionTs: a.clock.NextTransitionTs(),
		Windows:          a.clock.Windows(),
	}
}

// IPOStatus returns the IPO singleton's remaining allocation and price.
func (a *MarketAPI) IPOStatus(ctx context.Context) (ipo.State, error) {
	return a.ipo.Status(ctx)
}
