// Package matching is the continuous matching engine and call auction
// for the single traded instrument (spec.md §4.D). It owns the order
// book, the session reference price, and the price band, and performs
// every fill's ledger/holding/trade side effects atomically per fill.
// The router shards work by uid, so orders from different users reach
// the engine from different workers; the engine's own mutex serializes
// every book mutation.
package matching

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/escrow"
	"github.com/camppoints/exchanged/internal/eventbus"
	"github.com/camppoints/exchanged/internal/holdings"
	"github.com/camppoints/exchanged/internal/ipo"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog"
	"github.com/camppoints/exchanged/internal/orderbook"
	"github.com/camppoints/exchanged/internal/xerr"
)

// Fill describes one executed match, returned to the lifecycle service
// so it can settle the taker's escrow and report results to the caller.
type Fill struct {
	TradeID      string
	Price        int64
	Qty          int64
	MakerOrderID string
	Ts           time.Time
}

// Engine is the matching engine for the single instrument.
type Engine struct {
	mu sync.RWMutex

	book     *orderbook.Book
	ledger   *ledger.Ledger
	escrow   *escrow.Manager
	holdings *holdings.Store
	trades   ledgerlog.Store
	ipo      *ipo.Service
	bus      *eventbus.Bus

	refPrice int64
	bandBps  int64

	fillSeq uint64
	clk     func() time.Time

	// session stats back price_summary (spec.md §6); reset by
	// ResetSession at market open.
	sessionOpen   int64
	sessionHigh   int64
	sessionLow    int64
	sessionVolume int64
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Ledger   *ledger.Ledger
	Escrow   *escrow.Manager
	Holdings *holdings.Store
	Trades   ledgerlog.Store
	IPO      *ipo.Service
	Bus      *eventbus.Bus
}

// New builds an Engine seeded with the session's starting reference
// price (typically the IPO price) and price band.
func New(deps Deps, refPrice, bandBps int64) *Engine {
	return &Engine{
		book:     orderbook.New(),
		ledger:   deps.Ledger,
		escrow:   deps.Escrow,
		holdings: deps.Holdings,
		trades:   deps.Trades,
		ipo:      deps.IPO,
		bus:      deps.Bus,
		refPrice: refPrice,
		bandBps:  bandBps,
		clk:      time.Now,

		sessionOpen: refPrice,
		sessionHigh: refPrice,
		sessionLow:  refPrice,
	}
}

// Book exposes the underlying order book for depth/best queries.
func (e *Engine) Book() *orderbook.Book { return e.book }

// RefPrice returns the current session reference price.
func (e *Engine) RefPrice() int64 {
	return atomic.LoadInt64(&e.refPrice)
}

// BandRange returns the currently permitted limit-price range
// [lo, hi] around the reference price (spec.md §4.D.1).
func (e *Engine) BandRange() (lo, hi int64) {
	ref := e.RefPrice()
	bps := atomic.LoadInt64(&e.bandBps)
	lo = ref - (ref*bps)/10_000
	hi = ref + (ref*bps+9_999)/10_000 // ceil
	return lo, hi
}

// SetBandBps updates the band width in basis points (admin set_band).
func (e *Engine) SetBandBps(bps int64) {
	atomic.StoreInt64(&e.bandBps, bps)
}

func (e *Engine) nextFillSeq() int64 {
	return int64(atomic.AddUint64(&e.fillSeq, 1))
}

// CheckBand validates a limit order's price against the current band.
func (e *Engine) CheckBand(price int64) error {
	lo, hi := e.BandRange()
	if price < lo || price > hi {
		return xerr.ErrPriceOutOfBand
	}
	return nil
}

// Submit runs continuous matching for an incoming order o against the
// resting book, returning the fills that occurred. o is mutated in
// place (QtyRemaining, Status). Caller (the lifecycle service) is
// responsible for reserving escrow beforehand and settling it after.
func (e *Engine) Submit(ctx context.Context, o *domain.Order) ([]Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.Type == domain.Limit {
		if err := e.CheckBand(o.Price); err != nil {
			return nil, err
		}
	}

	var fills []Fill
	opposite := domain.Sell
	if o.Side == domain.Sell {
		opposite = domain.Buy
	}

	for o.QtyRemaining > 0 {
		opp, ok := e.book.Best(opposite)
		if !ok {
			break
		}
		if o.Type == domain.Limit {
			if o.Side == domain.Buy && o.Price < opp.Price {
				break
			}
			if o.Side == domain.Sell && o.Price > opp.Price {
				break
			}
		}

		tradePrice := opp.Price
		tradeQty := o.QtyRemaining
		if opp.QtyRemaining < tradeQty {
			tradeQty = opp.QtyRemaining
		}

		fill, err := e.applyFill(ctx, o, opp, tradePrice, tradeQty)
		if err != nil {
			return fills, err
		}
		fills = append(fills, fill)

		if opp.QtyRemaining == 0 {
			e.book.Remove(opp.OrderID)
		}
	}

	if o.QtyRemaining > 0 && o.Type == domain.Market {
		if o.Side == domain.Buy && e.ipo != nil {
			if st, err := e.ipo.Status(ctx); err == nil && st.SharesRemaining > 0 {
				qty := o.QtyRemaining
				if st.SharesRemaining < qty {
					qty = st.SharesRemaining
				}
				ipoBuy := e.ipo.Buy
				if o.EscrowID != "" {
					ipoBuy = func(ctx context.Context, uid string, qty int64) (domain.Trade, error) {
						return e.ipo.BuyViaEscrow(ctx, e.escrow, uid, o.EscrowID, qty)
					}
				}
				if trade, err := ipoBuy(ctx, o.UID, qty); err == nil {
					o.QtyRemaining -= qty
					e.recordTrade(trade.Price, qty)
					fills = append(fills, Fill{TradeID: trade.TradeID, Price: trade.Price, Qty: qty, Ts: trade.Ts})
					e.publishMatched(o.UID, trade)
				}
			}
		}
	}

	if o.QtyRemaining > 0 {
		if len(fills) > 0 {
			o.Status = domain.StatusPartial
		} else {
			o.Status = domain.StatusPending
		}
		if o.Type == domain.Limit {
			o.InsertionSeq = e.book.NextInsertionSeq()
			e.book.Insert(o)
		}
	} else {
		o.Status = domain.StatusFilled
		now := e.clk().UTC()
		o.TsExecuted = &now
	}

	return fills, nil
}

// applyFill performs one fill atomically: decrement both orders,
// update statuses, settle the buyer's escrow debit and seller's
// credit, adjust holdings, append the Trade, advance ref_price, and
// publish ORDER_MATCHED (spec.md §4.D.2).
func (e *Engine) applyFill(ctx context.Context, taker, maker *domain.Order, price, qty int64) (Fill, error) {
	buyOrder, sellOrder := taker, maker
	if taker.Side == domain.Sell {
		buyOrder, sellOrder = maker, taker
	}

	taker.QtyRemaining -= qty
	maker.QtyRemaining -= qty
	if taker.QtyRemaining == 0 {
		taker.Status = domain.StatusFilled
	} else {
		taker.Status = domain.StatusPartial
	}
	if maker.QtyRemaining == 0 {
		maker.Status = domain.StatusFilled
	} else {
		maker.Status = domain.StatusPartial
	}

	proceeds := price * qty
	// Orders submitted through the lifecycle service already have their
	// funds/shares reserved (escrow for buys, a share lock for sells);
	// a reserved resource is drawn down here, not debited a second
	// time. Orders submitted straight to the engine (no reservation)
	// fall back to debiting points/holdings directly at fill time.
	if buyOrder.EscrowID != "" {
		if err := e.escrow.DebitActive(ctx, buyOrder.EscrowID, proceeds, domain.KindTradeBuy, buyOrder.OrderID); err != nil {
			return Fill{}, err
		}
	} else if _, err := e.ledger.DebitChecked(ctx, buyOrder.UID, proceeds, domain.KindTradeBuy, buyOrder.OrderID); err != nil {
		return Fill{}, err
	}
	if _, err := e.ledger.Credit(ctx, sellOrder.UID, proceeds, domain.KindTradeSell, sellOrder.OrderID); err != nil {
		return Fill{}, err
	}
	if _, err := e.holdings.ApplyBuy(ctx, buyOrder.UID, qty, price); err != nil {
		return Fill{}, err
	}
	if !sellOrder.SharesLocked {
		if _, err := e.holdings.ApplySell(ctx, sellOrder.UID, qty); err != nil {
			return Fill{}, err
		}
	}

	trade := domain.Trade{
		TradeID:    fmt.Sprintf("t-%d-%d", e.clk().UnixNano(), e.nextFillSeq()),
		BuyOrderID: buyOrder.OrderID,
		SellOrderID: sellOrder.OrderID,
		Price:      price,
		Qty:        qty,
		Ts:         e.clk().UTC(),
	}
	if err := e.trades.AppendTrade(ctx, trade); err != nil {
		return Fill{}, xerr.Wrap(xerr.CodeWriteConflict, err)
	}

	e.recordTrade(price, qty)
	e.publishMatched(taker.UID, trade)

	return Fill{TradeID: trade.TradeID, Price: price, Qty: qty, MakerOrderID: maker.OrderID, Ts: trade.Ts}, nil
}

func (e *Engine) setRefPrice(price int64) {
	atomic.StoreInt64(&e.refPrice, price)
}

// recordTrade updates ref_price and the session high/low/volume
// tracked for price_summary. Callers already hold e.mu.
func (e *Engine) recordTrade(price, qty int64) {
	e.setRefPrice(price)
	if e.sessionHigh == 0 || price > e.sessionHigh {
		e.sessionHigh = price
	}
	if e.sessionLow == 0 || price < e.sessionLow {
		e.sessionLow = price
	}
	e.sessionVolume += qty
}

// PriceSummary reports the current session's pricing stats for the
// price_summary external interface (spec.md §6).
type PriceSummary struct {
	Last         int64
	Open         int64
	High         int64
	Low          int64
	Change       int64
	ChangePct    float64
	Volume       int64
	BandLowPct   float64
	BandHighPct  float64
}

// PriceSummary returns a snapshot of the current session's price stats.
func (e *Engine) PriceSummary() PriceSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	last := e.RefPrice()
	change := last - e.sessionOpen
	var changePct float64
	if e.sessionOpen != 0 {
		changePct = float64(change) / float64(e.sessionOpen) * 100
	}
	bps := atomic.LoadInt64(&e.bandBps)
	return PriceSummary{
		Last: last, Open: e.sessionOpen, High: e.sessionHigh, Low: e.sessionLow,
		Change: change, ChangePct: changePct, Volume: e.sessionVolume,
		BandLowPct: -float64(bps) / 100, BandHighPct: float64(bps) / 100,
	}
}

// ResetSession resets open/high/low to the current ref_price and
// zeroes volume, called on market open (spec.md §4.D).
func (e *Engine) ResetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref := e.RefPrice()
	e.sessionOpen, e.sessionHigh, e.sessionLow, e.sessionVolume = ref, ref, ref, 0
}

func (e *Engine) publishMatched(uid string, trade domain.Trade) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.TopicOrderMatched, uid, trade, trade.TradeID)
	e.bus.Publish(eventbus.TopicPriceUpdated, "", trade.Price, trade.TradeID)
}

// CancelResting removes an order from the book if it is still resting.
func (e *Engine) CancelResting(orderID string) (*domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Remove(orderID)
}

// CallAuction computes and executes the single clearing price that
// maximises executable volume across all resting orders (spec.md
// §4.D.3), returning the clearing price and total volume traded. A
// market with no crossing orders returns ok=false.
func (e *Engine) CallAuction(ctx context.Context) (price int64, volume int64, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bids, asks := e.book.AllRestingSides()
	if len(bids) == 0 || len(asks) == 0 {
		return 0, 0, false, nil
	}

	candidates := candidatePrices(bids, asks)
	ref := e.RefPrice()

	var bestPrice int64
	var bestVol int64
	found := false
	for _, p := range candidates {
		v := executableVolume(bids, asks, p)
		if v <= 0 {
			continue
		}
		if !found || v > bestVol ||
			(v == bestVol && closer(p, bestPrice, ref)) {
			bestPrice, bestVol, found = p, v, true
		}
	}
	if !found {
		return 0, 0, false, nil
	}

	remaining := bestVol
	sortByPriceDesc(bids)
	sortByPriceAsc(asks)

	for _, b := range bids {
		if remaining <= 0 {
			break
		}
		if b.Price < bestPrice || !b.Resting() {
			continue
		}
		for _, s := range asks {
			if remaining <= 0 {
				break
			}
			if s.Price > bestPrice || !s.Resting() {
				continue
			}
			qty := min64(b.QtyRemaining, s.QtyRemaining, remaining)
			if qty <= 0 {
				continue
			}
			if _, ferr := e.applyFill(ctx, b, s, bestPrice, qty); ferr != nil {
				return bestPrice, bestVol - remaining, true, ferr
			}
			remaining -= qty
			if s.QtyRemaining == 0 {
				e.book.Remove(s.OrderID)
			}
			if b.QtyRemaining == 0 {
				e.book.Remove(b.OrderID)
				break
			}
		}
	}

	e.setRefPrice(bestPrice)
	if e.bus != nil {
		e.bus.Publish(eventbus.TopicPriceUpdated, "", bestPrice, "call_auction")
	}
	return bestPrice, bestVol, true, nil
}

func candidatePrices(bids, asks []*domain.Order) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, o := range bids {
		if !seen[o.Price] {
			seen[o.Price] = true
			out = append(out, o.Price)
		}
	}
	for _, o := range asks {
		if !seen[o.Price] {
			seen[o.Price] = true
			out = append(out, o.Price)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func executableVolume(bids, asks []*domain.Order, p int64) int64 {
	var buyVol, sellVol int64
	for _, b := range bids {
		if b.Price >= p {
			buyVol += b.QtyRemaining
		}
	}
	for _, s := range asks {
		if s.Price <= p {
			sellVol += s.QtyRemaining
		}
	}
	if buyVol < sellVol {
		return buyVol
	}
	return sellVol
}

func closer(candidate, current, ref int64) bool {
	dc := abs64(candidate - ref)
	dcur := abs64(current - ref)
	return dc < dcur
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(vals ...int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func sortByPriceDesc(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Price > orders[j].Price })
}

func sortByPriceAsc(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Price < orders[j].Price })
}
