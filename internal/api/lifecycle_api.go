// Package api exposes the kernel's narrow external contracts (spec.md
// §6) as Go facades over the already-built services: an HTTP handler,
// CLI command, or gRPC method adapts one of these calls rather than
// reaching into the lifecycle/transfer/ipo/matching packages directly.
// This mirrors the teacher's own jsonrpc method layer: thin request/
// response shaping over a service that already holds all the logic.
package api

import (
	"context"
	"fmt"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/holdings"
	"github.com/camppoints/exchanged/internal/ipo"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog"
	"github.com/camppoints/exchanged/internal/lifecycle"
	"github.com/camppoints/exchanged/internal/matching"
	"github.com/camppoints/exchanged/internal/router"
	"github.com/camppoints/exchanged/internal/transfer"
)

// LifecycleAPI implements the Lifecycle API contract: place_order,
// cancel_order, transfer_points, ipo_buy, portfolio, order_history and
// ledger_history. Every uid-scoped write dispatches through the
// Sharded Router so concurrent commands from the same user always
// serialize on that user's shard, instead of racing the Ledger's CAS
// retry loop directly.
type LifecycleAPI struct {
	lifecycle *lifecycle.Service
	transfer  *transfer.Service
	ipo       *ipo.Service
	ledger    *ledger.Ledger
	holdings  *holdings.Store
	ledgerLog ledgerlog.Store
	matcher   *matching.Engine
	router    *router.Router
}

// NewLifecycleAPI builds a LifecycleAPI over the kernel services the
// composition root has already wired.
func NewLifecycleAPI(lc *lifecycle.Service, xfer *transfer.Service, ipoSvc *ipo.Service, l *ledger.Ledger, h *holdings.Store, log ledgerlog.Store, eng *matching.Engine, rtr *router.Router) *LifecycleAPI {
	return &LifecycleAPI{lifecycle: lc, transfer: xfer, ipo: ipoSvc, ledger: l, holdings: h, ledgerLog: log, matcher: eng, router: rtr}
}

// dispatchResult carries a typed value through the router's
// fire-and-forget Job back to a blocked caller.
type dispatchResult[T any] struct {
	val T
	err error
}

// dispatch runs fn on uid's shard and blocks for its result, turning
// the router's async Job into the synchronous call every Lifecycle API
// write needs regardless of what framing (HTTP/CLI/gRPC) calls it.
func dispatch[T any](ctx context.Context, rtr *router.Router, uid string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	done := make(chan dispatchResult[T], 1)
	job := router.Job{UID: uid, Run: func(ctx context.Context) {
		v, err := fn(ctx)
		done <- dispatchResult[T]{val: v, err: err}
	}}
	if err := rtr.Dispatch(job); err != nil {
		return zero, err
	}
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// OrderAck is the result of place_order and ipo_buy (spec.md §6);
// cancel_order returns a CancelAck.
// FilledQty is how much of QtyOriginal matched immediately; lifecycle
// doesn't surface the individual Fill records to its caller (settle
// already folded them into the order's own state), so an adapter that
// needs per-fill detail reads recent_trades instead.
type OrderAck struct {
	OrderID        string
	FilledQty      int64
	ResidualStatus domain.OrderStatus
}

// PlaceOrder submits a new order for uid, serialized on uid's shard.
func (a *LifecycleAPI) PlaceOrder(ctx context.Context, uid string, side domain.Side, typ domain.OrderType, qty, price int64) (OrderAck, error) {
	o, err := dispatch(ctx, a.router, uid, func(ctx context.Context) (domain.Order, error) {
		return a.lifecycle.Submit(ctx, uid, side, typ, qty, price)
	})
	if err != nil {
		return OrderAck{}, err
	}
	return OrderAck{OrderID: o.OrderID, FilledQty: o.QtyOriginal - o.QtyRemaining, ResidualStatus: o.Status}, nil
}

// CancelAck is the result of cancel_order.
type CancelAck struct {
	OrderID string
	Reason  string
}

// CancelOrder cancels uid's resting order, serialized on uid's shard.
func (a *LifecycleAPI) CancelOrder(ctx context.Context, uid, orderID, reason string) (CancelAck, error) {
	_, err := dispatch(ctx, a.router, uid, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.lifecycle.Cancel(ctx, uid, orderID, reason)
	})
	if err != nil {
		return CancelAck{}, err
	}
	return CancelAck{OrderID: orderID, Reason: reason}, nil
}

// TransferAck is the result of transfer_points.
type TransferAck struct {
	TxID string
	Fee  int64
}

// TransferPoints moves points from fromUID to toUsername, serialized
// on the sender's shard (the side that can fail on insufficient funds).
func (a *LifecycleAPI) TransferPoints(ctx context.Context, fromUID, toUsername string, amount int64, note string) (TransferAck, error) {
	res, err := dispatch(ctx, a.router, fromUID, func(ctx context.Context) (transfer.Result, error) {
		return a.transfer.Transfer(ctx, fromUID, toUsername, amount, note)
	})
	if err != nil {
		return TransferAck{}, err
	}
	return TransferAck{TxID: fmt.Sprintf("%s->%s@%d", res.FromUID, res.ToUID, amount), Fee: res.Fee}, nil
}

// IPOBuy buys qty shares from the IPO allocation for uid, serialized
// on uid's shard like any other spending operation.
func (a *LifecycleAPI) IPOBuy(ctx context.Context, uid string, qty int64) (OrderAck, error) {
	trade, err := dispatch(ctx, a.router, uid, func(ctx context.Context) (domain.Trade, error) {
		return a.ipo.Buy(ctx, uid, qty)
	})
	if err != nil {
		return OrderAck{}, err
	}
	return OrderAck{OrderID: trade.TradeID, FilledQty: trade.Qty, ResidualStatus: domain.StatusFilled}, nil
}

// Portfolio is the result of portfolio(uid) (spec.md §6).
type Portfolio struct {
	Points              int64
	Escrow              int64
	Owed                int64
	Holdings            []domain.Holding
	TotalValueAtRefPrice int64
}

// Portfolio reports uid's full account snapshot: balances plus the
// single instrument's holding valued at the current reference price.
func (a *LifecycleAPI) Portfolio(ctx context.Context, uid string) (Portfolio, error) {
	u, err := a.ledger.GetUser(ctx, uid)
	if err != nil {
		return Portfolio{}, err
	}
	h, err := a.holdings.Get(ctx, uid)
	if err != nil {
		return Portfolio{}, err
	}
	var hs []domain.Holding
	if h.Shares != 0 {
		hs = []domain.Holding{h}
	}
	return Portfolio{
		Points: u.Points, Escrow: u.Escrow, Owed: u.Owed,
		Holdings:             hs,
		TotalValueAtRefPrice: h.Shares * a.matcher.RefPrice(),
	}, nil
}

// OrderHistory returns uid's most recent orders, newest first.
func (a *LifecycleAPI) OrderHistory(ctx context.Context, uid string, limit int) ([]domain.Order, error) {
	return a.lifecycle.OrderHistory(ctx, uid, limit)
}

// LedgerHistory returns uid's most recent ledger entries, newest first.
func (a *LifecycleAPI) LedgerHistory(ctx context.Context, uid string, limit int) ([]domain.LedgerEntry, error) {
	return a.ledgerLog.EntriesForUID(ctx, uid, limit)
}
