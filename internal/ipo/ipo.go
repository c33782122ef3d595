// Package ipo is the primary-issue allocator (spec.md §4.G): a single
// mutable singleton, shares_remaining at a fixed price, guarded by the
// same namespaced-CAS pattern as the rest of the kernel's persisted
// state so concurrent ipo_buy calls from different shards never
// oversell the allocation.
package ipo

import (
	"context"
	"fmt"
	"time"

	"github.com/camppoints/exchanged/internal/codecutil"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/escrow"
	"github.com/camppoints/exchanged/internal/holdings"
	"github.com/camppoints/exchanged/internal/kvstore"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog"
	"github.com/camppoints/exchanged/internal/xerr"
)

const (
	namespace  = "ipo"
	singletonK = "state"
)

// State is the IPO singleton: remaining allocation and fixed price.
type State struct {
	SharesRemaining int64
	Price           int64
}

// Service is the IPO primary-issue allocator.
type Service struct {
	kv       kvstore.Store
	ledger   *ledger.Ledger
	holdings *holdings.Store
	trades   ledgerlog.Store
	clk      func() time.Time
}

// New builds a Service and seeds the singleton if it does not exist.
func New(ctx context.Context, kv kvstore.Store, l *ledger.Ledger, h *holdings.Store, trades ledgerlog.Store, initial State) (*Service, error) {
	s := &Service{kv: kv, ledger: l, holdings: h, trades: trades, clk: time.Now}
	encoded, err := codecutil.Encode(initial)
	if err != nil {
		return nil, err
	}
	if err := s.kv.CompareAndSwap(ctx, namespace, []byte(singletonK), nil, encoded); err != nil && err != kvstore.ErrConflict {
		return nil, err
	}
	return s, nil
}

func (s *Service) load(ctx context.Context) (State, []byte, error) {
	raw, err := s.kv.Get(ctx, namespace, []byte(singletonK))
	if err != nil {
		return State{}, nil, xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	var st State
	if err := codecutil.Decode(raw, &st); err != nil {
		return State{}, nil, xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	return st, raw, nil
}

// Status returns the current allocation snapshot.
func (s *Service) Status(ctx context.Context) (State, error) {
	st, _, err := s.load(ctx)
	return st, err
}

// Buy decrements shares_remaining by qty, debits uid qty*price points,
// and credits uid's holding, all atomically with respect to the
// singleton's CAS guard. This is the direct ipo_buy entry point, with
// no escrow in play. The matching engine's IPO fallback path instead
// calls BuyViaEscrow, since there the buyer's funds were already
// reserved by the Order Lifecycle Service before the order ever
// reached the matcher.
func (s *Service) Buy(ctx context.Context, uid string, qty int64) (domain.Trade, error) {
	if qty <= 0 {
		return domain.Trade{}, xerr.ErrInvalidArgs
	}

	st, err := s.decrementShares(ctx, qty)
	if err != nil {
		return domain.Trade{}, err
	}

	total := st.Price * qty
	if _, err := s.ledger.DebitChecked(ctx, uid, total, domain.KindTradeBuy, "ipo_buy"); err != nil {
		// roll back the share decrement: best effort restoration.
		s.restoreShares(ctx, qty)
		return domain.Trade{}, err
	}
	return s.settleFill(ctx, uid, st.Price, qty)
}

// BuyViaEscrow is Buy for an order whose funds are already sitting in
// an active escrow: the share decrement is identical, but the points
// debit is replaced with a draw against the escrow's remaining
// headroom instead of a direct ledger debit, so the buyer is never
// charged twice for the same fill.
func (s *Service) BuyViaEscrow(ctx context.Context, esc *escrow.Manager, uid, escrowID string, qty int64) (domain.Trade, error) {
	if qty <= 0 {
		return domain.Trade{}, xerr.ErrInvalidArgs
	}

	st, err := s.decrementShares(ctx, qty)
	if err != nil {
		return domain.Trade{}, err
	}

	total := st.Price * qty
	if err := esc.DebitActive(ctx, escrowID, total, domain.KindTradeBuy, "ipo_buy"); err != nil {
		s.restoreShares(ctx, qty)
		return domain.Trade{}, err
	}
	return s.settleFill(ctx, uid, st.Price, qty)
}

// decrementShares atomically subtracts qty from shares_remaining,
// retrying on CAS conflict, and returns the singleton state as of the
// winning write (for its fixed price).
func (s *Service) decrementShares(ctx context.Context, qty int64) (State, error) {
	const maxRetries = 64
	for attempt := 0; attempt < maxRetries; attempt++ {
		cur, raw, err := s.load(ctx)
		if err != nil {
			return State{}, err
		}
		if cur.SharesRemaining < qty {
			return State{}, xerr.ErrInsufficientIPO
		}
		cur.SharesRemaining -= qty
		encoded, err := codecutil.Encode(cur)
		if err != nil {
			return State{}, xerr.Wrap(xerr.CodeInvariantViolation, err)
		}
		if err := s.kv.CompareAndSwap(ctx, namespace, []byte(singletonK), raw, encoded); err != nil {
			if err == kvstore.ErrConflict {
				continue
			}
			return State{}, xerr.Wrap(xerr.CodeWriteConflict, err)
		}
		return cur, nil
	}
	return State{}, xerr.ErrWriteConflict
}

// settleFill credits uid's holding and appends the Trade record, once
// the buyer's funds have been settled by whichever path (direct debit
// or escrow draw) the caller used.
func (s *Service) settleFill(ctx context.Context, uid string, price, qty int64) (domain.Trade, error) {
	if _, err := s.holdings.ApplyBuy(ctx, uid, qty, price); err != nil {
		return domain.Trade{}, err
	}

	trade := domain.Trade{
		TradeID:    fmt.Sprintf("ipo-%s-%d", uid, s.clk().UnixNano()),
		BuyOrderID: "ipo:" + uid,
		Price:      price,
		Qty:        qty,
		Ts:         s.clk().UTC(),
	}
	if err := s.trades.AppendTrade(ctx, trade); err != nil {
		return domain.Trade{}, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return trade, nil
}

func (s *Service) restoreShares(ctx context.Context, qty int64) {
	const maxRetries = 16
	for attempt := 0; attempt < maxRetries; attempt++ {
		cur, raw, err := s.load(ctx)
		if err != nil {
			return
		}
		cur.SharesRemaining += qty
		encoded, err := codecutil.Encode(cur)
		if err != nil {
			return
		}
		if err := s.kv.CompareAndSwap(ctx, namespace, []byte(singletonK), raw, encoded); err == nil {
			return
		}
	}
}

// AdminReset replaces the singleton wholesale.
func (s *Service) AdminReset(ctx context.Context, shares, price int64) error {
	_, raw, err := s.load(ctx)
	if err != nil {
		return err
	}
	encoded, err := codecutil.Encode(State{SharesRemaining: shares, Price: price})
	if err != nil {
		return err
	}
	if err := s.kv.CompareAndSwap(ctx, namespace, []byte(singletonK), raw, encoded); err != nil {
		return xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return nil
}

// AdminUpdate partially updates shares and/or price; nil leaves the
// field unchanged.
func (s *Service) AdminUpdate(ctx context.Context, shares, price *int64) error {
	cur, raw, err := s.load(ctx)
	if err != nil {
		return err
	}
	if shares != nil {
		cur.SharesRemaining = *shares
	}
	if price != nil {
		cur.Price = *price
	}
	encoded, err := codecutil.Encode(cur)
	if err != nil {
		return err
	}
	if err := s.kv.CompareAndSwap(ctx, namespace, []byte(singletonK), raw, encoded); err != nil {
		return xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return nil
}
