// Package lifecycle is the Order Lifecycle Service (spec.md §4.E), the
// single entry point for every order-related command: validate,
// reserve, submit to the matcher, observe fills, settle, notify. It
// depends on the rest of the kernel only through the six port
// interfaces below, resolving the Order/Escrow/Ledger cyclic
// dependency the same way the teacher resolves its consensus/ledger
// cycle: by interface abstraction injected at the composition root,
// never by one package importing another's concrete implementation.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/eventbus"
	"github.com/camppoints/exchanged/internal/xerr"
)

// LedgerPort is the subset of the Ledger this service needs.
type LedgerPort interface {
	GetUser(ctx context.Context, uid string) (domain.User, error)
	CheckSpendable(ctx context.Context, uid string) error
}

// EscrowPort is the subset of the Escrow Manager this service needs.
type EscrowPort interface {
	Create(ctx context.Context, uid string, amount int64, etype domain.EscrowType, refID, note string) (string, error)
	Complete(ctx context.Context, escrowID string, actual int64) error
	Cancel(ctx context.Context, escrowID string, reason string) error
}

// HoldingsPort is the subset of the Holdings Store this service needs
// for sell-side share locks.
type HoldingsPort interface {
	Get(ctx context.Context, uid string) (domain.Holding, error)
	ApplySell(ctx context.Context, uid string, qty int64) (domain.Holding, error)
	RestoreLocked(ctx context.Context, uid string, qty int64) (domain.Holding, error)
}

// BookPort exposes what the lifecycle service needs from the order
// book for cancellation and forced-settlement sweeps.
type BookPort interface {
	AllResting() []*domain.Order
	CancelResting(orderID string) (*domain.Order, bool)
}

// MatcherPort is what the lifecycle service needs from the matching
// engine: submit an order and observe the fills it produced.
type MatcherPort interface {
	Submit(ctx context.Context, o *domain.Order) ([]Fill, error)
	BandRange() (lo, hi int64)
	RefPrice() int64
}

// Fill mirrors matching.Fill's shape; the matching package's concrete
// Engine is adapted to MatcherPort by matcherAdapter in adapters.go so
// this package's exported API never names matching's types directly.
type Fill struct {
	TradeID      string
	Price        int64
	Qty          int64
	MakerOrderID string
	Ts           time.Time
}

// ClockPort reports whether the market currently accepts new orders.
type ClockPort interface {
	IsOpen() bool
}

// Service is the Order Lifecycle Service.
type Service struct {
	ledger   LedgerPort
	escrow   EscrowPort
	holdings HoldingsPort
	book     BookPort
	matcher  MatcherPort
	clock    ClockPort
	bus      *eventbus.Bus
	fee      domain.FeePolicy
	clk      func() time.Time
	logger   *slog.Logger

	orders OrderStore
}

// OrderStore persists submitted orders for ownership/status lookups.
// Lifecycle keeps its own record store because an Order's escrow_id
// and cancel bookkeeping are lifecycle concerns, not book concerns —
// the book only ever sees resting orders.
type OrderStore interface {
	Save(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListByUID(ctx context.Context, uid string, limit int) ([]domain.Order, error)
}

// Deps bundles the lifecycle service's injected ports.
type Deps struct {
	Ledger   LedgerPort
	Escrow   EscrowPort
	Holdings HoldingsPort
	Book     BookPort
	Matcher  MatcherPort
	Clock    ClockPort
	Bus      *eventbus.Bus
	Orders   OrderStore
	Fee      domain.FeePolicy
}

// New builds a Service from its injected ports.
func New(d Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger: d.Ledger, escrow: d.Escrow, holdings: d.Holdings,
		book: d.Book, matcher: d.Matcher, clock: d.Clock, bus: d.Bus,
		orders: d.Orders, fee: d.Fee, clk: time.Now, logger: logger,
	}
}

func (s *Service) now() time.Time { return s.clk().UTC() }

func (s *Service) publish(topic eventbus.Topic, uid string, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, uid, payload, "")
}

// Submit validates, reserves, matches, and settles a new order
// (spec.md §4.E steps 1-4).
func (s *Service) Submit(ctx context.Context, uid string, side domain.Side, typ domain.OrderType, qty, price int64) (domain.Order, error) {
	if qty <= 0 {
		return domain.Order{}, xerr.ErrInvalidArgs
	}
	if typ == domain.Limit && price <= 0 {
		return domain.Order{}, xerr.ErrInvalidArgs
	}
	if !s.clock.IsOpen() {
		return domain.Order{}, xerr.ErrMarketClosed
	}
	if err := s.ledger.CheckSpendable(ctx, uid); err != nil {
		return domain.Order{}, err
	}

	o := domain.Order{
		OrderID:      fmt.Sprintf("o-%s-%d", uid, s.now().UnixNano()),
		UID:          uid,
		Side:         side,
		Type:         typ,
		QtyOriginal:  qty,
		QtyRemaining: qty,
		Price:        price,
		Status:       domain.StatusPending,
		TsCreated:    s.now(),
	}

	if side == domain.Buy {
		reservePrice := price
		if typ == domain.Market {
			_, hi := s.matcher.BandRange()
			reservePrice = hi
		}
		reserveAmt := reservePrice*qty + s.fee.Fee(reservePrice*qty)
		escrowID, err := s.escrow.Create(ctx, uid, reserveAmt, domain.EscrowOrder, o.OrderID, "order_reserve")
		if err != nil {
			return domain.Order{}, err
		}
		o.EscrowID = escrowID
	} else {
		if _, err := s.holdings.ApplySell(ctx, uid, qty); err != nil {
			return domain.Order{}, err
		}
		o.SharesLocked = true
	}

	if err := s.orders.Save(ctx, o); err != nil {
		s.releaseReservation(ctx, &o)
		return domain.Order{}, err
	}
	s.publish(eventbus.TopicOrderCreated, uid, o)

	fills, err := s.matcher.Submit(ctx, &o)
	if err != nil {
		s.releaseReservation(ctx, &o)
		o.Status = domain.StatusCancelled
		_ = s.orders.Save(ctx, o)
		s.publish(eventbus.TopicOrderFailed, uid, err.Error())
		return domain.Order{}, err
	}

	if err := s.settle(ctx, &o, fills); err != nil {
		s.publish(eventbus.TopicOrderFailed, uid, err.Error())
		return o, err
	}

	if err := s.orders.Save(ctx, o); err != nil {
		return domain.Order{}, err
	}
	if o.Status == domain.StatusFilled || o.Status == domain.StatusPartial {
		s.publish(eventbus.TopicOrderMatched, uid, o)
	}
	return o, nil
}

func (s *Service) releaseReservation(ctx context.Context, o *domain.Order) {
	if o.Side == domain.Buy && o.EscrowID != "" {
		if err := s.escrow.Cancel(ctx, o.EscrowID, "submit_failed"); err != nil {
			s.logger.Error("lifecycle: failed to release escrow on submit failure", "order_id", o.OrderID, "err", err)
		}
		return
	}
	if o.Side == domain.Sell {
		if _, err := s.holdings.RestoreLocked(ctx, o.UID, o.QtyOriginal); err != nil {
			s.logger.Error("lifecycle: failed to restore shares on submit failure", "order_id", o.OrderID, "err", err)
		}
	}
}

// settle completes the order's reservation once it is fully filled
// (spec.md §4.D.4, §4.E step 3). The matching engine already drew
// each fill's trade proceeds directly out of escrow as it executed
// (applyFill's DebitActive calls), so the only amount left to settle
// here is the transfer fee; whatever headroom remains beyond that is
// refunded to points.
func (s *Service) settle(ctx context.Context, o *domain.Order, fills []Fill) error {
	if o.Side != domain.Buy || o.EscrowID == "" {
		return nil
	}
	if o.Status != domain.StatusFilled {
		// order still rests with residual escrow reserved; nothing to
		// release yet. The residual is released on cancel.
		return nil
	}
	var spent int64
	for _, f := range fills {
		spent += f.Price * f.Qty
	}
	fee := s.fee.Fee(spent)
	return s.escrow.Complete(ctx, o.EscrowID, fee)
}

// Cancel cancels a resting order owned by uid (spec.md §4.E step 5).
func (s *Service) Cancel(ctx context.Context, uid, orderID, reason string) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.UID != uid {
		return xerr.ErrNotOwner
	}
	if !o.Status.Resting() {
		return xerr.ErrNotCancellable
	}

	s.book.CancelResting(orderID)

	now := s.now()
	o.Status = domain.StatusCancelled
	o.CancelReason = reason
	o.TsCancelled = &now

	if o.Side == domain.Buy && o.EscrowID != "" {
		if err := s.escrow.Cancel(ctx, o.EscrowID, reason); err != nil {
			return err
		}
	} else if o.Side == domain.Sell {
		if _, err := s.holdings.RestoreLocked(ctx, uid, o.QtyRemaining); err != nil {
			return err
		}
	}

	if err := s.orders.Save(ctx, o); err != nil {
		return err
	}
	s.publish(eventbus.TopicOrderCancelled, uid, o)
	return nil
}

// CancelAllResting cancels every resting order, used on market close
// and on forced end-of-session settlement (spec.md §4.E step 6).
func (s *Service) CancelAllResting(ctx context.Context, reason string) (int, error) {
	resting := s.book.AllResting()
	count := 0
	for _, o := range resting {
		if err := s.Cancel(ctx, o.UID, o.OrderID, reason); err != nil {
			s.logger.Warn("lifecycle: forced cancel failed", "order_id", o.OrderID, "err", err)
			continue
		}
		count++
	}
	return count, nil
}

// OrderHistory returns uid's most recent orders, newest first, for the
// order_history external interface (spec.md §6).
func (s *Service) OrderHistory(ctx context.Context, uid string, limit int) ([]domain.Order, error) {
	return s.orders.ListByUID(ctx, uid, limit)
}
