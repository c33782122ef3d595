// Package domain holds the shared data model for the points exchange: the
// user ledger, holdings, orders, trades, escrows and the append-only
// ledger entry, plus the small enumerations that describe their states.
// Nothing in this package talks to storage or does business logic; it is
// the vocabulary every other package shares.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is which side of the book an order sits on.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderType distinguishes market orders (never rest) from limit orders.
type OrderType uint8

const (
	Market OrderType = iota
	Limit
)

func (t OrderType) String() string {
	if t == Market {
		return "market"
	}
	return "limit"
}

// OrderStatus is the lifecycle state of an Order.
type OrderStatus uint8

const (
	StatusPending OrderStatus = iota
	StatusPartial
	StatusFilled
	StatusCancelled
	StatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPartial:
		return "partial"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Resting reports whether an order with this status can still receive
// fills and therefore must live in the book.
func (s OrderStatus) Resting() bool {
	return s == StatusPending || s == StatusPartial
}

// EscrowType names what an escrow is reserved for.
type EscrowType uint8

const (
	EscrowOrder EscrowType = iota
	EscrowTransfer
	EscrowPvP
)

func (t EscrowType) String() string {
	switch t {
	case EscrowOrder:
		return "order"
	case EscrowTransfer:
		return "transfer"
	case EscrowPvP:
		return "pvp"
	default:
		return "unknown"
	}
}

// EscrowStatus is the lifecycle state of an Escrow.
type EscrowStatus uint8

const (
	EscrowActive EscrowStatus = iota
	EscrowCompleted
	EscrowCancelled
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowActive:
		return "active"
	case EscrowCompleted:
		return "completed"
	case EscrowCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// LedgerKind enumerates every reason a LedgerEntry was recorded. This is
// the closed set from spec.md §3; never add a free-form string kind.
type LedgerKind uint8

const (
	KindIPOGrant LedgerKind = iota
	KindTradeBuy
	KindTradeSell
	KindTransferIn
	KindTransferOut
	KindFee
	KindEscrowReserve
	KindEscrowRelease
	KindAdminGrant
	KindPvPWin
	KindPvPLoss
	KindArcadeAdjust
	KindSettlement
	KindDebtRepayment
)

func (k LedgerKind) String() string {
	switch k {
	case KindIPOGrant:
		return "ipo_grant"
	case KindTradeBuy:
		return "trade_buy"
	case KindTradeSell:
		return "trade_sell"
	case KindTransferIn:
		return "transfer_in"
	case KindTransferOut:
		return "transfer_out"
	case KindFee:
		return "fee"
	case KindEscrowReserve:
		return "escrow_reserve"
	case KindEscrowRelease:
		return "escrow_release"
	case KindAdminGrant:
		return "admin_grant"
	case KindPvPWin:
		return "pvp_win"
	case KindPvPLoss:
		return "pvp_loss"
	case KindArcadeAdjust:
		return "arcade_adjust"
	case KindSettlement:
		return "settlement"
	case KindDebtRepayment:
		return "debt_repayment"
	default:
		return "unknown"
	}
}

// User is a camp participant's account. It is never deleted once created.
type User struct {
	UID        string
	Points     int64
	Escrow     int64
	Owed       int64
	Enabled    bool
	Frozen     bool
	Team       string
	TelegramID string
}

// Spendable reports whether a user may initiate a new spending operation
// (order submission, transfer, IPO buy). Cancels are always allowed
// regardless of this flag.
func (u *User) Spendable() bool {
	return u.Enabled && !u.Frozen && u.Owed == 0
}

// Holding is a user's position in the single traded instrument.
type Holding struct {
	UID      string
	Shares   int64
	AvgCost  decimal.Decimal
}

// ApplyBuy folds a buy fill into the weighted-average cost basis. Sells
// never touch AvgCost (spec.md §3).
func (h *Holding) ApplyBuy(qty int64, price int64) {
	if qty <= 0 {
		return
	}
	priorShares := decimal.NewFromInt(h.Shares)
	priorCost := h.AvgCost.Mul(priorShares)
	incomingCost := decimal.NewFromInt(price).Mul(decimal.NewFromInt(qty))
	newShares := h.Shares + qty
	if newShares == 0 {
		h.AvgCost = decimal.Zero
		h.Shares = 0
		return
	}
	h.AvgCost = priorCost.Add(incomingCost).Div(decimal.NewFromInt(newShares))
	h.Shares = newShares
}

// ApplySell decrements shares without touching the average cost basis.
func (h *Holding) ApplySell(qty int64) {
	h.Shares -= qty
	if h.Shares < 0 {
		h.Shares = 0
	}
}

// Order is a single order in or formerly in the book.
type Order struct {
	OrderID       string
	UID           string
	Side          Side
	Type          OrderType
	QtyOriginal   int64
	QtyRemaining  int64
	Price         int64 // zero/unused for market orders
	Status        OrderStatus
	EscrowID      string // buy-side escrow reserved at submission, "" for sells (share lock is on the holding)
	SharesLocked  bool   // sell-side shares already decremented at submission; applyFill must not decrement them again
	TsCreated     time.Time
	TsExecuted    *time.Time
	TsCancelled   *time.Time
	CancelReason  string
	InsertionSeq  uint64 // breaks ts_created ties within a price level
}

// Resting mirrors spec.md §3's order invariant: an order is resting iff
// its status allows further fills and it still has quantity left.
func (o *Order) Resting() bool {
	return o.Status.Resting() && o.QtyRemaining > 0
}

// Trade is an immutable fill record. SellOrderID is empty for IPO fills.
type Trade struct {
	TradeID     string
	BuyOrderID  string
	SellOrderID string
	Price       int64
	Qty         int64
	Ts          time.Time
}

// Escrow reserves funds or shares for a single pending obligation.
type Escrow struct {
	EscrowID       string
	UID            string
	AmountReserved int64
	Type           EscrowType
	RefID          string
	Status         EscrowStatus
	TsCreated      time.Time
	TsCompleted    *time.Time
	TsCancelled    *time.Time
	ActualAmount   int64
	Refund         int64
	Note           string
}

// LedgerEntry is an immutable, append-only accounting record.
type LedgerEntry struct {
	UID          string
	Delta        int64
	Kind         LedgerKind
	Note         string
	BalanceAfter int64
	Ts           time.Time
	TxID         string
}

// FeePolicy is the transfer fee schedule: fee = max(MinFee, floor(amount*RatePct/100)).
type FeePolicy struct {
	RatePct int64
	MinFee  int64
}

// Fee computes the transfer fee for a given amount under this policy.
func (p FeePolicy) Fee(amount int64) int64 {
	pct := (amount * p.RatePct) / 100
	if pct < p.MinFee {
		return p.MinFee
	}
	return pct
}

// Window is a scheduled market-open interval, inclusive of both ends, in
// UTC epoch milliseconds.
type Window struct {
	StartMs int64
	EndMs   int64
}

// Contains reports whether ts (epoch ms) falls within the window.
func (w Window) Contains(tsMs int64) bool {
	return tsMs >= w.StartMs && tsMs <= w.EndMs
}

// MarketConfig is the singleton describing the trading session's rules.
type MarketConfig struct {
	Windows         []Window
	ForceOpen       bool
	ForceClose      bool
	IPOPrice        int64
	IPOShares       int64
	BandBps         int64 // basis points, 1/10000
	TransferFee     FeePolicy
}
