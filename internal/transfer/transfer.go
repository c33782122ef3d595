// Package transfer is the peer-to-peer Transfer Service (spec.md
// §4.F): resolve recipient, compute the fee, debit the sender the
// total (amount+fee) via the ledger's non-negativity check, credit
// the recipient, and record both ledger entries. Retries a transient
// write conflict with exponential backoff and jitter, the same policy
// shape the teacher uses for its own submission retry loop.
package transfer

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/eventbus"
	"github.com/camppoints/exchanged/internal/xerr"
)

// LedgerPort is the subset of the Ledger the transfer service needs.
type LedgerPort interface {
	DebitChecked(ctx context.Context, uid string, amount int64, kind domain.LedgerKind, note string) (int64, error)
	Credit(ctx context.Context, uid string, amount int64, kind domain.LedgerKind, note string) (int64, error)
	GetUser(ctx context.Context, uid string) (domain.User, error)
	CheckSpendable(ctx context.Context, uid string) error
}

// DirectoryPort resolves a username to a uid, for transfers addressed
// by username rather than raw uid.
type DirectoryPort interface {
	ResolveUID(ctx context.Context, username string) (string, error)
}

// Config tunes the retry policy and fee schedule.
type Config struct {
	Fee            domain.FeePolicy
	MaxRetries     int // N >= 6 per spec.md §4.F
	RetryBase      time.Duration
	NonTransactional bool // recorded from config, default off; not read by the service
}

// DefaultConfig returns the spec's minimum retry budget.
func DefaultConfig(fee domain.FeePolicy) Config {
	return Config{Fee: fee, MaxRetries: 6, RetryBase: 20 * time.Millisecond}
}

// Service is the Transfer Service.
type Service struct {
	ledger    LedgerPort
	directory DirectoryPort
	bus       *eventbus.Bus
	cfg       Config
	logger    *slog.Logger
}

// New builds a transfer Service.
func New(ledger LedgerPort, directory DirectoryPort, bus *eventbus.Bus, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxRetries < 6 {
		cfg.MaxRetries = 6
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 20 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, directory: directory, bus: bus, cfg: cfg, logger: logger}
}

// Result summarizes a completed transfer.
type Result struct {
	FromUID  string
	ToUID    string
	Amount   int64
	Fee      int64
	TotalDebit int64
}

// Transfer moves amount points from fromUID to the user named
// toUsername, charging the configured fee to the sender (spec.md
// §4.F).
func (s *Service) Transfer(ctx context.Context, fromUID, toUsername string, amount int64, note string) (Result, error) {
	if amount <= 0 {
		return Result{}, xerr.ErrInvalidArgs
	}

	toUID, err := s.directory.ResolveUID(ctx, toUsername)
	if err != nil {
		return Result{}, xerr.ErrUnknownRecipient
	}
	if toUID == fromUID {
		return Result{}, xerr.ErrSelfTransfer
	}
	if err := s.ledger.CheckSpendable(ctx, fromUID); err != nil {
		return Result{}, err
	}

	fee := s.cfg.Fee.Fee(amount)
	totalDebit := amount + fee

	if s.bus != nil {
		s.bus.Publish(eventbus.TopicTransferInitiated, fromUID, Result{FromUID: fromUID, ToUID: toUID, Amount: amount, Fee: fee, TotalDebit: totalDebit}, "")
	}

	res, err := s.runWithRetry(ctx, fromUID, toUID, amount, fee, totalDebit, note)
	if err != nil {
		if s.bus != nil {
			s.bus.Publish(eventbus.TopicTransferFailed, fromUID, err.Error(), "")
		}
		return Result{}, err
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.TopicTransferCompleted, fromUID, res, "")
	}
	return res, nil
}

func (s *Service) runWithRetry(ctx context.Context, fromUID, toUID string, amount, fee, totalDebit int64, note string) (Result, error) {
	delay := s.cfg.RetryBase
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		res, err := s.attempt(ctx, fromUID, toUID, amount, fee, totalDebit, note)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !xerr.Retryable(err) {
			return Result{}, err
		}
		jitter := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		delay *= 2
	}
	return Result{}, lastErr
}

// attempt performs the debit+credit pair. Without cross-store
// transactions, debit_checked is the non-negativity safety net; the
// non-transactional fallback (spec.md §4.F) accepts that recipient
// credit and sender debit are not strictly simultaneous, which is
// acceptable only because debit_checked alone already guarantees
// points never go negative.
func (s *Service) attempt(ctx context.Context, fromUID, toUID string, amount, fee, totalDebit int64, note string) (Result, error) {
	if _, err := s.ledger.DebitChecked(ctx, fromUID, amount, domain.KindTransferOut, note); err != nil {
		return Result{}, err
	}
	if fee > 0 {
		// debited as its own ledger entry (spec.md §8 scenario 4: sender
		// sees transfer_out and fee as two distinct entries), not folded
		// into the transfer_out delta.
		if _, err := s.ledger.DebitChecked(ctx, fromUID, fee, domain.KindFee, note); err != nil {
			return Result{}, err
		}
	}
	if _, err := s.ledger.Credit(ctx, toUID, amount, domain.KindTransferIn, note); err != nil {
		// sender was already debited; credit failure here is the one
		// window where non-transactional mode leaves a gap. Surface the
		// error so the caller can alert an operator; the fix-up is a
		// manual admin_grant, not an automatic compensating transaction.
		// Not wrapped as a write conflict: a retryable code would make
		// runWithRetry debit the sender a second time.
		return Result{}, xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	return Result{FromUID: fromUID, ToUID: toUID, Amount: amount, Fee: fee, TotalDebit: totalDebit}, nil
}
