// Package ledger is the sole choke point for mutating a user's points
// and escrow balances. Every other component reaches balances through
// Credit, DebitChecked, MoveToEscrow or ReleaseFromEscrow; none may
// read-modify-write a User directly. This mirrors the teacher's
// ledger service: a thin struct over a persistence layer, guarding
// every mutation behind a retry loop instead of a held lock, so
// cross-user traffic never serialises on a shared mutex.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/camppoints/exchanged/internal/codecutil"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/kvstore"
	"github.com/camppoints/exchanged/internal/ledgerlog"
	"github.com/camppoints/exchanged/internal/xerr"
)

const usersNamespace = "users"

// maxCASRetries bounds the compare-and-swap retry loop for a single
// logical operation under contention on one uid's row.
const maxCASRetries = 64

// Ledger is the dual-balance accounting core (spec §4.A).
type Ledger struct {
	kv  kvstore.Store
	log ledgerlog.Store
	clk func() time.Time

	logger *slog.Logger
}

// New builds a Ledger over the given KV and log stores.
func New(kv kvstore.Store, log ledgerlog.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{kv: kv, log: log, clk: time.Now, logger: logger}
}

func (l *Ledger) now() time.Time { return l.clk().UTC() }

func userKey(uid string) []byte { return []byte(uid) }

func (l *Ledger) loadUser(ctx context.Context, uid string) (domain.User, []byte, error) {
	raw, err := l.kv.Get(ctx, usersNamespace, userKey(uid))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return domain.User{}, nil, xerr.ErrUnknownUser
		}
		return domain.User{}, nil, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	var u domain.User
	if err := codecutil.Decode(raw, &u); err != nil {
		return domain.User{}, nil, xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	return u, raw, nil
}

// CreateUser inserts a brand-new user row if one does not already exist.
func (l *Ledger) CreateUser(ctx context.Context, u domain.User) error {
	encoded, err := codecutil.Encode(u)
	if err != nil {
		return xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	if err := l.kv.CompareAndSwap(ctx, usersNamespace, userKey(u.UID), nil, encoded); err != nil {
		if err == kvstore.ErrConflict {
			return nil // already exists; creation is idempotent
		}
		return xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return nil
}

// GetUser returns the current snapshot for uid.
func (l *Ledger) GetUser(ctx context.Context, uid string) (domain.User, error) {
	u, _, err := l.loadUser(ctx, uid)
	return u, err
}

// mutate runs fn against the current User, retrying on optimistic
// write conflicts until it succeeds, fn returns an error, or the retry
// budget is exhausted. fn may return any *xerr.Error to reject the
// mutation (e.g. ErrInsufficientPoints); that error propagates as-is.
func (l *Ledger) mutate(ctx context.Context, uid string, fn func(u *domain.User) error) (domain.User, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		u, raw, err := l.loadUser(ctx, uid)
		if err != nil {
			return domain.User{}, err
		}
		if err := fn(&u); err != nil {
			return domain.User{}, err
		}
		encoded, err := codecutil.Encode(u)
		if err != nil {
			return domain.User{}, xerr.Wrap(xerr.CodeInvariantViolation, err)
		}
		err = l.kv.CompareAndSwap(ctx, usersNamespace, userKey(uid), raw, encoded)
		if err == nil {
			return u, nil
		}
		if err != kvstore.ErrConflict {
			return domain.User{}, xerr.Wrap(xerr.CodeWriteConflict, err)
		}
		// lost the race against a concurrent writer on this uid; retry
	}
	return domain.User{}, xerr.ErrWriteConflict
}

func preconditions(u *domain.User) error {
	if !u.Enabled {
		return xerr.ErrDisabled
	}
	if u.Frozen || u.Owed > 0 {
		return xerr.ErrFrozen
	}
	return nil
}

// Credit adds amount to points, recording a LedgerEntry. Spend
// preconditions are not enforced here per spec.md §4.A: a caller
// policy (e.g. admin grant) may legitimately credit a disabled user.
func (l *Ledger) Credit(ctx context.Context, uid string, amount int64, kind domain.LedgerKind, note string) (int64, error) {
	if amount <= 0 {
		return 0, xerr.ErrInvalidArgs
	}
	u, err := l.mutate(ctx, uid, func(u *domain.User) error {
		u.Points += amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := l.record(ctx, uid, amount, kind, note, u.Points); err != nil {
		return 0, err
	}
	return u.Points, nil
}

// DebitChecked subtracts amount from points atomically iff points ≥
// amount. This is the sole legal path for decreasing points.
func (l *Ledger) DebitChecked(ctx context.Context, uid string, amount int64, kind domain.LedgerKind, note string) (int64, error) {
	if amount <= 0 {
		return 0, xerr.ErrInvalidArgs
	}
	u, err := l.mutate(ctx, uid, func(u *domain.User) error {
		if u.Points < amount {
			return xerr.ErrInsufficientPoints
		}
		u.Points -= amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := l.record(ctx, uid, -amount, kind, note, u.Points); err != nil {
		return 0, err
	}
	return u.Points, nil
}

// MoveToEscrow atomically moves amount from points to escrow.
func (l *Ledger) MoveToEscrow(ctx context.Context, uid string, amount int64) error {
	if amount <= 0 {
		return xerr.ErrInvalidArgs
	}
	_, err := l.mutate(ctx, uid, func(u *domain.User) error {
		if u.Points < amount {
			return xerr.ErrInsufficientPoints
		}
		u.Points -= amount
		u.Escrow += amount
		return nil
	})
	return err
}

// ReleaseFromEscrow atomically releases escrowAmt from escrow, crediting
// the unspent portion (escrowAmt − actualSpend) back to points.
func (l *Ledger) ReleaseFromEscrow(ctx context.Context, uid string, escrowAmt, actualSpend int64) error {
	if escrowAmt < 0 || actualSpend < 0 || actualSpend > escrowAmt {
		return xerr.ErrInvalidArgs
	}
	_, err := l.mutate(ctx, uid, func(u *domain.User) error {
		if u.Escrow < escrowAmt {
			return xerr.New(xerr.CodeInvariantViolation, "release exceeds active escrow")
		}
		u.Escrow -= escrowAmt
		u.Points += escrowAmt - actualSpend
		return nil
	})
	return err
}

// CheckSpendable enforces the spend preconditions (enabled, not
// frozen, no debt) without mutating anything, for validation paths
// that need to fail fast before reserving resources.
func (l *Ledger) CheckSpendable(ctx context.Context, uid string) error {
	u, err := l.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	return preconditions(&u)
}

func (l *Ledger) record(ctx context.Context, uid string, delta int64, kind domain.LedgerKind, note string, balanceAfter int64) error {
	return l.log.AppendEntry(ctx, domain.LedgerEntry{
		UID:          uid,
		Delta:        delta,
		Kind:         kind,
		Note:         note,
		BalanceAfter: balanceAfter,
		Ts:           l.now(),
	})
}

// Record appends a pre-built LedgerEntry, for callers (e.g. the escrow
// manager) that must record an entry alongside a mutation this package
// doesn't directly expose a helper for.
func (l *Ledger) Record(ctx context.Context, e domain.LedgerEntry) error {
	if e.Ts.IsZero() {
		e.Ts = l.now()
	}
	return l.log.AppendEntry(ctx, e)
}

// AllUIDs returns every user's uid, for a full-table scan by the
// integrity auditor.
func (l *Ledger) AllUIDs(ctx context.Context) ([]string, error) {
	var uids []string
	err := l.kv.Iterate(ctx, usersNamespace, nil, nil, func(k, _ []byte) bool {
		uids = append(uids, string(k))
		return true
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return uids, nil
}

// SetBalance forcibly overwrites uid's points and escrow fields,
// retrying on write conflict. Used only by the integrity auditor's
// repair path; everywhere else, balances change exclusively through
// Credit/DebitChecked/MoveToEscrow/ReleaseFromEscrow.
func (l *Ledger) SetBalance(ctx context.Context, uid string, points, escrow int64) error {
	_, err := l.mutate(ctx, uid, func(u *domain.User) error {
		u.Points = points
		u.Escrow = escrow
		return nil
	})
	return err
}

// ConservationAudit recomputes Σdelta per uid from the ledger log and
// compares it against that uid's current points+escrow, returning the
// set of uids where they diverge (spec.md §4.A, §8 invariant 4).
func (l *Ledger) ConservationAudit(ctx context.Context) ([]string, error) {
	entries, err := l.log.AllEntries(ctx)
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	sums := make(map[string]int64)
	for _, e := range entries {
		sums[e.UID] += e.Delta
	}

	var discrepant []string
	for uid, sum := range sums {
		u, err := l.GetUser(ctx, uid)
		if err != nil {
			discrepant = append(discrepant, uid)
			continue
		}
		if u.Points+u.Escrow != sum {
			discrepant = append(discrepant, uid)
		}
	}
	return discrepant, nil
}
