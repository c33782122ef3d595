// Package escrow is the lifecycle manager for reserved funds (spec.md
// §4.B): it is the only component that moves a user's points into and
// out of escrow, always pairing the balance mutation with an escrow
// record and a ledger entry in the same logical operation, the way the
// teacher pairs every ledger mutation with its accompanying metadata
// update in a single service call.
package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/camppoints/exchanged/internal/codecutil"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/idhash"
	"github.com/camppoints/exchanged/internal/kvstore"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/xerr"
)

const escrowsNamespace = "escrows"

// Manager is the escrow lifecycle manager.
type Manager struct {
	kv     kvstore.Store
	ledger *ledger.Ledger
	clk    func() time.Time
	logger *slog.Logger
}

// New builds a Manager over the given KV store and Ledger.
func New(kv kvstore.Store, l *ledger.Ledger, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{kv: kv, ledger: l, clk: time.Now, logger: logger}
}

func (m *Manager) now() time.Time { return m.clk().UTC() }

func escrowKey(id string) []byte { return []byte(id) }

func (m *Manager) load(ctx context.Context, escrowID string) (domain.Escrow, []byte, error) {
	raw, err := m.kv.Get(ctx, escrowsNamespace, escrowKey(escrowID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return domain.Escrow{}, nil, xerr.ErrEscrowNotFound
		}
		return domain.Escrow{}, nil, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	var e domain.Escrow
	if err := codecutil.Decode(raw, &e); err != nil {
		return domain.Escrow{}, nil, xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	return e, raw, nil
}

func (m *Manager) save(ctx context.Context, e domain.Escrow, oldRaw []byte) error {
	encoded, err := codecutil.Encode(e)
	if err != nil {
		return xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	if err := m.kv.CompareAndSwap(ctx, escrowsNamespace, escrowKey(e.EscrowID), oldRaw, encoded); err != nil {
		return xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return nil
}

// Create reserves amount from uid's points into escrow and inserts an
// active escrow record, recording a ledger escrow_reserve entry.
func (m *Manager) Create(ctx context.Context, uid string, amount int64, etype domain.EscrowType, refID, note string) (string, error) {
	if amount <= 0 {
		return "", xerr.ErrInvalidArgs
	}
	if err := m.ledger.MoveToEscrow(ctx, uid, amount); err != nil {
		return "", err
	}

	escrowID := idhash.EscrowID(uid, refID, time.Now().UnixNano())
	e := domain.Escrow{
		EscrowID:       escrowID,
		UID:            uid,
		AmountReserved: amount,
		Type:           etype,
		RefID:          refID,
		Status:         domain.EscrowActive,
		TsCreated:      m.now(),
		Note:           note,
	}
	if err := m.save(ctx, e, nil); err != nil {
		// roll back the escrow move: best effort, mirrors "rollback
		// releases what the transaction reserved" (spec.md §7).
		_ = m.ledger.ReleaseFromEscrow(ctx, uid, amount, 0)
		return "", err
	}

	if err := m.ledger.Record(ctx, domain.LedgerEntry{
		UID: uid, Delta: -amount, Kind: domain.KindEscrowReserve, Note: note, Ts: m.now(),
	}); err != nil {
		return "", err
	}
	return escrowID, nil
}

// DebitActive spends amount directly out of an active escrow's
// remaining headroom (reserved − already-consumed), with no refund
// leg: the matching engine calls this per fill so a buy order's
// escrow is drawn down as it executes instead of all at once at
// Complete. ActualAmount accumulates across calls; AmountReserved
// never changes, so reserved = actual + refund still holds once the
// escrow is finally completed or cancelled.
func (m *Manager) DebitActive(ctx context.Context, escrowID string, amount int64, kind domain.LedgerKind, note string) error {
	if amount <= 0 {
		return xerr.ErrInvalidArgs
	}
	e, raw, err := m.load(ctx, escrowID)
	if err != nil {
		return err
	}
	if e.Status != domain.EscrowActive {
		return xerr.New(xerr.CodeInvariantViolation, "escrow is not active")
	}
	remaining := e.AmountReserved - e.ActualAmount
	if amount > remaining {
		return xerr.ErrInsufficientPoints
	}

	if err := m.ledger.ReleaseFromEscrow(ctx, e.UID, amount, amount); err != nil {
		return err
	}

	e.ActualAmount += amount
	if err := m.save(ctx, e, raw); err != nil {
		return err
	}

	return m.ledger.Record(ctx, domain.LedgerEntry{
		UID: e.UID, Delta: -amount, Kind: kind, Note: note, Ts: m.now(),
	})
}

// Complete releases whatever of the escrow remains active: actual is
// consumed on top of any amount already drawn down by DebitActive, the
// remainder (reserved − actual) returns to points, the escrow is
// marked completed, and an escrow_release ledger entry records the
// refund.
func (m *Manager) Complete(ctx context.Context, escrowID string, actual int64) error {
	e, raw, err := m.load(ctx, escrowID)
	if err != nil {
		return err
	}
	if e.Status != domain.EscrowActive {
		return xerr.New(xerr.CodeInvariantViolation, "escrow is not active")
	}
	remaining := e.AmountReserved - e.ActualAmount
	if actual < 0 || actual > remaining {
		return xerr.ErrInvalidArgs
	}

	refund := remaining - actual
	if err := m.ledger.ReleaseFromEscrow(ctx, e.UID, remaining, actual); err != nil {
		return err
	}

	now := m.now()
	e.Status = domain.EscrowCompleted
	e.ActualAmount += actual
	e.Refund = refund
	e.TsCompleted = &now
	if err := m.save(ctx, e, raw); err != nil {
		return err
	}

	if refund > 0 {
		if err := m.ledger.Record(ctx, domain.LedgerEntry{
			UID: e.UID, Delta: refund, Kind: domain.KindEscrowRelease, Ts: now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Cancel releases whatever of the escrow remains active back to
// points: the full remaining headroom (reserved − already-consumed),
// not necessarily the original reserved amount.
func (m *Manager) Cancel(ctx context.Context, escrowID string, reason string) error {
	e, raw, err := m.load(ctx, escrowID)
	if err != nil {
		return err
	}
	if e.Status != domain.EscrowActive {
		return xerr.New(xerr.CodeInvariantViolation, "escrow is not active")
	}

	remaining := e.AmountReserved - e.ActualAmount
	if err := m.ledger.ReleaseFromEscrow(ctx, e.UID, remaining, 0); err != nil {
		return err
	}

	now := m.now()
	e.Status = domain.EscrowCancelled
	e.Refund = remaining
	e.TsCancelled = &now
	e.Note = reason
	if err := m.save(ctx, e, raw); err != nil {
		return err
	}

	return m.ledger.Record(ctx, domain.LedgerEntry{
		UID: e.UID, Delta: remaining, Kind: domain.KindEscrowRelease, Note: reason, Ts: now,
	})
}

// Get returns a single escrow record.
func (m *Manager) Get(ctx context.Context, escrowID string) (domain.Escrow, error) {
	e, _, err := m.load(ctx, escrowID)
	return e, err
}

// ListActive returns all active escrows belonging to uid.
func (m *Manager) ListActive(ctx context.Context, uid string) ([]domain.Escrow, error) {
	var out []domain.Escrow
	err := m.kv.Iterate(ctx, escrowsNamespace, nil, nil, func(_, v []byte) bool {
		var e domain.Escrow
		if err := codecutil.Decode(v, &e); err == nil && e.UID == uid && e.Status == domain.EscrowActive {
			out = append(out, e)
		}
		return true
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return out, nil
}

// TotalActive sums the remaining headroom (AmountReserved −
// ActualAmount) across uid's active escrows, which must equal
// user.escrow at all times (spec.md §3, §8 invariant 2).
func (m *Manager) TotalActive(ctx context.Context, uid string) (int64, error) {
	active, err := m.ListActive(ctx, uid)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range active {
		total += e.AmountReserved - e.ActualAmount
	}
	return total, nil
}

// CleanupExpired cancels every active escrow older than age, returning
// the count cancelled.
func (m *Manager) CleanupExpired(ctx context.Context, age time.Duration) (int, error) {
	cutoff := m.now().Add(-age)
	var stale []string
	err := m.kv.Iterate(ctx, escrowsNamespace, nil, nil, func(_, v []byte) bool {
		var e domain.Escrow
		if err := codecutil.Decode(v, &e); err == nil && e.Status == domain.EscrowActive && e.TsCreated.Before(cutoff) {
			stale = append(stale, e.EscrowID)
		}
		return true
	})
	if err != nil {
		return 0, xerr.Wrap(xerr.CodeWriteConflict, err)
	}

	count := 0
	for _, id := range stale {
		if err := m.Cancel(ctx, id, "expired_cleanup"); err != nil {
			m.logger.Warn("escrow: cleanup_expired failed to cancel", "escrow_id", id, "err", err)
			continue
		}
		count++
	}
	return count, nil
}
