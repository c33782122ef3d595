// Package holdings stores each user's position in the single traded
// instrument, using the same namespaced-CAS pattern as the ledger's
// user rows: a holding with zero shares is a legitimate no-op rather
// than a missing record (spec.md §3), so Get returns a zero Holding
// instead of an error when none exists yet.
package holdings

import (
	"context"

	"github.com/camppoints/exchanged/internal/codecutil"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/kvstore"
	"github.com/camppoints/exchanged/internal/xerr"
)

const namespace = "holdings"

// Store is the CAS-guarded holdings repository.
type Store struct {
	kv kvstore.Store
}

// New builds a Store over the given KV backend.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

func key(uid string) []byte { return []byte(uid) }

// Get returns uid's current holding, or a zero Holding if none exists.
func (s *Store) Get(ctx context.Context, uid string) (domain.Holding, error) {
	h, _, err := s.load(ctx, uid)
	return h, err
}

func (s *Store) load(ctx context.Context, uid string) (domain.Holding, []byte, error) {
	raw, err := s.kv.Get(ctx, namespace, key(uid))
	if err == kvstore.ErrNotFound {
		return domain.Holding{UID: uid}, nil, nil
	}
	if err != nil {
		return domain.Holding{}, nil, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	var h domain.Holding
	if err := codecutil.Decode(raw, &h); err != nil {
		return domain.Holding{}, nil, xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	return h, raw, nil
}

func (s *Store) mutate(ctx context.Context, uid string, fn func(h *domain.Holding) error) (domain.Holding, error) {
	const maxRetries = 64
	for attempt := 0; attempt < maxRetries; attempt++ {
		h, raw, err := s.load(ctx, uid)
		if err != nil {
			return domain.Holding{}, err
		}
		if err := fn(&h); err != nil {
			return domain.Holding{}, err
		}
		encoded, err := codecutil.Encode(h)
		if err != nil {
			return domain.Holding{}, xerr.Wrap(xerr.CodeInvariantViolation, err)
		}
		err = s.kv.CompareAndSwap(ctx, namespace, key(uid), raw, encoded)
		if err == nil {
			return h, nil
		}
		if err != kvstore.ErrConflict {
			return domain.Holding{}, xerr.Wrap(xerr.CodeWriteConflict, err)
		}
	}
	return domain.Holding{}, xerr.ErrWriteConflict
}

// ApplyBuy folds a buy fill into the holding's weighted average cost.
func (s *Store) ApplyBuy(ctx context.Context, uid string, qty, price int64) (domain.Holding, error) {
	return s.mutate(ctx, uid, func(h *domain.Holding) error {
		h.UID = uid
		h.ApplyBuy(qty, price)
		return nil
	})
}

// ApplySell decrements shares, rejecting if the holding lacks enough
// inventory. Callers whose shares were already locked at order
// submission must not call this a second time at fill time; it exists
// for callers with no prior share lock (direct ipo_buy/engine-test
// paths), and as a guard against a programming error silently going
// negative.
func (s *Store) ApplySell(ctx context.Context, uid string, qty int64) (domain.Holding, error) {
	return s.mutate(ctx, uid, func(h *domain.Holding) error {
		if h.Shares < qty {
			return xerr.ErrInsufficientShares
		}
		h.ApplySell(qty)
		return nil
	})
}

// RestoreLocked adds qty shares back without touching AvgCost, for
// unwinding a sell-side share lock (order cancel or failed submit)
// rather than recording a genuine buy fill.
func (s *Store) RestoreLocked(ctx context.Context, uid string, qty int64) (domain.Holding, error) {
	return s.mutate(ctx, uid, func(h *domain.Holding) error {
		h.UID = uid
		h.Shares += qty
		return nil
	})
}

// Liquidate zeroes uid's share balance without touching AvgCost, for
// final_settlement (spec.md §4.L): the instrument stops trading and
// every remaining position is cashed out at the settlement price, so
// the position itself — not its cost basis — is what must go to zero.
func (s *Store) Liquidate(ctx context.Context, uid string) (domain.Holding, error) {
	return s.mutate(ctx, uid, func(h *domain.Holding) error {
		h.UID = uid
		h.Shares = 0
		return nil
	})
}

// AllUIDs returns every uid with a holdings row, for the settlement
// sweep. Mirrors the ledger's own AllUIDs used by the integrity auditor.
func (s *Store) AllUIDs(ctx context.Context) ([]string, error) {
	var uids []string
	err := s.kv.Iterate(ctx, namespace, nil, nil, func(k, _ []byte) bool {
		uids = append(uids, string(k))
		return true
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return uids, nil
}
