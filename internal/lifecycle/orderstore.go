package lifecycle

import (
	"context"
	"sort"

	"github.com/camppoints/exchanged/internal/codecutil"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/kvstore"
	"github.com/camppoints/exchanged/internal/xerr"
)

const ordersNamespace = "orders"

// kvOrderStore is the default OrderStore, backed by the same kvstore
// namespace convention every other kernel component uses.
type kvOrderStore struct {
	kv kvstore.Store
}

// NewOrderStore builds the default kvstore-backed OrderStore.
func NewOrderStore(kv kvstore.Store) OrderStore {
	return &kvOrderStore{kv: kv}
}

func (s *kvOrderStore) Save(ctx context.Context, o domain.Order) error {
	encoded, err := codecutil.Encode(o)
	if err != nil {
		return xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	if err := s.kv.Put(ctx, ordersNamespace, []byte(o.OrderID), encoded); err != nil {
		return xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	return nil
}

func (s *kvOrderStore) Get(ctx context.Context, orderID string) (domain.Order, error) {
	raw, err := s.kv.Get(ctx, ordersNamespace, []byte(orderID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return domain.Order{}, xerr.ErrOrderNotFound
		}
		return domain.Order{}, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	var o domain.Order
	if err := codecutil.Decode(raw, &o); err != nil {
		return domain.Order{}, xerr.Wrap(xerr.CodeInvariantViolation, err)
	}
	return o, nil
}

// ListByUID returns uid's orders, most recently created first,
// truncated to limit (0 means unbounded). A full-namespace scan, the
// same tradeoff the ledger's conservation audit makes: fine for a
// camp-scale user base, not for one with a real secondary index.
func (s *kvOrderStore) ListByUID(ctx context.Context, uid string, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.kv.Iterate(ctx, ordersNamespace, nil, nil, func(_, v []byte) bool {
		var o domain.Order
		if decErr := codecutil.Decode(v, &o); decErr == nil && o.UID == uid {
			orders = append(orders, o)
		}
		return true
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.CodeWriteConflict, err)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].TsCreated.After(orders[j].TsCreated) })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
