package lifecycle

import (
	"context"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/matching"
)

// matcherAdapter satisfies MatcherPort and BookPort over a concrete
// *matching.Engine, translating matching.Fill into this package's own
// Fill type so the Service's exported API never names matching's
// types directly.
type matcherAdapter struct {
	eng *matching.Engine
}

// NewMatcherAdapter wraps a matching Engine as both a MatcherPort and
// a BookPort, since the engine is the sole owner of the book it matches
// against.
func NewMatcherAdapter(eng *matching.Engine) interface {
	MatcherPort
	BookPort
} {
	return &matcherAdapter{eng: eng}
}

func (a *matcherAdapter) Submit(ctx context.Context, o *domain.Order) ([]Fill, error) {
	fills, err := a.eng.Submit(ctx, o)
	out := make([]Fill, len(fills))
	for i, f := range fills {
		out[i] = Fill{TradeID: f.TradeID, Price: f.Price, Qty: f.Qty, MakerOrderID: f.MakerOrderID, Ts: f.Ts}
	}
	return out, err
}

func (a *matcherAdapter) BandRange() (int64, int64) { return a.eng.BandRange() }
func (a *matcherAdapter) RefPrice() int64           { return a.eng.RefPrice() }

func (a *matcherAdapter) AllResting() []*domain.Order {
	return a.eng.Book().AllResting()
}

func (a *matcherAdapter) CancelResting(orderID string) (*domain.Order, bool) {
	return a.eng.CancelResting(orderID)
}
