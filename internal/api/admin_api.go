package api

import (
	"context"

	"github.com/camppoints/exchanged/internal/adminauth"
	"github.com/camppoints/exchanged/internal/audit"
	"github.com/camppoints/exchanged/internal/clock"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/holdings"
	"github.com/camppoints/exchanged/internal/ipo"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/lifecycle"
	"github.com/camppoints/exchanged/internal/matching"
	"github.com/camppoints/exchanged/internal/xerr"
)

// SignedCommand carries an admin command's canonical payload plus the
// secp256k1 signature over it, adapted from the teacher's signed
// transaction envelope: every Admin API call must present a signature
// from a key on the configured allowlist before it touches state.
type SignedCommand struct {
	Payload   []byte
	PubkeyHex string
	SigHex    string
}

// AdminAPI implements the Admin API contract (spec.md §6): give_points,
// set_band, set_windows, manual_open/close/call_auction, ipo_reset/
// update, final_settlement, check_negative_balances. Every call is
// gated by adminauth against the configured public-key allowlist.
type AdminAPI struct {
	ledger    *ledger.Ledger
	holdings  *holdings.Store
	matcher   *matching.Engine
	clock     *clock.Clock
	ipo       *ipo.Service
	lifecycle *lifecycle.Service
	auditor   *audit.Auditor
	allowlist adminauth.Allowlist
}

// NewAdminAPI builds an AdminAPI over the kernel services and the set
// of authorized admin public keys.
func NewAdminAPI(l *ledger.Ledger, h *holdings.Store, eng *matching.Engine, clk *clock.Clock, ipoSvc *ipo.Service, lc *lifecycle.Service, auditor *audit.Auditor, allowlist adminauth.Allowlist) *AdminAPI {
	return &AdminAPI{ledger: l, holdings: h, matcher: eng, clock: clk, ipo: ipoSvc, lifecycle: lc, auditor: auditor, allowlist: allowlist}
}

func (a *AdminAPI) authorize(cmd SignedCommand) error {
	if _, err := a.allowlist.VerifyCommand(cmd.PubkeyHex, cmd.Payload, cmd.SigHex); err != nil {
		return xerr.Wrap(xerr.CodeInvalidArgs, err)
	}
	return nil
}

// GivePoints credits amount to target, which is either a uid or a team
// name — if target doesn't resolve to a known user it is treated as a
// team and every member receives the credit (spec.md §6).
func (a *AdminAPI) GivePoints(ctx context.Context, cmd SignedCommand, target string, amount int64) error {
	if err := a.authorize(cmd); err != nil {
		return err
	}
	if _, err := a.ledger.GetUser(ctx, target); err == nil {
		_, err := a.ledger.Credit(ctx, target, amount, domain.KindAdminGrant, "admin_grant")
		return err
	}

	uids, err := a.ledger.AllUIDs(ctx)
	if err != nil {
		return err
	}
	var credited bool
	for _, uid := range uids {
		u, err := a.ledger.GetUser(ctx, uid)
		if err != nil || u.Team != target {
			continue
		}
		if _, err := a.ledger.Credit(ctx, uid, amount, domain.KindAdminGrant, "admin_grant:"+target); err != nil {
			return err
		}
		credited = true
	}
	if !credited {
		return xerr.ErrUnknownRecipient
	}
	return nil
}

// SetBand changes the matching engine's price band, in basis points.
func (a *AdminAPI) SetBand(ctx context.Context, cmd SignedCommand, bandBps int64) error {
	if err := a.authorize(cmd); err != nil {
		return err
	}
	a.matcher.SetBandBps(bandBps)
	return nil
}

// SetWindows replaces the market clock's scheduled open windows.
func (a *AdminAPI) SetWindows(ctx context.Context, cmd SignedCommand, windows []domain.Window) error {
	if err := a.authorize(cmd); err != nil {
		return err
	}
	a.clock.SetWindows(windows)
	return nil
}

// ManualOpen forces the market open regardless of schedule.
func (a *AdminAPI) ManualOpen(ctx context.Context, cmd SignedCommand) error {
	if err := a.authorize(cmd); err != nil {
		return err
	}
	a.clock.ManualOpen()
	return nil
}

// ManualClose forces the market closed regardless of schedule.
func (a *AdminAPI) ManualClose(ctx context.Context, cmd SignedCommand) error {
	if err := a.authorize(cmd); err != nil {
		return err
	}
	a.clock.ManualClose()
	return nil
}

// ManualCallAuction triggers an immediate call auction.
func (a *AdminAPI) ManualCallAuction(ctx context.Context, cmd SignedCommand) (price, volume int64, ok bool, err error) {
	if err := a.authorize(cmd); err != nil {
		return 0, 0, false, err
	}
	return a.matcher.CallAuction(ctx)
}

// IPOReset overwrites the IPO singleton's remaining shares and price.
func (a *AdminAPI) IPOReset(ctx context.Context, cmd SignedCommand, shares, price int64) error {
	if err := a.authorize(cmd); err != nil {
		return err
	}
	return a.ipo.AdminReset(ctx, shares, price)
}

// IPOUpdate adjusts the IPO singleton's shares and/or price; either
// pointer may be nil to leave that field unchanged.
func (a *AdminAPI) IPOUpdate(ctx context.Context, cmd SignedCommand, shares, price *int64) error {
	if err := a.authorize(cmd); err != nil {
		return err
	}
	return a.ipo.AdminUpdate(ctx, shares, price)
}

// FinalSettlement cancels every resting order and converts every
// user's holding in the single instrument to points at price,
// zeroing the instrument out of circulation (spec.md §6, §8 scenario
// 6).
func (a *AdminAPI) FinalSettlement(ctx context.Context, cmd SignedCommand, price int64) error {
	if err := a.authorize(cmd); err != nil {
		return err
	}
	if price <= 0 {
		return xerr.ErrInvalidArgs
	}
	if _, err := a.lifecycle.CancelAllResting(ctx, "final_settlement"); err != nil {
		return err
	}

	uids, err := a.holdings.AllUIDs(ctx)
	if err != nil {
		return err
	}
	for _, uid := range uids {
		h, err := a.holdings.Get(ctx, uid)
		if err != nil {
			return err
		}
		if h.Shares <= 0 {
			continue
		}
		if _, err := a.ledger.Credit(ctx, uid, h.Shares*price, domain.KindSettlement, "final_settlement"); err != nil {
			return err
		}
		if _, err := a.holdings.Liquidate(ctx, uid); err != nil {
			return err
		}
	}
	return nil
}

// CheckNegativeBalances runs the Integrity Auditor's scan on demand,
// optionally repairing any violation found.
func (a *AdminAPI) CheckNegativeBalances(ctx context.Context, cmd SignedCommand, fix bool) ([]audit.Finding, error) {
	if err := a.authorize(cmd); err != nil {
		return nil, err
	}
	return a.auditor.ScanWithRepair(ctx, fix)
}
