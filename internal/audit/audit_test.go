package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/escrow"
	"github.com/camppoints/exchanged/internal/kvstore/pebble"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog/sqlite"
)

func newTestAuditor(t *testing.T, repair bool) (*Auditor, *ledger.Ledger, *escrow.Manager) {
	t.Helper()
	kv, err := pebble.Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	log, err := sqlite.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	l := ledger.New(kv, log, nil)
	esc := escrow.New(kv, l, nil)
	a := New(l, esc, nil, Config{Interval: 0, Repair: repair}, nil)
	return a, l, esc
}

func TestScanFindsNegativeBalanceAndRepairs(t *testing.T) {
	a, l, _ := newTestAuditor(t, true)
	ctx := context.Background()
	require.NoError(t, l.CreateUser(ctx, domain.User{UID: "u1", Points: 0, Enabled: true}))
	require.NoError(t, l.SetBalance(ctx, "u1", -50, 0))

	findings, err := a.Scan(ctx)
	require.NoError(t, err)
	// The -50 was set without a ledger entry, so the repair's +50
	// admin_grant leaves u1's ledger sum at 50 against a balance of 0:
	// the conservation pass reports u1 as a second finding.
	require.Len(t, findings, 2)
	require.True(t, findings[0].NegativePoints)
	require.True(t, findings[0].Repaired)

	u, err := l.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), u.Points)
}

func TestScanCleanStateNoFindings(t *testing.T) {
	a, l, _ := newTestAuditor(t, false)
	ctx := context.Background()
	require.NoError(t, l.CreateUser(ctx, domain.User{UID: "u1", Points: 100, Enabled: true}))

	findings, err := a.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestScanDetectsEscrowMismatch(t *testing.T) {
	a, l, _ := newTestAuditor(t, false)
	ctx := context.Background()
	require.NoError(t, l.CreateUser(ctx, domain.User{UID: "u1", Points: 100, Escrow: 50, Enabled: true}))

	findings, err := a.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.True(t, findings[0].EscrowMismatch)
}
