package escrow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/kvstore/pebble"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog/sqlite"
)

func newTestManager(t *testing.T) (*Manager, *ledger.Ledger) {
	t.Helper()
	kv, err := pebble.Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	log, err := sqlite.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	l := ledger.New(kv, log, nil)
	require.NoError(t, l.CreateUser(context.Background(), domain.User{UID: "u1", Points: 100, Enabled: true}))
	return New(kv, l, nil), l
}

func TestCreateAndCancelRestoresPoints(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "u1", 75, domain.EscrowOrder, "order-1", "")
	require.NoError(t, err)

	u, err := l.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(25), u.Points)
	require.Equal(t, int64(75), u.Escrow)

	require.NoError(t, m.Cancel(ctx, id, "user_cancel"))

	u, err = l.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(100), u.Points)
	require.Equal(t, int64(0), u.Escrow)
}

func TestCreateAndCompletePartial(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "u1", 75, domain.EscrowOrder, "order-1", "")
	require.NoError(t, err)

	require.NoError(t, m.Complete(ctx, id, 63))

	u, err := l.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(37), u.Points) // 25 + (75-63)
	require.Equal(t, int64(0), u.Escrow)

	e, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.EscrowCompleted, e.Status)
	require.Equal(t, int64(63), e.ActualAmount)
	require.Equal(t, int64(12), e.Refund)
}

func TestListAndTotalActive(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "u1", 30, domain.EscrowOrder, "o1", "")
	require.NoError(t, err)
	_, err = m.Create(ctx, "u1", 20, domain.EscrowTransfer, "t1", "")
	require.NoError(t, err)

	active, err := m.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 2)

	total, err := m.TotalActive(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(50), total)
}

func TestCleanupExpired(t *testing.T) {
	m, l := newTestManager(t)
	ctx := context.Background()

	fixed := time.Now().UTC()
	m.clk = func() time.Time { return fixed.Add(-time.Hour) }
	_, err := m.Create(ctx, "u1", 10, domain.EscrowOrder, "o1", "")
	require.NoError(t, err)

	m.clk = func() time.Time { return fixed }
	count, err := m.CleanupExpired(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	u, err := l.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(100), u.Points)
}
