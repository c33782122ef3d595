package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/kvstore/pebble"
	"github.com/camppoints/exchanged/internal/ledgerlog/sqlite"
	"github.com/camppoints/exchanged/internal/xerr"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	kv, err := pebble.Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	log, err := sqlite.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	return New(kv, log, nil)
}

func mustCreate(t *testing.T, l *Ledger, uid string, points int64) {
	t.Helper()
	require.NoError(t, l.CreateUser(context.Background(), domain.User{UID: uid, Points: points, Enabled: true}))
}

func TestCreditAndDebitChecked(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustCreate(t, l, "u1", 100)

	bal, err := l.Credit(ctx, "u1", 50, domain.KindIPOGrant, "")
	require.NoError(t, err)
	require.Equal(t, int64(150), bal)

	bal, err = l.DebitChecked(ctx, "u1", 200, domain.KindFee, "")
	require.ErrorIs(t, err, xerr.ErrInsufficientPoints)
	require.Zero(t, bal)

	bal, err = l.DebitChecked(ctx, "u1", 150, domain.KindFee, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), bal)
}

func TestMoveAndReleaseEscrow(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustCreate(t, l, "u1", 100)

	require.NoError(t, l.MoveToEscrow(ctx, "u1", 75))
	u, err := l.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(25), u.Points)
	require.Equal(t, int64(75), u.Escrow)

	require.NoError(t, l.ReleaseFromEscrow(ctx, "u1", 75, 63))
	u, err = l.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(37), u.Points) // 25 + (75-63)
	require.Equal(t, int64(0), u.Escrow)
}

func TestDebitCheckedConcurrentNeverGoesNegative(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustCreate(t, l, "u1", 100)

	var wg sync.WaitGroup
	successes := make([]bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.DebitChecked(ctx, "u1", 10, domain.KindFee, "")
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	require.Equal(t, 10, count)

	u, err := l.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), u.Points)
}

func TestConservationAudit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustCreate(t, l, "u1", 0)

	_, err := l.Credit(ctx, "u1", 100, domain.KindIPOGrant, "")
	require.NoError(t, err)
	_, err = l.DebitChecked(ctx, "u1", 30, domain.KindFee, "")
	require.NoError(t, err)

	discrepant, err := l.ConservationAudit(ctx)
	require.NoError(t, err)
	require.Empty(t, discrepant)
}
