package transfer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/kvstore/pebble"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog/sqlite"
	"github.com/camppoints/exchanged/internal/xerr"
)

type fakeDirectory struct {
	byName map[string]string
}

func (d fakeDirectory) ResolveUID(ctx context.Context, username string) (string, error) {
	uid, ok := d.byName[username]
	if !ok {
		return "", xerr.ErrUnknownRecipient
	}
	return uid, nil
}

func newTestTransfer(t *testing.T) (*Service, *ledger.Ledger) {
	t.Helper()
	kv, err := pebble.Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	log, err := sqlite.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	l := ledger.New(kv, log, nil)
	dir := fakeDirectory{byName: map[string]string{"alice": "u_alice", "bob": "u_bob"}}
	svc := New(l, dir, nil, DefaultConfig(domain.FeePolicy{RatePct: 2, MinFee: 1}), nil)
	return svc, l
}

func TestTransferAppliesFeeAndCredits(t *testing.T) {
	svc, l := newTestTransfer(t)
	ctx := context.Background()
	require.NoError(t, l.CreateUser(ctx, domain.User{UID: "u_alice", Points: 1000, Enabled: true}))
	require.NoError(t, l.CreateUser(ctx, domain.User{UID: "u_bob", Points: 0, Enabled: true}))

	res, err := svc.Transfer(ctx, "u_alice", "bob", 100, "gift")
	require.NoError(t, err)
	require.Equal(t, int64(100), res.Amount)
	require.Equal(t, int64(2), res.Fee)
	require.Equal(t, int64(102), res.TotalDebit)

	alice, err := l.GetUser(ctx, "u_alice")
	require.NoError(t, err)
	require.Equal(t, int64(898), alice.Points)

	bob, err := l.GetUser(ctx, "u_bob")
	require.NoError(t, err)
	require.Equal(t, int64(100), bob.Points)
}

func TestTransferRejectsSelfAndUnknownRecipient(t *testing.T) {
	svc, l := newTestTransfer(t)
	ctx := context.Background()
	require.NoError(t, l.CreateUser(ctx, domain.User{UID: "u_alice", Points: 1000, Enabled: true}))

	_, err := svc.Transfer(ctx, "u_alice", "alice", 10, "")
	require.ErrorIs(t, err, xerr.ErrSelfTransfer)

	_, err = svc.Transfer(ctx, "u_alice", "ghost", 10, "")
	require.ErrorIs(t, err, xerr.ErrUnknownRecipient)
}

func TestTransferRejectsInsufficientFunds(t *testing.T) {
	svc, l := newTestTransfer(t)
	ctx := context.Background()
	require.NoError(t, l.CreateUser(ctx, domain.User{UID: "u_alice", Points: 10, Enabled: true}))

	_, err := svc.Transfer(ctx, "u_alice", "bob", 100, "")
	require.ErrorIs(t, err, xerr.ErrInsufficientPoints)
}
