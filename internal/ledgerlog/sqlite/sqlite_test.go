package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camppoints/exchanged/internal/domain"
)

func TestAppendAndQueryEntries(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.AppendEntry(ctx, domain.LedgerEntry{
		UID: "u1", Delta: 1000, Kind: domain.KindIPOGrant, BalanceAfter: 1000, Ts: now,
	}))
	require.NoError(t, s.AppendEntry(ctx, domain.LedgerEntry{
		UID: "u1", Delta: -200, Kind: domain.KindFee, BalanceAfter: 800, Ts: now,
	}))
	require.NoError(t, s.AppendEntry(ctx, domain.LedgerEntry{
		UID: "u2", Delta: 500, Kind: domain.KindIPOGrant, BalanceAfter: 500, Ts: now,
	}))

	entries, err := s.EntriesForUID(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, domain.KindFee, entries[0].Kind)

	all, err := s.AllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestAppendAndQueryTrades(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.AppendTrade(ctx, domain.Trade{
		TradeID: "t1", BuyOrderID: "o1", SellOrderID: "o2", Price: 100, Qty: 5, Ts: now,
	}))
	require.NoError(t, s.AppendTrade(ctx, domain.Trade{
		TradeID: "t2", BuyOrderID: "o3", Price: 100, Qty: 3, Ts: now.Add(time.Second),
	}))

	trades, err := s.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, "t2", trades[0].TradeID)
	require.Empty(t, trades[0].SellOrderID)
}
