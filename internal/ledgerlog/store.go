// Package ledgerlog is the append-only half of the persistence contract
// (spec.md §6): immutable LedgerEntry and Trade rows, queried by uid or
// by recency, never updated or deleted. Two concrete backends exist
// (sqlite via modernc.org/sqlite, postgres via lib/pq) behind the same
// Store interface, so an operator can pick a file-embedded database or a
// real RDBMS without the Ledger or Matching Engine caring which.
package ledgerlog

import (
	"context"

	"github.com/camppoints/exchanged/internal/domain"
)

// Store appends and queries immutable LedgerEntry and Trade rows.
type Store interface {
	AppendEntry(ctx context.Context, e domain.LedgerEntry) error
	EntriesForUID(ctx context.Context, uid string, limit int) ([]domain.LedgerEntry, error)
	AllEntries(ctx context.Context) ([]domain.LedgerEntry, error)

	AppendTrade(ctx context.Context, t domain.Trade) error
	RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error)

	Close() error
}
