// Package postgres is the lib/pq-backed ledgerlog.Store, for operators
// who want a real RDBMS behind the append-only ledger instead of the
// embedded sqlite default.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/camppoints/exchanged/internal/domain"
)

// Store is a postgres-backed ledgerlog.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and ensures the ledger/trade tables exist.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledgerlog/postgres: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS ledger_entries (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL,
	delta BIGINT NOT NULL,
	kind TEXT NOT NULL,
	note TEXT,
	balance_after BIGINT NOT NULL,
	ts_ms BIGINT NOT NULL,
	tx_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_uid ON ledger_entries(uid, id);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	buy_order_id TEXT NOT NULL,
	sell_order_id TEXT,
	price BIGINT NOT NULL,
	qty BIGINT NOT NULL,
	ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts_ms);
`)
	return err
}

func (s *Store) AppendEntry(ctx context.Context, e domain.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (uid, delta, kind, note, balance_after, ts_ms, tx_id) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.UID, e.Delta, e.Kind.String(), e.Note, e.BalanceAfter, e.Ts.UnixMilli(), e.TxID)
	return err
}

func (s *Store) EntriesForUID(ctx context.Context, uid string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, delta, kind, note, balance_after, ts_ms, tx_id FROM ledger_entries WHERE uid = $1 ORDER BY id DESC LIMIT $2`,
		uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) AllEntries(ctx context.Context) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, delta, kind, note, balance_after, ts_ms, tx_id FROM ledger_entries ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind string
		var tsMs int64
		var note, txID sql.NullString
		if err := rows.Scan(&e.UID, &e.Delta, &kind, &note, &e.BalanceAfter, &tsMs, &txID); err != nil {
			return nil, err
		}
		e.Kind = kindFromString(kind)
		e.Note = note.String
		e.TxID = txID.String
		e.Ts = time.UnixMilli(tsMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (trade_id, buy_order_id, sell_order_id, price, qty, ts_ms) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.TradeID, t.BuyOrderID, nullableString(t.SellOrderID), t.Price, t.Qty, t.Ts.UnixMilli())
	return err
}

func (s *Store) RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_id, buy_order_id, sell_order_id, price, qty, ts_ms FROM trades ORDER BY ts_ms DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var sellID sql.NullString
		var tsMs int64
		if err := rows.Scan(&t.TradeID, &t.BuyOrderID, &sellID, &t.Price, &t.Qty, &tsMs); err != nil {
			return nil, err
		}
		t.SellOrderID = sellID.String
		t.Ts = time.UnixMilli(tsMs).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func kindFromString(s string) domain.LedgerKind {
	kinds := []domain.LedgerKind{
		domain.KindIPOGrant, domain.KindTradeBuy, domain.KindTradeSell,
		domain.KindTransferIn, domain.KindTransferOut, domain.KindFee,
		domain.KindEscrowReserve, domain.KindEscrowRelease, domain.KindAdminGrant,
		domain.KindPvPWin, domain.KindPvPLoss, domain.KindArcadeAdjust,
		domain.KindSettlement, domain.KindDebtRepayment,
	}
	for _, k := range kinds {
		if k.String() == s {
			return k
		}
	}
	panic(fmt.Sprintf("ledgerlog/postgres: unknown ledger kind %q", s))
}
