package settle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArchive is an embedded, append-only receipt archive. Single-node
// deployments use it so settled receipts survive restarts without an
// external database.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive wraps an open handle and runs the migration.
func NewSQLiteArchive(db *sql.DB) (*SQLiteArchive, error) {
	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenSQLiteArchive opens (or creates) an archive at path.
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settle: open archive: %w", err)
	}
	return NewSQLiteArchive(db)
}

func (a *SQLiteArchive) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS receipts (
		receipt_id TEXT PRIMARY KEY,
		session_id INTEGER NOT NULL,
		trigger_kind TEXT NOT NULL,
		winner TEXT NOT NULL DEFAULT '',
		requester TEXT NOT NULL,
		provider TEXT NOT NULL,
		asset TEXT NOT NULL,
		deposit INTEGER NOT NULL,
		units_used INTEGER NOT NULL,
		consumed INTEGER NOT NULL,
		provider_share INTEGER NOT NULL,
		treasury_share INTEGER NOT NULL,
		refund INTEGER NOT NULL,
		settled_at TEXT NOT NULL,
		signer_key TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_receipts_session ON receipts(session_id);`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

func (a *SQLiteArchive) Store(ctx context.Context, r Receipt) error {
	query := `INSERT INTO receipts (
		receipt_id, session_id, trigger_kind, winner, requester, provider, asset,
		deposit, units_used, consumed, provider_share, treasury_share, refund,
		settled_at, signer_key, signature
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := a.db.ExecContext(ctx, query,
		r.ID, r.SessionID, string(r.Trigger), string(r.Winner), r.Requester,
		r.Provider, r.Asset, r.Deposit, r.UnitsUsed, r.Split.Consumed,
		r.Split.ProviderShare, r.Split.TreasuryShare, r.Split.Refund,
		r.SettledAt.UTC().Format(time.RFC3339Nano), r.SignerKey, r.Signature,
	)
	if err != nil {
		return fmt.Errorf("settle: insert receipt: %w", err)
	}
	return nil
}

func (a *SQLiteArchive) BySession(ctx context.Context, sessionID uint64) ([]Receipt, error) {
	query := `
	SELECT receipt_id, session_id, trigger_kind, winner, requester, provider, asset,
		deposit, units_used, consumed, provider_share, treasury_share, refund,
		settled_at, signer_key, signature
	FROM receipts WHERE session_id = ? ORDER BY settled_at`

	rows, err := a.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("settle: query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		var trigger, winner, settledAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &trigger, &winner, &r.Requester,
			&r.Provider, &r.Asset, &r.Deposit, &r.UnitsUsed, &r.Split.Consumed,
			&r.Split.ProviderShare, &r.Split.TreasuryShare, &r.Split.Refund,
			&settledAt, &r.SignerKey, &r.Signature); err != nil {
			return nil, fmt.Errorf("settle: scan receipt: %w", err)
		}
		r.Trigger = Trigger(trigger)
		r.Winner = Winner(winner)
		r.SettledAt, err = parseArchiveTime(settledAt)
		if err != nil {
			return nil, fmt.Errorf("settle: receipt %s: %w", r.ID, err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// Close closes the underlying handle.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

func parseArchiveTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse settled_at %q: %w", value, err)
	}
	return t, nil
}
