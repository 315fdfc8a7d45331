package proof

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresReplayGuard implements the replay set as a table whose primary key
// is the proof hash; ON CONFLICT DO NOTHING gives insert-if-absent without
// any application-side locking.
type PostgresReplayGuard struct {
	db *sql.DB
}

// NewPostgresReplayGuard wraps an open database handle.
func NewPostgresReplayGuard(db *sql.DB) *PostgresReplayGuard {
	return &PostgresReplayGuard{db: db}
}

const replaySchema = `
CREATE TABLE IF NOT EXISTS proof_hashes (
	proof_hash TEXT PRIMARY KEY,
	reserved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Init creates the proof_hashes table.
func (g *PostgresReplayGuard) Init(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, replaySchema)
	return err
}

func (g *PostgresReplayGuard) Reserve(ctx context.Context, proofHash string) (bool, error) {
	res, err := g.db.ExecContext(ctx,
		"INSERT INTO proof_hashes (proof_hash) VALUES ($1) ON CONFLICT (proof_hash) DO NOTHING",
		proofHash)
	if err != nil {
		return false, fmt.Errorf("proof: reserve failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("proof: reserve failed: %w", err)
	}
	return affected == 1, nil
}

func (g *PostgresReplayGuard) Release(ctx context.Context, proofHash string) error {
	if _, err := g.db.ExecContext(ctx,
		"DELETE FROM proof_hashes WHERE proof_hash = $1", proofHash); err != nil {
		return fmt.Errorf("proof: release failed: %w", err)
	}
	return nil
}

// PostgresRecordStore persists accepted proof records.
type PostgresRecordStore struct {
	db *sql.DB
}

// NewPostgresRecordStore wraps an open database handle.
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

const recordsSchema = `
CREATE TABLE IF NOT EXISTS proof_records (
	session_id BIGINT NOT NULL,
	proof_hash TEXT NOT NULL,
	units_delta BIGINT NOT NULL,
	signature TEXT NOT NULL,
	content_ref TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, proof_hash)
);
CREATE INDEX IF NOT EXISTS idx_proof_records_session ON proof_records(session_id);
`

// Init creates the proof_records table.
func (s *PostgresRecordStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, recordsSchema)
	return err
}

func (s *PostgresRecordStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proof_records (session_id, proof_hash, units_delta, signature, content_ref, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.SessionID, rec.ProofHash, rec.UnitsDelta, rec.Signature, rec.ContentRef, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("proof: append record failed: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) Remove(ctx context.Context, sessionID uint64, proofHash string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM proof_records WHERE session_id = $1 AND proof_hash = $2",
		sessionID, proofHash); err != nil {
		return fmt.Errorf("proof: remove record failed: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) BySession(ctx context.Context, sessionID uint64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, proof_hash, units_delta, signature, content_ref, timestamp
		FROM proof_records WHERE session_id = $1 ORDER BY timestamp
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("proof: records query failed: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.SessionID, &rec.ProofHash, &rec.UnitsDelta,
			&rec.Signature, &rec.ContentRef, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("proof: record scan failed: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
