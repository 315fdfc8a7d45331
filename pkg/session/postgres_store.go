package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id BIGSERIAL PRIMARY KEY,
	requester TEXT NOT NULL,
	provider TEXT NOT NULL,
	asset TEXT NOT NULL,
	deposit BIGINT NOT NULL,
	price_per_unit BIGINT NOT NULL,
	max_duration_secs BIGINT NOT NULL,
	proof_interval_secs BIGINT NOT NULL,
	units_used BIGINT NOT NULL DEFAULT 0,
	last_proof_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	dispute_deadline TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	final_content_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_status_expires ON sessions(status, expires_at);
`

// Init creates the sessions table.
func (p *PostgresStore) Init(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, sessionsSchema)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) (uint64, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO sessions (requester, provider, asset, deposit, price_per_unit,
			max_duration_secs, proof_interval_secs, units_used, status,
			created_at, expires_at, final_content_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, s.Requester, s.Provider, s.Asset, s.Deposit, s.PricePerUnit,
		int64(s.MaxDuration/time.Second), int64(s.ProofInterval/time.Second),
		s.UnitsUsed, string(s.Status), s.CreatedAt, s.ExpiresAt, s.FinalContentRef)

	var id uint64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("session: create failed: %w", err)
	}
	s.ID = id
	return id, nil
}

const sessionColumns = `id, requester, provider, asset, deposit, price_per_unit,
	max_duration_secs, proof_interval_secs, units_used, last_proof_at,
	status, dispute_deadline, created_at, expires_at, final_content_ref`

func (p *PostgresStore) Get(ctx context.Context, id uint64) (*Session, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	var maxDurationSecs, proofIntervalSecs int64
	var lastProofAt, disputeDeadline sql.NullTime
	var status string

	err := row.Scan(&s.ID, &s.Requester, &s.Provider, &s.Asset, &s.Deposit,
		&s.PricePerUnit, &maxDurationSecs, &proofIntervalSecs, &s.UnitsUsed,
		&lastProofAt, &status, &disputeDeadline, &s.CreatedAt, &s.ExpiresAt,
		&s.FinalContentRef)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get failed: %w", err)
	}

	s.MaxDuration = time.Duration(maxDurationSecs) * time.Second
	s.ProofInterval = time.Duration(proofIntervalSecs) * time.Second
	s.Status = Status(status)
	if lastProofAt.Valid {
		t := lastProofAt.Time
		s.LastProofAt = &t
	}
	if disputeDeadline.Valid {
		t := disputeDeadline.Time
		s.DisputeDeadline = &t
	}
	return &s, nil
}

func (p *PostgresStore) Update(ctx context.Context, s *Session) error {
	var lastProofAt, disputeDeadline sql.NullTime
	if s.LastProofAt != nil {
		lastProofAt = sql.NullTime{Time: *s.LastProofAt, Valid: true}
	}
	if s.DisputeDeadline != nil {
		disputeDeadline = sql.NullTime{Time: *s.DisputeDeadline, Valid: true}
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET units_used = $2, last_proof_at = $3, status = $4,
			dispute_deadline = $5, final_content_ref = $6
		WHERE id = $1
	`, s.ID, s.UnitsUsed, lastProofAt, string(s.Status), disputeDeadline, s.FinalContentRef)
	if err != nil {
		return fmt.Errorf("session: update failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: update failed: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) Expired(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE (status = $1 AND expires_at <= $3)
		   OR (status = $2 AND dispute_deadline IS NOT NULL AND dispute_deadline <= $3)
		ORDER BY id
		LIMIT $4
	`, string(StatusActive), string(StatusDisputed), now, limit)
	if err != nil {
		return nil, fmt.Errorf("session: expired query failed: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("session: expired scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
