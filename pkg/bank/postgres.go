package bank

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. Credits use upserts with
// additive conflict resolution and debits use a guarded UPDATE, so both are
// atomic across processes without advisory locks.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const balancesSchema = `
CREATE TABLE IF NOT EXISTS balances (
	ledger TEXT NOT NULL,
	party TEXT NOT NULL,
	asset TEXT NOT NULL,
	balance BIGINT NOT NULL CHECK (balance >= 0),
	PRIMARY KEY (ledger, party, asset)
);
`

// Init creates the balances table.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, balancesSchema)
	return err
}

const creditQuery = `
	INSERT INTO balances (ledger, party, asset, balance)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (ledger, party, asset) DO UPDATE SET
		balance = balances.balance + EXCLUDED.balance
`

func (s *PostgresStore) Credit(ctx context.Context, ledger Ledger, party, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if _, err := s.db.ExecContext(ctx, creditQuery, string(ledger), party, asset, amount); err != nil {
		return fmt.Errorf("bank: credit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Debit(ctx context.Context, ledger Ledger, party, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE balances SET balance = balance - $4
		WHERE ledger = $1 AND party = $2 AND asset = $3 AND balance >= $4
	`, string(ledger), party, asset, amount)
	if err != nil {
		return fmt.Errorf("bank: debit failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bank: debit failed: %w", err)
	}
	if affected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, ledger Ledger, party, asset string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT balance FROM balances WHERE ledger = $1 AND party = $2 AND asset = $3",
		string(ledger), party, asset)

	var balance int64
	err := row.Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("bank: balance lookup failed: %w", err)
	}
	return balance, nil
}

// ApplySettlement runs all settlement credits in one transaction.
func (s *PostgresStore) ApplySettlement(ctx context.Context, credit SettlementCredit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bank: begin settlement tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	apply := func(ledger Ledger, party string, amount int64) error {
		if amount <= 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, creditQuery, string(ledger), party, credit.Asset, amount)
		return err
	}

	if err := apply(LedgerEarnings, credit.Provider, credit.ProviderShare); err != nil {
		return fmt.Errorf("bank: settlement provider credit: %w", err)
	}
	if err := apply(LedgerTreasury, TreasuryParty, credit.TreasuryShare); err != nil {
		return fmt.Errorf("bank: settlement treasury credit: %w", err)
	}
	if err := apply(LedgerDeposit, credit.Requester, credit.Refund); err != nil {
		return fmt.Errorf("bank: settlement refund credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bank: commit settlement tx: %w", err)
	}
	return nil
}
