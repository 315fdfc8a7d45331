// Package bank implements the pull-payment balance ledgers of the settlement
// core: the deposit pool (prepaid funds not yet committed to a session), the
// earnings accumulator (withdrawable provider income) and the treasury
// (accumulated platform fees). Balances are keyed by (party, asset); the
// treasury is keyed by asset alone.
package bank

import (
	"context"
	"errors"
)

// Ledger names one of the three balance ledgers.
type Ledger string

const (
	LedgerDeposit  Ledger = "deposit"
	LedgerEarnings Ledger = "earnings"
	LedgerTreasury Ledger = "treasury"
)

// TreasuryParty is the party key used for treasury rows, which are keyed by
// asset alone.
const TreasuryParty = ""

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrNonPositiveAmount is returned for zero or negative amounts.
	ErrNonPositiveAmount = errors.New("bank: amount must be positive")
	// ErrTransferFailed wraps a failed external funds transfer. The balance
	// decrement is rolled back before this is returned.
	ErrTransferFailed = errors.New("bank: external transfer failed")
)

// SettlementCredit is the atomic three-way credit applied when a session
// settles: provider earnings, treasury fee, requester refund. Stores must
// apply all three or none.
type SettlementCredit struct {
	SessionID     uint64
	Asset         string
	Provider      string
	ProviderShare int64
	TreasuryShare int64
	Requester     string
	Refund        int64
}

// Store persists balances. Credit and Debit are atomic read-modify-write
// operations: concurrent calls on the same key must never lose updates, and
// Debit must fail with ErrInsufficientFunds rather than go negative.
type Store interface {
	Credit(ctx context.Context, ledger Ledger, party, asset string, amount int64) error
	Debit(ctx context.Context, ledger Ledger, party, asset string, amount int64) error
	Balance(ctx context.Context, ledger Ledger, party, asset string) (int64, error)

	// ApplySettlement applies all credits of a settlement atomically.
	ApplySettlement(ctx context.Context, credit SettlementCredit) error
}
