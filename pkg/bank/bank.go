package bank

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Transferer moves settled value out of the core to a party, e.g. an
// on-chain payout or an invoice credit. It is the only external call the
// bank makes; withdrawal uses decrement-then-transfer with rollback on
// failure, uniformly.
type Transferer interface {
	Transfer(ctx context.Context, party, asset string, amount int64, ref string) error
}

// TransferFunc adapts a function to the Transferer interface.
type TransferFunc func(ctx context.Context, party, asset string, amount int64, ref string) error

func (f TransferFunc) Transfer(ctx context.Context, party, asset string, amount int64, ref string) error {
	return f(ctx, party, asset, amount, ref)
}

// Balances is a read view over a party's ledgers for one asset.
type Balances struct {
	Party    string `json:"party"`
	Asset    string `json:"asset"`
	Deposit  int64  `json:"deposit"`
	Earnings int64  `json:"earnings"`
}

// Bank wires the balance store to the external transfer collaborator.
// Deposits and withdrawals are exempt from the access guard: a pause can
// never trap funds already committed.
type Bank struct {
	store    Store
	transfer Transferer
	logger   *slog.Logger
}

// New creates a Bank. transfer may be nil, in which case withdrawals only
// adjust balances (useful for tests and dry runs).
func New(store Store, transfer Transferer, logger *slog.Logger) *Bank {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bank{store: store, transfer: transfer, logger: logger}
}

// Deposit credits a party's prepaid deposit pool.
func (b *Bank) Deposit(ctx context.Context, party, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if err := b.store.Credit(ctx, LedgerDeposit, party, asset, amount); err != nil {
		return err
	}
	b.logger.Info("deposit credited", "party", party, "asset", asset, "amount", amount)
	return nil
}

// WithdrawDeposit moves uncommitted prepaid funds back out.
func (b *Bank) WithdrawDeposit(ctx context.Context, party, asset string, amount int64) error {
	return b.withdraw(ctx, LedgerDeposit, party, asset, amount)
}

// WithdrawEarnings pays out accumulated provider earnings.
func (b *Bank) WithdrawEarnings(ctx context.Context, party, asset string, amount int64) error {
	return b.withdraw(ctx, LedgerEarnings, party, asset, amount)
}

// withdraw implements decrement-then-transfer. If the external transfer
// fails the decrement is rolled back before the error is surfaced, so no
// value is lost and the caller may retry.
func (b *Bank) withdraw(ctx context.Context, ledger Ledger, party, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if err := b.store.Debit(ctx, ledger, party, asset, amount); err != nil {
		return err
	}
	if b.transfer == nil {
		return nil
	}

	ref := uuid.New().String()
	if err := b.transfer.Transfer(ctx, party, asset, amount, ref); err != nil {
		if restoreErr := b.store.Credit(ctx, ledger, party, asset, amount); restoreErr != nil {
			// Balance decremented and restore failed: surface loudly, this
			// needs manual resolution.
			b.logger.Error("withdrawal rollback failed",
				"party", party, "asset", asset, "amount", amount,
				"ref", ref, "err", restoreErr)
			return fmt.Errorf("%w: rollback also failed: %v (transfer: %v)", ErrTransferFailed, restoreErr, err)
		}
		b.logger.Warn("withdrawal transfer failed, balance restored",
			"party", party, "asset", asset, "amount", amount, "ref", ref, "err", err)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	b.logger.Info("withdrawal settled", "ledger", ledger, "party", party,
		"asset", asset, "amount", amount, "ref", ref)
	return nil
}

// DebitDeposit moves prepaid funds into a session's escrow at creation.
// Fails with ErrInsufficientFunds when the pool cannot cover the deposit.
func (b *Bank) DebitDeposit(ctx context.Context, party, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	return b.store.Debit(ctx, LedgerDeposit, party, asset, amount)
}

// CreditDeposit returns escrowed value to a party's deposit pool. Used to
// roll back a failed session creation.
func (b *Bank) CreditDeposit(ctx context.Context, party, asset string, amount int64) error {
	return b.store.Credit(ctx, LedgerDeposit, party, asset, amount)
}

// ApplySettlement applies a settlement's three-way credit atomically.
func (b *Bank) ApplySettlement(ctx context.Context, credit SettlementCredit) error {
	return b.store.ApplySettlement(ctx, credit)
}

// ReverseSettlement debits the three credits of a settlement whose terminal
// status could not be committed, restoring the pre-settlement balances so the
// session can settle again later. A debit can only fail if the credited party
// already withdrew the funds in the window between credit and reversal.
func (b *Bank) ReverseSettlement(ctx context.Context, credit SettlementCredit) error {
	if credit.ProviderShare > 0 {
		if err := b.store.Debit(ctx, LedgerEarnings, credit.Provider, credit.Asset, credit.ProviderShare); err != nil {
			return fmt.Errorf("reverse provider share: %w", err)
		}
	}
	if credit.TreasuryShare > 0 {
		if err := b.store.Debit(ctx, LedgerTreasury, TreasuryParty, credit.Asset, credit.TreasuryShare); err != nil {
			return fmt.Errorf("reverse treasury share: %w", err)
		}
	}
	if credit.Refund > 0 {
		if err := b.store.Debit(ctx, LedgerDeposit, credit.Requester, credit.Asset, credit.Refund); err != nil {
			return fmt.Errorf("reverse refund: %w", err)
		}
	}
	return nil
}

// Balances returns a party's deposit and earnings balances for one asset.
func (b *Bank) Balances(ctx context.Context, party, asset string) (*Balances, error) {
	deposit, err := b.store.Balance(ctx, LedgerDeposit, party, asset)
	if err != nil {
		return nil, err
	}
	earnings, err := b.store.Balance(ctx, LedgerEarnings, party, asset)
	if err != nil {
		return nil, err
	}
	return &Balances{Party: party, Asset: asset, Deposit: deposit, Earnings: earnings}, nil
}

// Treasury returns the accumulated platform fee for an asset.
func (b *Bank) Treasury(ctx context.Context, asset string) (int64, error) {
	return b.store.Balance(ctx, LedgerTreasury, TreasuryParty, asset)
}
