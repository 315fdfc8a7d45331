package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositAndBalances(t *testing.T) {
	b := New(NewMemoryStore(), nil, nil)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "alice", "usd", 1000))
	require.NoError(t, b.Deposit(ctx, "alice", "usd", 500))

	bal, err := b.Balances(ctx, "alice", "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), bal.Deposit)
	assert.Zero(t, bal.Earnings)

	assert.ErrorIs(t, b.Deposit(ctx, "alice", "usd", 0), ErrNonPositiveAmount)
	assert.ErrorIs(t, b.Deposit(ctx, "alice", "usd", -5), ErrNonPositiveAmount)
}

func TestWithdrawDeposit(t *testing.T) {
	b := New(NewMemoryStore(), nil, nil)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "alice", "usd", 1000))
	require.NoError(t, b.WithdrawDeposit(ctx, "alice", "usd", 400))

	bal, err := b.Balances(ctx, "alice", "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(600), bal.Deposit)

	err = b.WithdrawDeposit(ctx, "alice", "usd", 601)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestWithdrawTransferFailureRestoresBalance(t *testing.T) {
	boom := errors.New("chain unavailable")
	failing := TransferFunc(func(ctx context.Context, party, asset string, amount int64, ref string) error {
		return boom
	})
	b := New(NewMemoryStore(), failing, nil)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "alice", "usd", 1000))

	err := b.WithdrawDeposit(ctx, "alice", "usd", 1000)
	assert.ErrorIs(t, err, ErrTransferFailed)

	// The decrement must have been rolled back.
	bal, err := b.Balances(ctx, "alice", "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Deposit)
}

func TestWithdrawTransferSuccess(t *testing.T) {
	var gotParty, gotAsset string
	var gotAmount int64
	ok := TransferFunc(func(ctx context.Context, party, asset string, amount int64, ref string) error {
		gotParty, gotAsset, gotAmount = party, asset, amount
		return nil
	})
	b := New(NewMemoryStore(), ok, nil)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "p1", "tok", 300))
	require.NoError(t, b.WithdrawDeposit(ctx, "p1", "tok", 300))
	assert.Equal(t, "p1", gotParty)
	assert.Equal(t, "tok", gotAsset)
	assert.Equal(t, int64(300), gotAmount)
}

func TestEscrowDebitCredit(t *testing.T) {
	b := New(NewMemoryStore(), nil, nil)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "alice", "usd", 1000))
	require.NoError(t, b.DebitDeposit(ctx, "alice", "usd", 800))

	bal, _ := b.Balances(ctx, "alice", "usd")
	assert.Equal(t, int64(200), bal.Deposit)

	assert.ErrorIs(t, b.DebitDeposit(ctx, "alice", "usd", 300), ErrInsufficientFunds)

	require.NoError(t, b.CreditDeposit(ctx, "alice", "usd", 800))
	bal, _ = b.Balances(ctx, "alice", "usd")
	assert.Equal(t, int64(1000), bal.Deposit)
}

func TestApplySettlement(t *testing.T) {
	b := New(NewMemoryStore(), nil, nil)
	ctx := context.Background()

	err := b.ApplySettlement(ctx, SettlementCredit{
		SessionID:     7,
		Asset:         "usd",
		Provider:      "prov",
		ProviderShare: 450_000,
		TreasuryShare: 50_000,
		Requester:     "alice",
		Refund:        500_000,
	})
	require.NoError(t, err)

	provBal, err := b.Balances(ctx, "prov", "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(450_000), provBal.Earnings)

	treasury, err := b.Treasury(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), treasury)

	aliceBal, err := b.Balances(ctx, "alice", "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), aliceBal.Deposit)
}

func TestWithdrawEarnings(t *testing.T) {
	store := NewMemoryStore()
	b := New(store, nil, nil)
	ctx := context.Background()

	require.NoError(t, store.Credit(ctx, LedgerEarnings, "prov", "usd", 900))
	require.NoError(t, b.WithdrawEarnings(ctx, "prov", "usd", 400))

	bal, err := b.Balances(ctx, "prov", "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal.Earnings)

	assert.ErrorIs(t, b.WithdrawEarnings(ctx, "prov", "usd", 501), ErrInsufficientFunds)
}
