package bank

import (
	"context"
	"fmt"
	"sync"

	"github.com/Meterline-Labs/meterline/pkg/money"
)

type balanceKey struct {
	ledger Ledger
	party  string
	asset  string
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[balanceKey]int64
}

// NewMemoryStore creates an empty in-memory balance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[balanceKey]int64)}
}

func (s *MemoryStore) Credit(_ context.Context, ledger Ledger, party, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(ledger, party, asset, amount)
}

func (s *MemoryStore) creditLocked(ledger Ledger, party, asset string, amount int64) error {
	key := balanceKey{ledger, party, asset}
	next, err := money.Add(s.balances[key], amount)
	if err != nil {
		return fmt.Errorf("bank: credit %s/%s/%s: %w", ledger, party, asset, err)
	}
	s.balances[key] = next
	return nil
}

func (s *MemoryStore) Debit(_ context.Context, ledger Ledger, party, asset string, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey{ledger, party, asset}
	if s.balances[key] < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, s.balances[key], amount)
	}
	s.balances[key] -= amount
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, ledger Ledger, party, asset string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[balanceKey{ledger, party, asset}], nil
}

// ApplySettlement applies all three credits under one lock acquisition, so a
// reader never observes a partially settled state.
func (s *MemoryStore) ApplySettlement(_ context.Context, credit SettlementCredit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credit.ProviderShare > 0 {
		if err := s.creditLocked(LedgerEarnings, credit.Provider, credit.Asset, credit.ProviderShare); err != nil {
			return err
		}
	}
	if credit.TreasuryShare > 0 {
		if err := s.creditLocked(LedgerTreasury, TreasuryParty, credit.Asset, credit.TreasuryShare); err != nil {
			return err
		}
	}
	if credit.Refund > 0 {
		if err := s.creditLocked(LedgerDeposit, credit.Requester, credit.Asset, credit.Refund); err != nil {
			return err
		}
	}
	return nil
}
