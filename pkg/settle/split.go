package settle

import (
	"fmt"

	"github.com/Meterline-Labs/meterline/pkg/money"
)

// feeDenominator expresses fee rates in basis points.
const feeDenominator = 10_000

// Split is the three-way division of a session's deposit.
type Split struct {
	Consumed      int64 `json:"consumed"`
	ProviderShare int64 `json:"provider_share"`
	TreasuryShare int64 `json:"treasury_share"`
	Refund        int64 `json:"refund"`
}

// computeSplit divides a deposit given proven usage. The provider share is
// floored; the flooring remainder goes to the treasury, so
// ProviderShare+TreasuryShare == Consumed and Consumed+Refund == deposit
// hold exactly. forfeit zeroes consumption, the requester-wins dispute
// outcome.
func computeSplit(deposit, pricePerUnit, unitsUsed, feeRateBps int64, forfeit bool) (Split, error) {
	if feeRateBps < 0 || feeRateBps > feeDenominator {
		return Split{}, fmt.Errorf("settle: fee rate %d out of range", feeRateBps)
	}

	consumed := int64(0)
	if !forfeit {
		gross, err := money.Mul(unitsUsed, pricePerUnit)
		if err != nil {
			return Split{}, fmt.Errorf("settle: consumed amount: %w", err)
		}
		consumed = money.Min(gross, deposit)
	}

	providerShare, err := money.MulDiv(consumed, feeDenominator-feeRateBps, feeDenominator)
	if err != nil {
		return Split{}, fmt.Errorf("settle: provider share: %w", err)
	}
	treasuryShare, err := money.Sub(consumed, providerShare)
	if err != nil {
		return Split{}, fmt.Errorf("settle: treasury share: %w", err)
	}
	refund, err := money.Sub(deposit, consumed)
	if err != nil {
		return Split{}, fmt.Errorf("settle: refund: %w", err)
	}

	return Split{
		Consumed:      consumed,
		ProviderShare: providerShare,
		TreasuryShare: treasuryShare,
		Refund:        refund,
	}, nil
}
