package settle

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSplitScenario(t *testing.T) {
	s, err := computeSplit(1_000_000, 1_000, 500, 1_000, false)
	require.NoError(t, err)
	assert.Equal(t, Split{
		Consumed:      500_000,
		ProviderShare: 450_000,
		TreasuryShare: 50_000,
		Refund:        500_000,
	}, s)
}

func TestComputeSplitEdges(t *testing.T) {
	// No usage: everything refunds.
	s, err := computeSplit(1_000, 10, 0, 1_000, false)
	require.NoError(t, err)
	assert.Equal(t, Split{Refund: 1_000}, s)

	// Full capacity: nothing refunds.
	s, err = computeSplit(1_000, 10, 100, 1_000, false)
	require.NoError(t, err)
	assert.Equal(t, Split{Consumed: 1_000, ProviderShare: 900, TreasuryShare: 100}, s)

	// Usage priced above deposit clamps to the deposit.
	s, err = computeSplit(1_000, 10, 500, 1_000, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), s.Consumed)
	assert.Zero(t, s.Refund)

	// Forfeit zeroes consumption regardless of usage.
	s, err = computeSplit(1_000, 10, 100, 1_000, true)
	require.NoError(t, err)
	assert.Equal(t, Split{Refund: 1_000}, s)

	// Zero fee: provider takes all of consumed.
	s, err = computeSplit(1_000, 10, 50, 0, false)
	require.NoError(t, err)
	assert.Equal(t, Split{Consumed: 500, ProviderShare: 500, Refund: 500}, s)

	// Full fee: treasury takes all of consumed.
	s, err = computeSplit(1_000, 10, 50, 10_000, false)
	require.NoError(t, err)
	assert.Equal(t, Split{Consumed: 500, TreasuryShare: 500, Refund: 500}, s)

	// Flooring remainder lands in the treasury. 333 * 90% = 299.7.
	s, err = computeSplit(1_000, 1, 333, 1_000, false)
	require.NoError(t, err)
	assert.Equal(t, int64(299), s.ProviderShare)
	assert.Equal(t, int64(34), s.TreasuryShare)

	_, err = computeSplit(1_000, 10, 50, 10_001, false)
	assert.Error(t, err, "fee above 100% is rejected")
}

func TestSplitConservationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 1_000

	properties := gopter.NewProperties(parameters)

	properties.Property("shares and refund sum to deposit exactly", prop.ForAll(
		func(deposit, price, units, feeBps int64, forfeit bool) bool {
			s, err := computeSplit(deposit, price, units, feeBps, forfeit)
			if err != nil {
				return false
			}
			if s.ProviderShare+s.TreasuryShare != s.Consumed {
				return false
			}
			return s.ProviderShare+s.TreasuryShare+s.Refund == deposit
		},
		gen.Int64Range(1, 1_000_000_000_000),
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 10_000),
		gen.Bool(),
	))

	properties.Property("no share is negative and refund never exceeds deposit", prop.ForAll(
		func(deposit, price, units, feeBps int64) bool {
			s, err := computeSplit(deposit, price, units, feeBps, false)
			if err != nil {
				return false
			}
			return s.ProviderShare >= 0 && s.TreasuryShare >= 0 &&
				s.Refund >= 0 && s.Refund <= deposit && s.Consumed <= deposit
		},
		gen.Int64Range(1, 1_000_000_000_000),
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 10_000),
	))

	properties.TestingRun(t)
}
