package strategy_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/strategy"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSizeForTiers(t *testing.T) {
	tiers := strategy.DefaultTiers()
	noCap := decimal.Zero
	cases := []struct {
		name    string
		balance string
		want    string
	}{
		{"below first threshold", "400000", "0.00001"},
		{"second bracket", "2000000", "0.00005"},
		{"third bracket", "5000000", "0.0001"},
		{"top bracket", "60000000", "0.001"},
		{"exact threshold", "500000", "0.00005"},
		{"zero balance", "0", "0.00001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := strategy.SizeFor(d(tc.balance), 1_000_000, tiers, noCap)
			assert.True(t, d(tc.want).Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestSizeForClampsNotional(t *testing.T) {
	tiers := strategy.DefaultTiers()
	price := int64(925_000_000)
	maxNotional := decimal.NewFromInt(500_000)

	// 0.001 * 925M = 925k > 500k，截断为 500k/925M
	got := strategy.SizeFor(d("60000000"), price, tiers, maxNotional)
	notional := got.Mul(decimal.NewFromInt(price))
	assert.True(t, notional.LessThanOrEqual(maxNotional), "notional %s", notional)
	assert.True(t, got.LessThan(d("0.001")))
	assert.InDelta(t, 500_000.0, notional.InexactFloat64(), 0.01)

	// 未超上限时不截断：0.00005 * 925M = 46250
	got = strategy.SizeFor(d("2000000"), price, tiers, maxNotional)
	assert.True(t, d("0.00005").Equal(got))
}

func TestSizeForDegenerateInputs(t *testing.T) {
	tiers := strategy.DefaultTiers()
	assert.True(t, strategy.SizeFor(d("1000000"), 0, tiers, decimal.Zero).IsZero())
	assert.True(t, strategy.SizeFor(d("1000000"), -10, tiers, decimal.Zero).IsZero())
	assert.True(t, strategy.SizeFor(d("1000000"), 100, nil, decimal.Zero).IsZero())
}

func TestValidateTiers(t *testing.T) {
	require.NoError(t, strategy.ValidateTiers(strategy.DefaultTiers()))

	err := strategy.ValidateTiers(nil)
	assert.ErrorIs(t, err, strategy.ErrInvalidConfiguration)

	err = strategy.ValidateTiers([]strategy.SizeTier{
		{Threshold: d("100"), Amount: d("1")},
		{Threshold: d("50"), Amount: d("2")},
	})
	assert.ErrorIs(t, err, strategy.ErrInvalidConfiguration)

	err = strategy.ValidateTiers([]strategy.SizeTier{{Threshold: d("0"), Amount: d("0")}})
	assert.ErrorIs(t, err, strategy.ErrInvalidConfiguration)
}
