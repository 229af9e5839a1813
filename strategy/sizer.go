package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SizeTier 余额档位：余额达到 Threshold 时每单使用 Amount（基础币数量）。
type SizeTier struct {
	Threshold decimal.Decimal
	Amount    decimal.Decimal
}

// DefaultTiers 小资金用小单，资金越多单量越大。
func DefaultTiers() []SizeTier {
	return []SizeTier{
		{Threshold: decimal.Zero, Amount: decimal.RequireFromString("0.00001")},
		{Threshold: decimal.NewFromInt(500_000), Amount: decimal.RequireFromString("0.00005")},
		{Threshold: decimal.NewFromInt(5_000_000), Amount: decimal.RequireFromString("0.0001")},
		{Threshold: decimal.NewFromInt(50_000_000), Amount: decimal.RequireFromString("0.001")},
	}
}

// ValidateTiers 要求至少一档、阈值严格升序且单量为正。
func ValidateTiers(tiers []SizeTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: at least one size tier is required", ErrInvalidConfiguration)
	}
	for i, t := range tiers {
		if !t.Amount.IsPositive() {
			return fmt.Errorf("%w: tier %d amount must be > 0", ErrInvalidConfiguration, i)
		}
		if t.Threshold.IsNegative() {
			return fmt.Errorf("%w: tier %d threshold must be >= 0", ErrInvalidConfiguration, i)
		}
		if i > 0 && !t.Threshold.GreaterThan(tiers[i-1].Threshold) {
			return fmt.Errorf("%w: tier thresholds must be strictly ascending (tier %d)", ErrInvalidConfiguration, i)
		}
	}
	return nil
}

// SelectTier 取阈值不超过余额的最高档；余额低于所有阈值时取最低档。
func SelectTier(balance decimal.Decimal, tiers []SizeTier) (SizeTier, bool) {
	if len(tiers) == 0 {
		return SizeTier{}, false
	}
	chosen := tiers[0]
	for _, t := range tiers[1:] {
		if balance.LessThan(t.Threshold) {
			break
		}
		chosen = t
	}
	return chosen, true
}

// SizeFor 根据可用计价余额给出本次下单量，并按 maxNotional 截断名义价值。
// maxNotional <= 0 表示不限；price <= 0 或无档位时返回 0。
func SizeFor(balance decimal.Decimal, price int64, tiers []SizeTier, maxNotional decimal.Decimal) decimal.Decimal {
	if price <= 0 {
		return decimal.Zero
	}
	tier, ok := SelectTier(balance, tiers)
	if !ok {
		return decimal.Zero
	}
	amount := tier.Amount
	px := decimal.NewFromInt(price)
	if maxNotional.IsPositive() && amount.Mul(px).GreaterThan(maxNotional) {
		amount = maxNotional.Div(px)
	}
	return amount
}
