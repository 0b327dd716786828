package calculator

import "github.com/shopspring/decimal"

// ChangePercent = (to - from) / from * 100. Zero when from is zero.
func ChangePercent(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Mul(hundred).DivRound(from, percentScale)
}

// DropFromHigh is how far price sits below high, as a positive percent.
// A price at or above the high gives zero.
func DropFromHigh(high, price decimal.Decimal) decimal.Decimal {
	if high.IsZero() || price.GreaterThanOrEqual(high) {
		return decimal.Zero
	}
	return high.Sub(price).Mul(hundred).DivRound(high, percentScale)
}

// BounceFromLow is how far price has risen above low, as a percent.
// A price at or below the low gives zero.
func BounceFromLow(low, price decimal.Decimal) decimal.Decimal {
	if low.IsZero() || price.LessThanOrEqual(low) {
		return decimal.Zero
	}
	return ChangePercent(low, price)
}

// ApplyPercent returns base * (1 + pct/100).
func ApplyPercent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(hundred.Add(pct)).Div(hundred)
}
