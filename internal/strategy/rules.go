package strategy

import (
	"github.com/shopspring/decimal"

	"GapPullback/internal/calculator"
	"GapPullback/internal/model"
)

// resetsHigh reports whether a price above the recorded high restarts the pullback search.
// With no reset percent configured, any new high does.
func (m *Machine) resetsHigh(high, price decimal.Decimal) bool {
	if !m.p.NewHighResetPercent.IsPositive() {
		return price.GreaterThan(high)
	}
	return price.GreaterThanOrEqual(calculator.ApplyPercent(high, m.p.NewHighResetPercent))
}

// confirmEntry applies the order-flow checks required at bounce time.
// A zero threshold disables its check.
func (m *Machine) confirmEntry(ind model.Indicators) (bool, string) {
	if m.p.MinEntryTradeStrength.IsPositive() && ind.TradeStrength.LessThan(m.p.MinEntryTradeStrength) {
		return false, "trade strength " + ind.TradeStrength.String() + " below " + m.p.MinEntryTradeStrength.String()
	}
	if m.p.MinOrderImbalance.IsPositive() && ind.OrderImbalance.LessThan(m.p.MinOrderImbalance) {
		return false, "order imbalance " + ind.OrderImbalance.String() + " below " + m.p.MinOrderImbalance.String()
	}
	return true, ""
}
