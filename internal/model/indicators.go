package model

import "github.com/shopspring/decimal"

// Indicators are derived from one quote and order book pair.
type Indicators struct {
	GapPercent     decimal.Decimal `json:"gap_percent"`
	TradeStrength  decimal.Decimal `json:"trade_strength"`
	SpreadPercent  decimal.Decimal `json:"spread_percent"`
	OrderImbalance decimal.Decimal `json:"order_imbalance"`
}
