package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradePartial   TradeStatus = "PARTIAL"
	TradeFilled    TradeStatus = "FILLED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Trade is one order lifecycle. It is immutable once FILLED or CANCELLED.
type Trade struct {
	ClientOrderID  string          `json:"client_order_id"`
	OrderID        string          `json:"order_id"`
	PositionID     string          `json:"position_id,omitempty"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	OrderType      OrderType       `json:"order_type"`
	RequestedQty   int64           `json:"requested_qty"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	FilledQty      int64           `json:"filled_qty"`
	FilledPrice    decimal.Decimal `json:"filled_price"`
	Fee            decimal.Decimal `json:"fee"`
	Status         TradeStatus     `json:"status"`
	CloseReason    CloseReason     `json:"close_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Final reports whether the trade can no longer change.
func (t *Trade) Final() bool {
	return t.Status == TradeFilled || t.Status == TradeCancelled
}
