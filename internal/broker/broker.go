package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"GapPullback/internal/model"
)

// OrderRequest is one order submission. ClientOrderID must be reused on retry.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          model.Side
	Type          model.OrderType
	Qty           int64
	// Limit price, or the reference price for market orders.
	Price decimal.Decimal
}

// OrderStatus is the broker's view of an order.
type OrderStatus struct {
	OrderID       string
	ClientOrderID string
	Status        model.TradeStatus
	FilledQty     int64
	FilledPrice   decimal.Decimal // average
	Fee           decimal.Decimal
}

// Broker is the order execution contract. SubmitOrder is idempotent under ClientOrderID:
// a repeated id returns the original order id.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
	AvailableCash(ctx context.Context) (decimal.Decimal, error)
	Name() string
}
