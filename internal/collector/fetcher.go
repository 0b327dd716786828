package collector

import (
	"context"
	"time"

	"GapPullback/internal/model"
)

// Gateway is the read-only market data contract.
// Failures are *apperr.Error values of kind Transient or Permanent.
type Gateway interface {
	GetQuote(ctx context.Context, symbol string) (*model.Quote, error)
	GetOrderBook(ctx context.Context, symbol string) (*model.OrderBook, error)
	GetDailyCandle(ctx context.Context, symbol string, date time.Time) (*model.Candle, error)
	Name() string
}
