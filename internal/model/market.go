package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time price snapshot for one symbol.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	PrevClose  decimal.Decimal `json:"prev_close"`
	Volume     int64           `json:"volume"`
	TradeValue decimal.Decimal `json:"trade_value"`
	MarketCap  decimal.Decimal `json:"market_cap"`
	BuyVolume  int64           `json:"buy_volume"`
	SellVolume int64           `json:"sell_volume"`
	Timestamp  time.Time       `json:"timestamp"`
}

// OrderBook holds the top of book and aggregate depth.
type OrderBook struct {
	Symbol       string          `json:"symbol"`
	BidPrice     decimal.Decimal `json:"bid_price"`
	AskPrice     decimal.Decimal `json:"ask_price"`
	BidSize      int64           `json:"bid_size"`
	AskSize      int64           `json:"ask_size"`
	TotalBidSize int64           `json:"total_bid_size"`
	TotalAskSize int64           `json:"total_ask_size"`
}

// Candle is one daily OHLCV bar.
type Candle struct {
	Symbol string          `json:"symbol"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Snapshot bundles what one tick knows about a symbol.
type Snapshot struct {
	Quote      *Quote
	Book       *OrderBook
	Indicators Indicators
	At         time.Time
}

// Price returns the current price, or zero without a quote.
func (s *Snapshot) Price() decimal.Decimal {
	if s == nil || s.Quote == nil {
		return decimal.Zero
	}
	return s.Quote.Price
}
