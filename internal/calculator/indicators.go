package calculator

import (
	"github.com/shopspring/decimal"

	"GapPullback/internal/model"
)

const (
	percentScale  = 4
	strengthScale = 2
)

var hundred = decimal.NewFromInt(100)

// GapPercent = (open - prevClose) / prevClose * 100. Zero when prevClose is zero.
func GapPercent(open, prevClose decimal.Decimal) decimal.Decimal {
	if prevClose.IsZero() {
		return decimal.Zero
	}
	return open.Sub(prevClose).Mul(hundred).DivRound(prevClose, percentScale)
}

// TradeStrength = buyVolume / sellVolume * 100. Zero when sellVolume is zero.
func TradeStrength(buyVolume, sellVolume int64) decimal.Decimal {
	if sellVolume == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(buyVolume).Mul(hundred).DivRound(decimal.NewFromInt(sellVolume), strengthScale)
}

// SpreadPercent = (ask - bid) / bid * 100. Zero when bid is zero.
func SpreadPercent(bid, ask decimal.Decimal) decimal.Decimal {
	if bid.IsZero() {
		return decimal.Zero
	}
	return ask.Sub(bid).Mul(hundred).DivRound(bid, percentScale)
}

// OrderImbalance = totalBid / totalAsk. Zero when totalAsk is zero.
func OrderImbalance(totalBid, totalAsk int64) decimal.Decimal {
	if totalAsk == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(totalBid).DivRound(decimal.NewFromInt(totalAsk), percentScale)
}

// Compute derives all indicators from a quote and order book. Either may be nil.
func Compute(q *model.Quote, b *model.OrderBook) model.Indicators {
	var ind model.Indicators
	if q != nil {
		ind.GapPercent = GapPercent(q.Open, q.PrevClose)
		ind.TradeStrength = TradeStrength(q.BuyVolume, q.SellVolume)
	}
	if b != nil {
		ind.SpreadPercent = SpreadPercent(b.BidPrice, b.AskPrice)
		ind.OrderImbalance = OrderImbalance(b.TotalBidSize, b.TotalAskSize)
	}
	return ind
}
