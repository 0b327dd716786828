package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"GapPullback/internal/calculator"
	"GapPullback/internal/config"
	"GapPullback/internal/model"
)

// Params are the sizing and exit thresholds. Percentages are plain numbers.
type Params struct {
	MaxPositions        int
	MaxPositionSize     decimal.Decimal
	PositionSizeRatio   decimal.Decimal
	StopLossPercent     decimal.Decimal
	TrailingStopPercent decimal.Decimal
	TP1Percent          decimal.Decimal
	TP1Ratio            decimal.Decimal
	TP2Ratio            decimal.Decimal
	TP3Percent          decimal.Decimal
	FinalExit           config.Clock
	OrderType           model.OrderType
}

func ParamsFromConfig(c *config.Config) Params {
	return Params{
		MaxPositions:        c.Bot.MaxPositions,
		MaxPositionSize:     decimal.NewFromFloat(c.Bot.MaxPositionSize),
		PositionSizeRatio:   decimal.NewFromFloat(c.Risk.PositionSizeRatio),
		StopLossPercent:     decimal.NewFromFloat(c.Risk.StopLossPercent),
		TrailingStopPercent: decimal.NewFromFloat(c.Risk.TrailingStopPercent),
		TP1Percent:          decimal.NewFromFloat(c.Exit.TP1Percent),
		TP1Ratio:            decimal.NewFromFloat(c.Exit.TP1Ratio),
		TP2Ratio:            decimal.NewFromFloat(c.Exit.TP2Ratio),
		TP3Percent:          decimal.NewFromFloat(c.Exit.TP3Percent),
		FinalExit:           config.MustClock(c.Trading.FinalExitTime),
		OrderType:           model.OrderType(c.Entry.OrderType),
	}
}

// Decision is the exit chosen for one position on one tick.
type Decision struct {
	Reason model.CloseReason
	Qty    int64
}

// Decide picks at most one exit for p at price. available is the remaining quantity
// not already committed to a pending sell. The first matching rule wins:
// time exit, stop loss, TP1, trailing stop, TP2, TP3.
func Decide(p *model.Position, prm Params, price decimal.Decimal, available int64, now time.Time) (Decision, bool) {
	if p.Closed() || available <= 0 {
		return Decision{}, false
	}
	if !now.Before(prm.FinalExit.On(now)) {
		return Decision{Reason: model.CloseTimeExit, Qty: available}, true
	}
	if price.LessThanOrEqual(p.StopLossPrice) {
		return Decision{Reason: model.CloseStopLoss, Qty: available}, true
	}
	if !p.TP1Done && price.GreaterThanOrEqual(p.TP1Price) {
		return Decision{Reason: model.CloseTP1, Qty: capQty(ratioQty(p.EntryQty, prm.TP1Ratio), available)}, true
	}
	if p.TrailingActive && price.LessThanOrEqual(TrailingStop(p.TrailingHigh, prm.TrailingStopPercent)) {
		return Decision{Reason: model.CloseTrailing, Qty: available}, true
	}
	if p.TP1Done && !p.TP2Done && price.GreaterThanOrEqual(p.TP2Price) {
		return Decision{Reason: model.CloseTP2, Qty: capQty(ratioQty(p.RemainingQty, prm.TP2Ratio), available)}, true
	}
	if p.TP2Done && !p.TP3Done && p.TP3Price.IsPositive() && price.GreaterThanOrEqual(p.TP3Price) {
		return Decision{Reason: model.CloseTP3, Qty: available}, true
	}
	return Decision{}, false
}

// TrailingStop is the trigger price below the high-water mark.
func TrailingStop(high, pct decimal.Decimal) decimal.Decimal {
	return calculator.ApplyPercent(high, pct.Neg())
}

// ratioQty is floor(qty * ratio), at least 1.
func ratioQty(qty int64, ratio decimal.Decimal) int64 {
	n := decimal.NewFromInt(qty).Mul(ratio).Floor().IntPart()
	if n < 1 {
		n = 1
	}
	return n
}

func capQty(qty, available int64) int64 {
	if qty > available {
		return available
	}
	return qty
}

// SizeOrder returns floor(min(cash * ratio, maxSize) / price).
func SizeOrder(cash, price decimal.Decimal, prm Params) int64 {
	if !price.IsPositive() || !cash.IsPositive() {
		return 0
	}
	amount := cash.Mul(prm.PositionSizeRatio)
	if prm.MaxPositionSize.IsPositive() && amount.GreaterThan(prm.MaxPositionSize) {
		amount = prm.MaxPositionSize
	}
	return amount.Div(price).Floor().IntPart()
}
