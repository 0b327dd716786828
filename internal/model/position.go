package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is OPEN until the first exit, PARTIAL while quantity remains, then CLOSED.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionPartial PositionStatus = "PARTIAL"
	PositionClosed  PositionStatus = "CLOSED"
)

// CloseReason names the trigger behind a sell.
type CloseReason string

const (
	CloseTP1      CloseReason = "TP1"
	CloseTP2      CloseReason = "TP2"
	CloseTP3      CloseReason = "TP3"
	CloseStopLoss CloseReason = "STOP_LOSS"
	CloseTrailing CloseReason = "TRAILING"
	CloseTimeExit CloseReason = "TIME_EXIT"
	CloseManual   CloseReason = "MANUAL"
)

// SignalType maps a close reason to the exit signal recorded for it.
func (r CloseReason) SignalType() SignalType {
	switch r {
	case CloseTP1:
		return SignalTP1Exit
	case CloseTP2:
		return SignalTP2Exit
	case CloseTP3:
		return SignalTP3Exit
	case CloseStopLoss:
		return SignalStopLossExit
	case CloseTrailing:
		return SignalTrailingExit
	case CloseTimeExit:
		return SignalTimeExit
	default:
		return SignalManualExit
	}
}

// Position is one holding opened from a pullback entry.
type Position struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	TradingDate string         `json:"trading_date"`
	Status      PositionStatus `json:"status"`

	EntryPrice   decimal.Decimal `json:"entry_price"`
	EntryQty     int64           `json:"entry_qty"`
	EntryAmount  decimal.Decimal `json:"entry_amount"`
	RemainingQty int64           `json:"remaining_qty"`

	StopLossPrice decimal.Decimal `json:"stop_loss_price"`
	TP1Price      decimal.Decimal `json:"tp1_price"`
	TP2Price      decimal.Decimal `json:"tp2_price"`
	TP3Price      decimal.Decimal `json:"tp3_price"`
	TP1Done       bool            `json:"tp1_done"`
	TP2Done       bool            `json:"tp2_done"`
	TP3Done       bool            `json:"tp3_done"`

	TrailingActive bool            `json:"trailing_active"`
	TrailingHigh   decimal.Decimal `json:"trailing_high"`

	RealizedPnL        decimal.Decimal `json:"realized_pnl"`
	RealizedPnLPercent decimal.Decimal `json:"realized_pnl_percent"`
	ExitAmount         decimal.Decimal `json:"exit_amount"`
	ExitQty            int64           `json:"exit_qty"`
	Fees               decimal.Decimal `json:"fees"`

	CloseReason CloseReason `json:"close_reason,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at,omitempty"`
}

// Closed reports whether nothing remains to sell.
func (p *Position) Closed() bool { return p.Status == PositionClosed }

// AvgExitPrice is the volume-weighted exit price so far.
func (p *Position) AvgExitPrice() decimal.Decimal {
	if p.ExitQty == 0 {
		return decimal.Zero
	}
	return p.ExitAmount.Div(decimal.NewFromInt(p.ExitQty)).Round(2)
}
