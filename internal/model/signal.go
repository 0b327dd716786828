package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalType names a detection event.
type SignalType string

const (
	SignalGapDetected   SignalType = "GAP_DETECTED"
	SignalHighFormed    SignalType = "HIGH_FORMED"
	SignalPullbackEntry SignalType = "PULLBACK_ENTRY"
	SignalTP1Exit       SignalType = "TP1_EXIT"
	SignalTP2Exit       SignalType = "TP2_EXIT"
	SignalTP3Exit       SignalType = "TP3_EXIT"
	SignalStopLossExit  SignalType = "STOP_LOSS_EXIT"
	SignalTrailingExit  SignalType = "TRAILING_EXIT"
	SignalTimeExit      SignalType = "TIME_EXIT"
	SignalManualExit    SignalType = "MANUAL_EXIT"
	SignalFilteredOut   SignalType = "FILTERED_OUT"
)

// Signal is a write-once audit record of a detection event.
type Signal struct {
	Symbol          string          `json:"symbol"`
	Type            SignalType      `json:"type"`
	At              time.Time       `json:"at"`
	Indicators      Indicators      `json:"indicators"`
	HighPrice       decimal.Decimal `json:"high_price"`
	PullbackPercent decimal.Decimal `json:"pullback_percent"`
	BouncePercent   decimal.Decimal `json:"bounce_percent"`
	Price           decimal.Decimal `json:"price"`
	Reason          string          `json:"reason,omitempty"`
	Executed        bool            `json:"executed"`
}
