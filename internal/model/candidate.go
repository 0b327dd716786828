package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage is the qualification stage of a watchlisted symbol.
type Stage string

const (
	StageWatching    Stage = "WATCHING"
	StageHighFormed  Stage = "HIGH_FORMED"
	StagePullback    Stage = "PULLBACK"
	StageEntryReady  Stage = "ENTRY_READY"
	StageEntered     Stage = "ENTERED"
	StageFilteredOut Stage = "FILTERED_OUT"
	StageExpired     Stage = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageEntered || s == StageFilteredOut || s == StageExpired
}

// Candidate tracks one watchlisted symbol through the trading day.
type Candidate struct {
	Symbol      string `json:"symbol"`
	TradingDate string `json:"trading_date"`
	Stage       Stage  `json:"stage"`

	// Values captured at screening time.
	GapPercent    decimal.Decimal `json:"gap_percent"`
	MarketCap     decimal.Decimal `json:"market_cap"`
	TradeValue    decimal.Decimal `json:"trade_value"`
	TradeStrength decimal.Decimal `json:"trade_strength"`
	SpreadPercent decimal.Decimal `json:"spread_percent"`
	OpenPrice     decimal.Decimal `json:"open_price"`

	HighPrice       decimal.Decimal `json:"high_price"`
	HighAt          time.Time       `json:"high_at"`
	LowPrice        decimal.Decimal `json:"low_price"`
	LowAt           time.Time       `json:"low_at"`
	PullbackPercent decimal.Decimal `json:"pullback_percent"`
	BouncePercent   decimal.Decimal `json:"bounce_percent"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	StageChangedAt  time.Time       `json:"stage_changed_at"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	Reason          string          `json:"reason,omitempty"`
}

// Active reports whether the candidate is still being advanced by ticks.
func (c *Candidate) Active() bool { return !c.Stage.Terminal() }

// ClearPullback drops pullback tracking so a fresh search can start.
func (c *Candidate) ClearPullback() {
	c.LowPrice = decimal.Zero
	c.LowAt = time.Time{}
	c.PullbackPercent = decimal.Zero
	c.BouncePercent = decimal.Zero
}
