package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"GapPullback/internal/calculator"
	"GapPullback/internal/config"
	"GapPullback/internal/model"
)

// Params are the entry-timing thresholds. Percentages are plain numbers (1.5 = 1.5%).
type Params struct {
	HighThresholdPercent   decimal.Decimal
	PullbackMinPercent     decimal.Decimal
	PullbackMaxPercent     decimal.Decimal
	BounceThresholdPercent decimal.Decimal
	MinPullback            time.Duration
	MaxPullback            time.Duration
	MinEntryTradeStrength  decimal.Decimal
	MinOrderImbalance      decimal.Decimal
	NewHighResetPercent    decimal.Decimal
}

func ParamsFromConfig(e config.Entry) Params {
	return Params{
		HighThresholdPercent:   decimal.NewFromFloat(e.HighThresholdPercent),
		PullbackMinPercent:     decimal.NewFromFloat(e.PullbackMinPercent),
		PullbackMaxPercent:     decimal.NewFromFloat(e.PullbackMaxPercent),
		BounceThresholdPercent: decimal.NewFromFloat(e.BounceThresholdPercent),
		MinPullback:            time.Duration(e.MinPullbackMinutes) * time.Minute,
		MaxPullback:            time.Duration(e.MaxPullbackMinutes) * time.Minute,
		MinEntryTradeStrength:  decimal.NewFromFloat(e.MinEntryTradeStrength),
		MinOrderImbalance:      decimal.NewFromFloat(e.MinOrderImbalance),
		NewHighResetPercent:    decimal.NewFromFloat(e.NewHighResetPercent),
	}
}

// Event describes one stage change. Signal is empty for transitions that are
// not audited as signals (returning to WATCHING, entering PULLBACK, expiry).
type Event struct {
	Symbol string
	From   model.Stage
	To     model.Stage
	Signal model.SignalType
	Reason string
}

// Machine advances candidates one tick at a time.
type Machine struct {
	p Params
}

func NewMachine(p Params) *Machine { return &Machine{p: p} }

// Advance applies one snapshot to c and returns the transitions it caused.
// At most one stage transition happens per call.
func (m *Machine) Advance(c *model.Candidate, snap *model.Snapshot, now time.Time) []Event {
	if !c.Active() {
		return nil
	}
	price := snap.Price()
	if !price.IsPositive() {
		return nil
	}
	c.CurrentPrice = price

	switch c.Stage {
	case model.StageWatching:
		return m.watching(c, price, now)
	case model.StageHighFormed:
		return m.highFormed(c, price, now)
	case model.StagePullback, model.StageEntryReady:
		return m.pullback(c, snap, price, now)
	}
	return nil
}

// Expire retires an active candidate after the entry cutoff.
func (m *Machine) Expire(c *model.Candidate, now time.Time) []Event {
	if !c.Active() {
		return nil
	}
	return []Event{transition(c, model.StageExpired, "", "entry_cutoff", now)}
}

// MarkEntered retires a candidate whose entry order was placed.
func (m *Machine) MarkEntered(c *model.Candidate, now time.Time) {
	if c.Stage == model.StageEntryReady {
		transition(c, model.StageEntered, "", "position_opened", now)
	}
}

func (m *Machine) watching(c *model.Candidate, price decimal.Decimal, now time.Time) []Event {
	rise := calculator.ChangePercent(c.OpenPrice, price)
	if rise.LessThan(m.p.HighThresholdPercent) {
		return nil
	}
	c.HighPrice = price
	c.HighAt = now
	c.ClearPullback()
	return []Event{transition(c, model.StageHighFormed, model.SignalHighFormed, "rise "+rise.String()+"% from open", now)}
}

func (m *Machine) highFormed(c *model.Candidate, price decimal.Decimal, now time.Time) []Event {
	if price.GreaterThan(c.HighPrice) {
		// Still rising: move the high and re-arm the window.
		c.HighPrice = price
		c.HighAt = now
		c.PullbackPercent = decimal.Zero
		return nil
	}

	elapsed := now.Sub(c.HighAt)
	if elapsed > m.p.MaxPullback {
		return m.backToWatching(c, "no pullback within window", now)
	}

	drop := calculator.DropFromHigh(c.HighPrice, price)
	c.PullbackPercent = drop
	if drop.GreaterThan(m.p.PullbackMaxPercent) {
		return []Event{transition(c, model.StageFilteredOut, model.SignalFilteredOut, "pullback too deep: "+drop.String()+"%", now)}
	}
	if drop.GreaterThanOrEqual(m.p.PullbackMinPercent) && elapsed >= m.p.MinPullback {
		c.LowPrice = price
		c.LowAt = now
		c.BouncePercent = decimal.Zero
		return []Event{transition(c, model.StagePullback, "", "pullback "+drop.String()+"%", now)}
	}
	return nil
}

func (m *Machine) pullback(c *model.Candidate, snap *model.Snapshot, price decimal.Decimal, now time.Time) []Event {
	if price.GreaterThan(c.HighPrice) {
		if !m.resetsHigh(c.HighPrice, price) {
			return nil
		}
		c.HighPrice = price
		c.HighAt = now
		c.ClearPullback()
		return []Event{transition(c, model.StageHighFormed, model.SignalHighFormed, "new high resets pullback", now)}
	}

	elapsed := now.Sub(c.HighAt)
	if elapsed > m.p.MaxPullback {
		return m.backToWatching(c, "pullback window elapsed", now)
	}

	drop := calculator.DropFromHigh(c.HighPrice, price)
	c.PullbackPercent = drop
	if drop.GreaterThan(m.p.PullbackMaxPercent) {
		return []Event{transition(c, model.StageFilteredOut, model.SignalFilteredOut, "pullback too deep: "+drop.String()+"%", now)}
	}
	if price.LessThan(c.LowPrice) {
		c.LowPrice = price
		c.LowAt = now
	}
	c.BouncePercent = calculator.BounceFromLow(c.LowPrice, price)

	if c.Stage != model.StagePullback {
		return nil
	}
	if c.BouncePercent.LessThan(m.p.BounceThresholdPercent) || elapsed < m.p.MinPullback {
		return nil
	}
	if ok, why := m.confirmEntry(snap.Indicators); !ok {
		c.Reason = why
		return nil
	}
	return []Event{transition(c, model.StageEntryReady, model.SignalPullbackEntry, "bounce "+c.BouncePercent.String()+"% off low", now)}
}

func (m *Machine) backToWatching(c *model.Candidate, reason string, now time.Time) []Event {
	c.HighPrice = decimal.Zero
	c.HighAt = time.Time{}
	c.ClearPullback()
	return []Event{transition(c, model.StageWatching, "", reason, now)}
}

func transition(c *model.Candidate, to model.Stage, sig model.SignalType, reason string, now time.Time) Event {
	ev := Event{Symbol: c.Symbol, From: c.Stage, To: to, Signal: sig, Reason: reason}
	c.Stage = to
	c.StageChangedAt = now
	c.Reason = reason
	return ev
}
