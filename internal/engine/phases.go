package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"GapPullback/internal/apperr"
	"GapPullback/internal/calculator"
	"GapPullback/internal/model"
	"GapPullback/internal/screening"
	"GapPullback/internal/strategy"
)

// PreMarket resets day state and caches previous-day candles for the universe.
func (s *Session) PreMarket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("PreMarket", false); err != nil {
		return err
	}

	now := s.now()
	s.ensureDay(now)
	prev := s.deps.Calendar.PrevTradingDay(now)
	var cached int
	for _, sym := range s.universe {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok, _ := s.deps.RefData.Get(ctx, s.date, sym); ok {
			cached++
			continue
		}
		c, err := s.deps.Collector.PrevCandle(ctx, sym, prev)
		if err != nil {
			s.deps.Metrics.GatewayError("candle")
			s.log.Warn().Err(err).Str("symbol", sym).Msg("previous candle unavailable")
			continue
		}
		if err := s.deps.RefData.Put(ctx, s.date, c); err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("cache previous candle failed")
			continue
		}
		cached++
	}
	s.prepared = true
	s.log.Info().Str("date", s.date).Int("cached", cached).Int("universe", len(s.universe)).Msg("pre-market done")
	return nil
}

// Screening builds today's watchlist. It runs once per trading day and never
// after the screening window has closed.
func (s *Session) Screening(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("Screening", false); err != nil {
		return err
	}

	now := s.now()
	s.ensureDay(now)
	if s.screened {
		s.log.Debug().Str("date", s.date).Msg("already screened today")
		return nil
	}
	if !now.Before(s.timeline.ScreeningEnd.On(now)) {
		s.log.Warn().Str("date", s.date).Msg("screening window missed, no watchlist today")
		return nil
	}

	inputs := make([]screening.Input, 0, len(s.universe))
	for _, sym := range s.universe {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		inputs = append(inputs, s.screeningInput(ctx, sym, now))
	}

	res := screening.Run(s.deps.Criteria, s.date, inputs, now)
	for _, c := range res.Watchlist {
		s.record(ctx, &model.Signal{
			Symbol:     c.Symbol,
			Type:       model.SignalGapDetected,
			At:         now,
			Indicators: model.Indicators{GapPercent: c.GapPercent, TradeStrength: c.TradeStrength, SpreadPercent: c.SpreadPercent},
			Price:      c.CurrentPrice,
			Reason:     "gap " + c.GapPercent.String() + "%",
		})
	}
	for _, r := range res.Rejected {
		sig := &model.Signal{
			Symbol:     r.Symbol,
			Type:       model.SignalFilteredOut,
			At:         now,
			Indicators: r.Indicators,
			Reason:     r.Rule + ": " + r.Detail,
		}
		if r.Quote != nil {
			sig.Price = r.Quote.Price
		}
		s.record(ctx, sig)
	}

	s.candidates = res.Watchlist
	s.screened = true
	s.deps.Metrics.Watchlist(len(s.candidates))
	s.log.Info().Str("date", s.date).Int("selected", len(res.Watchlist)).Int("rejected", len(res.Rejected)).Msg("screening done")
	return nil
}

func (s *Session) screeningInput(ctx context.Context, sym string, now time.Time) screening.Input {
	in := screening.Input{Symbol: sym}
	snap, err := s.deps.Collector.Snapshot(ctx, sym, now)
	if err != nil {
		s.deps.Metrics.GatewayError("quote")
		s.log.Warn().Err(err).Str("symbol", sym).Msg("screening quote unavailable")
		return in
	}
	q := snap.Quote
	if q.PrevClose.IsZero() {
		if c, ok, _ := s.deps.RefData.Get(ctx, s.date, sym); ok {
			q.PrevClose = c.Close
		}
	}
	in.Quote = q
	in.Indicators = calculator.Compute(q, snap.Book)
	return in
}

// Tick is one monitoring pass: reconcile orders, evaluate exits, advance
// candidates and place entries. At or after the final-exit time it runs the
// final exit instead.
func (s *Session) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("Tick", false); err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.deps.Metrics.Tick(time.Since(start)) }()

	now := s.now()
	s.ensureDay(now)
	if !now.Before(s.timeline.FinalExit.On(now)) {
		return s.finalExit(ctx, now)
	}
	if !s.screened || now.Before(s.timeline.ScreeningEnd.On(now)) {
		return nil
	}

	if err := s.deps.Risk.Reconcile(ctx, now); err != nil {
		s.log.Warn().Err(err).Msg("reconcile incomplete")
	}

	snaps := s.snapshots(ctx, now)

	for _, p := range s.deps.Risk.Positions() {
		if p.Closed() {
			continue
		}
		snap, ok := snaps[p.Symbol]
		if !ok {
			continue
		}
		if snap.Quote != nil {
			s.deps.Risk.TrackDayHigh(p.Symbol, snap.Quote.High)
		}
		if err := s.deps.Risk.Evaluate(ctx, p.Symbol, snap.Price(), now); err != nil {
			s.log.Error().Err(err).Str("symbol", p.Symbol).Msg("exit failed")
		}
	}

	if !now.Before(s.timeline.EntryCutoff.On(now)) {
		s.expireAll(now)
		return nil
	}

	for _, c := range s.candidates {
		if !c.Active() {
			continue
		}
		snap, ok := snaps[c.Symbol]
		if !ok {
			continue
		}
		s.advance(ctx, c, snap, now)
	}
	return nil
}

// snapshots fetches the symbols of active candidates and open positions.
// Symbols whose quote fails are left out for this tick.
func (s *Session) snapshots(ctx context.Context, now time.Time) map[string]*model.Snapshot {
	want := make([]string, 0, len(s.candidates))
	seen := make(map[string]bool)
	for _, c := range s.candidates {
		if c.Active() && !seen[c.Symbol] {
			want = append(want, c.Symbol)
			seen[c.Symbol] = true
		}
	}
	for _, p := range s.deps.Risk.Positions() {
		if !p.Closed() && !seen[p.Symbol] {
			want = append(want, p.Symbol)
			seen[p.Symbol] = true
		}
	}

	out := make(map[string]*model.Snapshot, len(want))
	for _, sym := range want {
		if ctx.Err() != nil {
			break
		}
		snap, err := s.deps.Collector.Snapshot(ctx, sym, now)
		if err != nil {
			s.deps.Metrics.GatewayError("quote")
			s.log.Warn().Err(err).Str("symbol", sym).Msg("skipping symbol this tick")
			continue
		}
		out[sym] = snap
	}
	return out
}

func (s *Session) advance(ctx context.Context, c *model.Candidate, snap *model.Snapshot, now time.Time) {
	evs := s.deps.Machine.Advance(c, snap, now)
	for _, ev := range evs {
		s.log.Info().Str("symbol", c.Symbol).Str("from", string(ev.From)).Str("to", string(ev.To)).
			Str("reason", ev.Reason).Msg("stage changed")
	}

	var entry *strategy.Event
	for i := range evs {
		if evs[i].Signal == model.SignalPullbackEntry {
			entry = &evs[i]
			continue
		}
		if evs[i].Signal != "" {
			s.record(ctx, s.signal(c, evs[i].Signal, snap, evs[i].Reason, now, false))
		}
	}

	if c.Stage != model.StageEntryReady {
		return
	}
	// A candidate left ENTRY_READY by a failed entry keeps trying while the
	// price has not run past the recorded high.
	executed := false
	if entry != nil || !c.CurrentPrice.GreaterThan(c.HighPrice) {
		executed = s.enter(ctx, c, snap.Price(), now)
	}
	if entry != nil {
		s.record(ctx, s.signal(c, model.SignalPullbackEntry, snap, entry.Reason, now, executed))
	}
}

func (s *Session) enter(ctx context.Context, c *model.Candidate, price decimal.Decimal, now time.Time) bool {
	_, err := s.deps.Risk.Open(ctx, c, price, now)
	if err != nil {
		if apperr.IsValidation(err) {
			s.log.Info().Str("symbol", c.Symbol).Str("reason", err.Error()).Msg("entry skipped")
		} else {
			s.log.Error().Err(err).Str("symbol", c.Symbol).Msg("entry failed")
		}
		return false
	}
	c.EntryPrice = price
	s.deps.Machine.MarkEntered(c, now)
	return true
}

func (s *Session) signal(c *model.Candidate, typ model.SignalType, snap *model.Snapshot, reason string, now time.Time, executed bool) *model.Signal {
	ind := snap.Indicators
	ind.GapPercent = c.GapPercent
	return &model.Signal{
		Symbol:          c.Symbol,
		Type:            typ,
		At:              now,
		Indicators:      ind,
		HighPrice:       c.HighPrice,
		PullbackPercent: c.PullbackPercent,
		BouncePercent:   c.BouncePercent,
		Price:           snap.Price(),
		Reason:          reason,
		Executed:        executed,
	}
}

func (s *Session) expireAll(now time.Time) {
	for _, c := range s.candidates {
		for _, ev := range s.deps.Machine.Expire(c, now) {
			s.log.Info().Str("symbol", ev.Symbol).Str("from", string(ev.From)).Msg("candidate expired")
		}
	}
}

// FinalExit closes every remaining position with TIME_EXIT. It runs even
// while paused and is safe to repeat.
func (s *Session) FinalExit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gate("FinalExit", true); err != nil {
		return err
	}
	now := s.now()
	s.ensureDay(now)
	return s.finalExit(ctx, now)
}

func (s *Session) finalExit(ctx context.Context, now time.Time) error {
	s.expireAll(now)
	return s.closeAll(ctx, model.CloseTimeExit, now)
}

// EmergencyClose closes every remaining position with MANUAL regardless of
// the bot's running state.
func (s *Session) EmergencyClose(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.log.Warn().Msg("emergency close requested")
	return s.closeAll(ctx, model.CloseManual, now)
}

func (s *Session) closeAll(ctx context.Context, reason model.CloseReason, now time.Time) error {
	if err := s.deps.Risk.Reconcile(ctx, now); err != nil {
		s.log.Warn().Err(err).Msg("reconcile incomplete")
	}
	for _, p := range s.deps.Risk.Positions() {
		if p.Closed() {
			continue
		}
		q, err := s.deps.Collector.Quote(ctx, p.Symbol)
		if err != nil {
			s.deps.Metrics.GatewayError("quote")
			s.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("closing at last known price")
			continue
		}
		s.deps.Risk.Mark(p.Symbol, q.Price)
	}
	return s.deps.Risk.CloseAll(ctx, reason, now)
}
