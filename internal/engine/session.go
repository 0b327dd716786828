// Package engine runs one market's trading day: pre-market preparation,
// opening screening, the monitoring loop and the final exit.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"GapPullback/internal/apperr"
	"GapPullback/internal/collector"
	"GapPullback/internal/config"
	"GapPullback/internal/metrics"
	"GapPullback/internal/model"
	"GapPullback/internal/recorder"
	"GapPullback/internal/refdata"
	"GapPullback/internal/risk"
	"GapPullback/internal/scheduler"
	"GapPullback/internal/screening"
	"GapPullback/internal/strategy"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Phase names reported by Status.
const (
	PhaseStopped       = "STOPPED"
	PhasePaused        = "PAUSED"
	PhasePreMarketWait = "PRE_MARKET_WAIT"
	PhasePreMarket     = "PRE_MARKET"
	PhaseScreening     = "SCREENING"
	PhaseTrading       = "TRADING"
	PhaseFinalExit     = "FINAL_EXIT"
	PhaseMarketClosed  = "MARKET_CLOSED"
)

// Timeline is the daily schedule in the market's time zone.
type Timeline struct {
	PreMarket    config.Clock
	MarketOpen   config.Clock
	ScreeningEnd config.Clock
	EntryCutoff  config.Clock
	FinalExit    config.Clock
	TradingEnd   config.Clock
}

func TimelineFromConfig(t config.Trading) Timeline {
	return Timeline{
		PreMarket:    config.MustClock(t.PreMarketStart),
		MarketOpen:   config.MustClock(t.MarketOpen),
		ScreeningEnd: config.MustClock(t.ScreeningEnd),
		EntryCutoff:  config.MustClock(t.EntryCutoff),
		FinalExit:    config.MustClock(t.FinalExitTime),
		TradingEnd:   config.MustClock(t.TradingEnd),
	}
}

// Deps are the collaborators a Session drives.
type Deps struct {
	Collector *collector.Collector
	Risk      *risk.Manager
	Machine   *strategy.Machine
	Criteria  screening.Criteria
	Recorder  recorder.Recorder
	RefData   refdata.Cache
	Calendar  *scheduler.Calendar
	Metrics   *metrics.Recorder
	Clock     Clock
}

// Session holds one market's day state. Every phase body runs under mu,
// so phases never interleave.
type Session struct {
	mu       sync.Mutex
	deps     Deps
	timeline Timeline
	universe []string
	loc      *time.Location
	log      zerolog.Logger

	running   bool
	paused    bool
	startedAt time.Time

	date       string
	prepared   bool
	screened   bool
	candidates []*model.Candidate
}

func NewSession(tl Timeline, universe []string, loc *time.Location, deps Deps, log zerolog.Logger) *Session {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if deps.RefData == nil {
		deps.RefData = refdata.NewMemory()
	}
	return &Session{
		deps:     deps,
		timeline: tl,
		universe: append([]string(nil), universe...),
		loc:      loc,
		log:      log,
	}
}

func (s *Session) now() time.Time { return s.deps.Clock.Now().In(s.loc) }

func (s *Session) dateOf(t time.Time) string { return t.Format("2006-01-02") }

// Start enables the phases. It returns false if already running.
func (s *Session) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.paused = false
	s.startedAt = s.now()
	s.log.Info().Time("started_at", s.startedAt).Msg("bot started")
	return true
}

func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	s.paused = false
	s.log.Info().Msg("bot stopped")
	return true
}

// Pause suspends pre-market, screening and ticks. Final exit still runs.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.paused = true
	s.log.Info().Msg("bot paused")
	return true
}

func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.paused = false
	s.log.Info().Msg("bot resumed")
	return true
}

// Status is a point-in-time view of the bot for the control API.
type Status struct {
	Running       bool       `json:"running"`
	Paused        bool       `json:"paused"`
	Phase         string     `json:"trading_phase"`
	TradingDate   string     `json:"trading_date,omitempty"`
	Screened      bool       `json:"screened"`
	WatchingCount int        `json:"watching_count"`
	PositionCount int        `json:"position_count"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:     s.running,
		Paused:      s.paused,
		Phase:       s.phase(s.now()),
		TradingDate: s.date,
		Screened:    s.screened,
	}
	if s.running {
		st.WatchingCount = s.activeCount()
		st.PositionCount = s.deps.Risk.OpenCount()
		t := s.startedAt
		st.StartedAt = &t
	}
	return st
}

func (s *Session) phase(now time.Time) string {
	tl := s.timeline
	switch {
	case !s.running:
		return PhaseStopped
	case s.paused:
		return PhasePaused
	case now.Before(tl.PreMarket.On(now)):
		return PhasePreMarketWait
	case now.Before(tl.MarketOpen.On(now)):
		return PhasePreMarket
	case now.Before(tl.ScreeningEnd.On(now)):
		return PhaseScreening
	case now.Before(tl.FinalExit.On(now)):
		return PhaseTrading
	case now.Before(tl.TradingEnd.On(now)):
		return PhaseFinalExit
	default:
		return PhaseMarketClosed
	}
}

// Watchlist returns copies of today's candidates in screening order.
func (s *Session) Watchlist() []model.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, *c)
	}
	return out
}

func (s *Session) Positions() []model.Position { return s.deps.Risk.Positions() }

// PnL summarizes realized results for the current trading day.
func (s *Session) PnL() risk.Summary { return s.deps.Risk.Summary() }

func (s *Session) activeCount() int {
	n := 0
	for _, c := range s.candidates {
		if c.Active() {
			n++
		}
	}
	return n
}

// gate returns a Disabled error when the bot is stopped, or paused and
// allowWhilePaused is false.
func (s *Session) gate(op string, allowWhilePaused bool) error {
	if !s.running || (s.paused && !allowWhilePaused) {
		return apperr.Disabled(op)
	}
	return nil
}

// ensureDay rolls day state over when the trading date changes.
func (s *Session) ensureDay(now time.Time) {
	date := s.dateOf(now)
	if date == s.date {
		return
	}
	s.date = date
	s.prepared = false
	s.screened = false
	s.candidates = nil
	if err := s.deps.Risk.Reset(date); err != nil {
		s.log.Error().Err(err).Str("date", date).Msg("risk reset failed")
	}
	s.deps.Metrics.Watchlist(0)
	s.log.Info().Str("date", date).Msg("new trading day")
}

func (s *Session) record(ctx context.Context, sig *model.Signal) {
	s.deps.Metrics.Signal(string(sig.Type))
	if err := s.deps.Recorder.RecordSignal(ctx, sig); err != nil {
		s.log.Error().Err(err).Str("symbol", sig.Symbol).Str("type", string(sig.Type)).Msg("record signal failed")
	}
}
