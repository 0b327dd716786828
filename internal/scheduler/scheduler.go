package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"GapPullback/internal/apperr"
	"GapPullback/internal/config"
)

// Phases are the four bodies the scheduler fires during a trading day.
type Phases interface {
	PreMarket(ctx context.Context) error
	Screening(ctx context.Context) error
	Tick(ctx context.Context) error
	FinalExit(ctx context.Context) error
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron     *cron.Cron
	Phases   Phases
	Calendar *Calendar
	Ctx      context.Context
	log      zerolog.Logger
	now      func() time.Time
}

// NewScheduler creates a Scheduler whose jobs run in cal's time zone.
// A job still running when its next trigger fires is skipped, and panics are recovered.
func NewScheduler(ctx context.Context, phases Phases, cal *Calendar, log zerolog.Logger) *Scheduler {
	clog := cron.VerbosePrintfLogger(zerologPrintf{log})
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(cal.Location()),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		Phases:   phases,
		Calendar: cal,
		Ctx:      ctx,
		log:      log,
		now:      time.Now,
	}
}

// Specs builds the cron expressions for the configured timeline.
func Specs(t config.Trading) (map[string]string, error) {
	out := make(map[string]string, 4)
	for name, s := range map[string]string{
		"pre_market": t.PreMarketStart,
		"screening":  t.MarketOpen,
		"final_exit": t.FinalExitTime,
	} {
		c, err := config.ParseClock(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = fmt.Sprintf("0 %d %d * * MON-FRI", c.Minute, c.Hour)
	}
	if t.PollingIntervalSeconds <= 0 {
		return nil, fmt.Errorf("polling interval must be positive")
	}
	out["tick"] = fmt.Sprintf("@every %ds", t.PollingIntervalSeconds)
	return out, nil
}

// RegisterAll registers the pre-market, screening, tick and final-exit jobs.
func (s *Scheduler) RegisterAll(t config.Trading) error {
	specs, err := Specs(t)
	if err != nil {
		return err
	}
	jobs := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"pre_market", s.Phases.PreMarket},
		{"screening", s.Phases.Screening},
		{"tick", s.Phases.Tick},
		{"final_exit", s.Phases.FinalExit},
	}
	for _, j := range jobs {
		if _, err := s.Cron.AddFunc(specs[j.name], s.job(j.name, j.fn)); err != nil {
			return fmt.Errorf("register %s task: %w", j.name, err)
		}
	}
	return nil
}

// job wraps a phase with trading-day gating and error logging.
func (s *Scheduler) job(name string, fn func(context.Context) error) func() {
	return func() {
		s.Run(name, fn)
	}
}

// Run executes one phase body now, subject to the trading calendar.
func (s *Scheduler) Run(name string, fn func(context.Context) error) {
	if !s.Calendar.IsTradingDay(s.now()) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("phase", name).Msg("phase panicked")
		}
	}()
	if err := fn(s.Ctx); err != nil {
		if apperr.IsDisabled(err) {
			s.log.Debug().Str("phase", name).Msg("phase skipped: bot disabled")
			return
		}
		s.log.Error().Err(err).Str("phase", name).Msg("phase failed")
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

type zerologPrintf struct{ l zerolog.Logger }

func (z zerologPrintf) Printf(format string, v ...any) {
	z.l.Debug().Msgf(format, v...)
}
