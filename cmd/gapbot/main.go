package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"GapPullback/internal/api"
	"GapPullback/internal/broker"
	"GapPullback/internal/collector"
	"GapPullback/internal/config"
	"GapPullback/internal/engine"
	"GapPullback/internal/logging"
	"GapPullback/internal/metrics"
	"GapPullback/internal/recorder"
	"GapPullback/internal/refdata"
	"GapPullback/internal/retry"
	"GapPullback/internal/risk"
	"GapPullback/internal/scheduler"
	"GapPullback/internal/screening"
	"GapPullback/internal/strategy"
)

var (
	cfgPath    string
	startNow   bool
	runOnStart string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "gapbot",
		Short: "Gap-up pullback intraday trading bot",
	}
	defPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defPath = v
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defPath, "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and control API",
		RunE:  run,
	}
	runCmd.Flags().BoolVar(&startNow, "start", false, "start the bot immediately regardless of bot.enabled")
	runCmd.Flags().StringVar(&runOnStart, "run-phase", "", "execute one phase right after start (pre_market, screening, tick, final_exit)")

	rootCmd.AddCommand(runCmd, validateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config, then print the cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			specs, err := scheduler.Specs(cfg.Trading)
			if err != nil {
				return err
			}
			for _, name := range []string{"pre_market", "screening", "tick", "final_exit"} {
				fmt.Printf("%-11s %s\n", name, specs[name])
			}
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("config", cfgPath).Msg("gapbot starting")

	policy := retry.Policy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.BaseDelay}

	var gw collector.Gateway
	if cfg.Gateway.BaseURL != "" {
		gw = collector.NewRESTGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
	} else {
		gw = collector.NewMockGateway()
		log.Warn().Msg("gateway.base_url not set, using mock market data")
	}
	col := collector.NewCollector(gw, cfg.Gateway.CallTimeout, policy, logging.Component(log, "collector"))
	log.Info().Str("gateway", gw.Name()).Msg("market data source")

	var br broker.Broker
	if cfg.Broker.Mode == "live" {
		br = broker.NewRESTBroker(cfg.Broker.BaseURL, cfg.Broker.APIKey)
	} else {
		br = broker.NewPaperBroker(decimal.NewFromFloat(cfg.Broker.PaperCash), decimal.NewFromFloat(cfg.Broker.PaperFeeRate))
	}
	exec := broker.NewExecutor(br, cfg.Broker.CallTimeout, policy, cfg.Broker.FillTimeout, cfg.Broker.FillInterval,
		logging.Component(log, "executor"))
	log.Info().Str("broker", br.Name()).Msg("order routing")

	rec := openRecorder(cfg, log)
	defer rec.Close()

	ref := openRefData(cfg, log)
	if c, ok := ref.(io.Closer); ok {
		defer c.Close()
	}

	met := metrics.New(prometheus.DefaultRegisterer)

	rm := risk.NewManager(risk.ParamsFromConfig(cfg), exec, rec, met, logging.Component(log, "risk"))
	rm.PersistTo(cfg.Database.StatePath)

	cal, err := scheduler.NewCalendar(cfg.Location(), cfg.Trading.Holidays)
	if err != nil {
		return fmt.Errorf("trading calendar: %w", err)
	}

	sess := engine.NewSession(engine.TimelineFromConfig(cfg.Trading), cfg.Trading.Universe, cfg.Location(), engine.Deps{
		Collector: col,
		Risk:      rm,
		Machine:   strategy.NewMachine(strategy.ParamsFromConfig(cfg.Entry)),
		Criteria:  screening.CriteriaFromConfig(cfg.Screening),
		Recorder:  rec,
		RefData:   ref,
		Calendar:  cal,
		Metrics:   met,
	}, logging.Component(log, "engine"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.NewScheduler(ctx, sess, cal, logging.Component(log, "scheduler"))
	if err := sched.RegisterAll(cfg.Trading); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()

	if cfg.Bot.Enabled || startNow {
		sess.Start()
	}
	if runOnStart != "" {
		if fn := phaseByName(sess, runOnStart); fn != nil {
			go sched.Run(runOnStart, fn)
		} else {
			log.Warn().Str("phase", runOnStart).Msg("unknown phase, ignored")
		}
	}

	srv := api.NewServer(sess, prometheus.DefaultGatherer, cfg.HTTP.Addr, logging.Component(log, "api"))
	srv.Start()

	log.Info().Int("universe", len(cfg.Trading.Universe)).Msg("gapbot is running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	sess.Stop()
	cancel()
	sched.Stop()
	log.Info().Msg("gapbot stopped")
	return nil
}

func phaseByName(s *engine.Session, name string) func(context.Context) error {
	switch name {
	case "pre_market":
		return s.PreMarket
	case "screening":
		return s.Screening
	case "tick":
		return s.Tick
	case "final_exit":
		return s.FinalExit
	}
	return nil
}

// openRecorder returns the SQLite ledger, fanned out to Kafka when brokers
// are configured. Failures degrade to a no-op recorder.
func openRecorder(cfg *config.Config, log zerolog.Logger) recorder.Recorder {
	var recs recorder.Multi
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, logging.Component(log, "sqlite"))
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed")
		} else {
			recs = append(recs, sr)
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kr, err := recorder.NewKafkaRecorder(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Warn().Err(err).Msg("init kafka recorder failed")
		} else {
			recs = append(recs, kr)
		}
	}
	switch len(recs) {
	case 0:
		log.Warn().Msg("no ledger configured, using noop recorder")
		return recorder.NewNoopRecorder()
	case 1:
		return recs[0]
	}
	return recs
}

func openRefData(cfg *config.Config, log zerolog.Logger) refdata.Cache {
	if cfg.Redis.Addr == "" {
		return refdata.NewMemory()
	}
	r, err := refdata.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, cfg.Redis.TTL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, caching reference data in memory")
		return refdata.NewMemory()
	}
	return r
}
