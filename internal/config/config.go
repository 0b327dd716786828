package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Bot struct {
		Enabled         bool    `yaml:"enabled"`
		MaxPositions    int     `yaml:"max_positions" default:"5" validate:"gte=1"`
		MaxPositionSize float64 `yaml:"max_position_size" default:"5000000" validate:"gt=0"`
	} `yaml:"bot"`
	Screening Screening `yaml:"screening"`
	Entry     Entry     `yaml:"entry"`
	Exit      Exit      `yaml:"exit"`
	Risk      Risk      `yaml:"risk"`
	Trading   Trading   `yaml:"trading"`
	Gateway   Endpoint  `yaml:"gateway"`
	Broker    Broker    `yaml:"broker"`
	Retry     Retry     `yaml:"retry"`
	Database  struct {
		SQLitePath string `yaml:"sqlite_path" default:"data/gapbot.db"`
		StatePath  string `yaml:"state_path" default:"data/positions.json"`
	} `yaml:"database"`
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"gapbot"`
		TTL      time.Duration `yaml:"ttl" default:"24h"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic" default:"gapbot.ledger"`
	} `yaml:"kafka"`
	HTTP struct {
		Addr string `yaml:"addr" default:":8080"`
	} `yaml:"http"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	} `yaml:"log"`
}

// Screening thresholds are inclusive.
type Screening struct {
	MinGapPercent    float64 `yaml:"min_gap_percent" default:"2.0" validate:"gte=0"`
	MaxGapPercent    float64 `yaml:"max_gap_percent" default:"7.0" validate:"gtefield=MinGapPercent"`
	MinMarketCap     float64 `yaml:"min_market_cap" default:"150000000000" validate:"gte=0"`
	MinTradeValue    float64 `yaml:"min_trade_value" default:"500000000" validate:"gte=0"`
	MinTradeStrength float64 `yaml:"min_trade_strength" default:"110" validate:"gte=0"`
	MaxSpreadPercent float64 `yaml:"max_spread_percent" default:"0.3" validate:"gte=0"`
	MaxWatchlistSize int     `yaml:"max_watchlist_size" default:"10" validate:"gte=1"`
}

type Entry struct {
	HighThresholdPercent   float64 `yaml:"high_threshold_percent" default:"1.5" validate:"gt=0"`
	PullbackMinPercent     float64 `yaml:"pullback_min_percent" default:"1.5" validate:"gte=0"`
	PullbackMaxPercent     float64 `yaml:"pullback_max_percent" default:"3.0" validate:"gtefield=PullbackMinPercent"`
	BounceThresholdPercent float64 `yaml:"bounce_threshold_percent" default:"0.3" validate:"gt=0"`
	MinPullbackMinutes     int     `yaml:"min_pullback_minutes" default:"3" validate:"gte=0"`
	MaxPullbackMinutes     int     `yaml:"max_pullback_minutes" default:"15" validate:"gtefield=MinPullbackMinutes"`
	// Zero disables the check.
	MinEntryTradeStrength float64 `yaml:"min_entry_trade_strength" default:"105" validate:"gte=0"`
	MinOrderImbalance     float64 `yaml:"min_order_imbalance" default:"1.2" validate:"gte=0"`
	// 0 means any new high resets pullback tracking.
	NewHighResetPercent float64 `yaml:"new_high_reset_percent" validate:"gte=0"`
	OrderType           string  `yaml:"order_type" default:"MARKET" validate:"oneof=MARKET LIMIT"`
}

type Exit struct {
	TP1Percent float64 `yaml:"tp1_percent" default:"1.5" validate:"gt=0"`
	TP1Ratio   float64 `yaml:"tp1_ratio" default:"0.5" validate:"gt=0,lte=1"`
	TP2Ratio   float64 `yaml:"tp2_ratio" default:"0.6" validate:"gt=0,lte=1"`
	TP3Percent float64 `yaml:"tp3_percent" default:"1.0" validate:"gt=0"`
}

type Risk struct {
	StopLossPercent     float64 `yaml:"stop_loss_percent" default:"1.5" validate:"gt=0,lt=100"`
	TrailingStopPercent float64 `yaml:"trailing_stop_percent" default:"0.8" validate:"gt=0,lt=100"`
	PositionSizeRatio   float64 `yaml:"position_size_ratio" default:"0.1" validate:"gt=0,lte=1"`
}

// Trading holds the daily timeline as HH:MM clock strings in Timezone.
type Trading struct {
	Timezone               string   `yaml:"timezone" default:"Asia/Seoul" validate:"required"`
	PreMarketStart         string   `yaml:"pre_market_start" default:"08:30" validate:"clock"`
	MarketOpen             string   `yaml:"market_open" default:"09:00" validate:"clock"`
	ScreeningEnd           string   `yaml:"screening_end" default:"09:10" validate:"clock"`
	EntryCutoff            string   `yaml:"entry_cutoff" default:"11:10" validate:"clock"`
	FinalExitTime          string   `yaml:"final_exit_time" default:"11:20" validate:"clock"`
	TradingEnd             string   `yaml:"trading_end" default:"11:30" validate:"clock"`
	PollingIntervalSeconds int      `yaml:"polling_interval_seconds" default:"5" validate:"gte=1,lte=60"`
	Universe               []string `yaml:"universe"`
	Holidays               []string `yaml:"holidays" validate:"dive,datetime=2006-01-02"`
}

type Endpoint struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	CallTimeout time.Duration `yaml:"call_timeout" default:"3s" validate:"gt=0"`
}

type Broker struct {
	Endpoint     `yaml:",inline"`
	Mode         string        `yaml:"mode" default:"paper" validate:"oneof=paper live"`
	PaperCash    float64       `yaml:"paper_cash" default:"50000000" validate:"gte=0"`
	PaperFeeRate float64       `yaml:"paper_fee_rate" default:"0.00015" validate:"gte=0,lt=0.01"`
	FillTimeout  time.Duration `yaml:"fill_timeout" default:"2s" validate:"gt=0"`
	FillInterval time.Duration `yaml:"fill_interval" default:"200ms" validate:"gt=0"`
}

type Retry struct {
	Attempts  int           `yaml:"attempts" default:"3" validate:"gte=1,lte=10"`
	BaseDelay time.Duration `yaml:"base_delay" default:"100ms" validate:"gt=0"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := ParseClock(fl.Field().String())
		return err == nil
	})
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GAPBOT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bot.Enabled = b
		}
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_MODE"); v != "" {
		cfg.Broker.Mode = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks field ranges and the ordering of the daily timeline.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q (param %q)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return err
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}
	if c.Broker.Mode == "live" && c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required in live mode")
	}

	t := c.Trading
	order := []struct {
		name, value string
	}{
		{"pre_market_start", t.PreMarketStart},
		{"market_open", t.MarketOpen},
		{"screening_end", t.ScreeningEnd},
		{"entry_cutoff", t.EntryCutoff},
		{"final_exit_time", t.FinalExitTime},
		{"trading_end", t.TradingEnd},
	}
	prev := -1
	for _, o := range order {
		ck, _ := ParseClock(o.value)
		if ck.Minutes() <= prev {
			return fmt.Errorf("trading.%s (%s) must be after the previous phase", o.name, o.value)
		}
		prev = ck.Minutes()
	}
	return nil
}

// Location returns the trading time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Trading.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour, Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	tm, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return Clock{Hour: tm.Hour(), Minute: tm.Minute()}, nil
}

// MustClock is ParseClock for values that already passed Validate.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// On returns the instant of c on day's date in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }
