package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes bot activity as Prometheus series.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	ticks         prometheus.Counter
	tickDuration  prometheus.Histogram
	signals       *prometheus.CounterVec
	orders        *prometheus.CounterVec
	exits         *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
	openPositions prometheus.Gauge
	watchlist     prometheus.Gauge
	realizedPnL   prometheus.Gauge
}

// New registers the bot series on reg. Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "gapbot_ticks_total",
			Help: "Monitoring ticks processed",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapbot_tick_duration_seconds",
			Help:    "Wall time of one monitoring tick",
			Buckets: prometheus.DefBuckets,
		}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapbot_signals_total",
			Help: "Signals recorded by type",
		}, []string{"type"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapbot_orders_total",
			Help: "Orders submitted by side and result",
		}, []string{"side", "result"}),
		exits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapbot_exits_total",
			Help: "Position exits by close reason",
		}, []string{"reason"}),
		gatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gapbot_gateway_errors_total",
			Help: "Market data and broker call failures",
		}, []string{"op"}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "gapbot_open_positions",
			Help: "Positions not yet closed",
		}),
		watchlist: f.NewGauge(prometheus.GaugeOpts{
			Name: "gapbot_watchlist_size",
			Help: "Symbols on today's watchlist",
		}),
		realizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Name: "gapbot_realized_pnl",
			Help: "Realized P&L for the trading day",
		}),
	}
}

func (r *Recorder) Tick(d time.Duration) {
	if r == nil {
		return
	}
	r.ticks.Inc()
	r.tickDuration.Observe(d.Seconds())
}

func (r *Recorder) Signal(typ string) {
	if r == nil {
		return
	}
	r.signals.WithLabelValues(typ).Inc()
}

// Order counts a submission; ok is false when the broker rejected it.
func (r *Recorder) Order(side string, ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.orders.WithLabelValues(side, result).Inc()
}

func (r *Recorder) Exit(reason string) {
	if r == nil {
		return
	}
	r.exits.WithLabelValues(reason).Inc()
}

func (r *Recorder) GatewayError(op string) {
	if r == nil {
		return
	}
	r.gatewayErrors.WithLabelValues(op).Inc()
}

func (r *Recorder) OpenPositions(n int) {
	if r == nil {
		return
	}
	r.openPositions.Set(float64(n))
}

func (r *Recorder) Watchlist(n int) {
	if r == nil {
		return
	}
	r.watchlist.Set(float64(n))
}

func (r *Recorder) RealizedPnL(v float64) {
	if r == nil {
		return
	}
	r.realizedPnL.Set(v)
}
