// Package metrics exposes the engine's Prometheus instrumentation,
// generalized from the teacher's per-trader multi-tenant metric set
// (metrics/metrics.go) into per-instrument/per-portfolio gauges and
// counters for the single-account signal-to-position lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the engine's private Prometheus registry.
var Registry = prometheus.NewRegistry()

var (
	TradesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeengine",
			Subsystem: "position",
			Name:      "trades_total",
			Help:      "Completed trades by scripCode and result",
		},
		[]string{"scrip_code", "result"}, // result: win|loss
	)

	PositionUnrealizedPnL = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "position",
			Name:      "unrealized_pnl",
			Help:      "Unrealized P&L for the open position",
		},
		[]string{"scrip_code", "direction"},
	)

	PositionRMultiple = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "position",
			Name:      "r_multiple",
			Help:      "Current favorable excursion in R-multiples",
		},
		[]string{"scrip_code"},
	)

	TrailStage = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "position",
			Name:      "trail_stage",
			Help:      "Current trailing-stop stage (0-3)",
		},
		[]string{"scrip_code"},
	)

	PortfolioEquity = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "portfolio",
			Name:      "equity",
			Help:      "Current account value",
		},
	)

	PortfolioDrawdownCurrent = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "portfolio",
			Name:      "drawdown_current",
			Help:      "Current drawdown from peak value",
		},
	)

	PortfolioDrawdownMax = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "portfolio",
			Name:      "drawdown_max",
			Help:      "Maximum observed drawdown this session",
		},
	)

	CircuitBreakerTripped = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "portfolio",
			Name:      "circuit_breaker_tripped",
			Help:      "1 if the portfolio circuit breaker is tripped, else 0",
		},
	)

	WatchlistSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "watchlist",
			Name:      "size",
			Help:      "Number of pending signals currently on the watchlist",
		},
	)

	IngestDropsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeengine",
			Subsystem: "ingress",
			Name:      "drops_total",
			Help:      "Signals dropped at ingestion, by reason code",
		},
		[]string{"reason"},
	)

	RiskEventsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeengine",
			Subsystem: "risk",
			Name:      "events_total",
			Help:      "RiskEvents emitted, by severity",
		},
		[]string{"severity"},
	)

	BrokerRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeengine",
			Subsystem: "broker",
			Name:      "request_duration_seconds",
			Help:      "Broker adapter request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"operation"},
	)

	BrokerErrorsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeengine",
			Subsystem: "broker",
			Name:      "errors_total",
			Help:      "Broker adapter request failures, by operation",
		},
		[]string{"operation"},
	)

	OrderVerifyDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeengine",
			Subsystem: "verify",
			Name:      "duration_seconds",
			Help:      "Time from order submission to verification result",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
		},
		[]string{"stage"}, // entry|exit
	)
)

// RecordTrade increments the trade counter for scripCode, classifying a
// positive PnL as a win.
func RecordTrade(scripCode string, pnlPositive bool) {
	result := "loss"
	if pnlPositive {
		result = "win"
	}
	TradesTotal.WithLabelValues(scripCode, result).Inc()
}

// UpdatePosition refreshes the open position's unrealized P&L,
// R-multiple, and trailing-stop stage gauges.
func UpdatePosition(scripCode, direction string, unrealizedPnL, rMultiple float64, trailStage int) {
	PositionUnrealizedPnL.WithLabelValues(scripCode, direction).Set(unrealizedPnL)
	PositionRMultiple.WithLabelValues(scripCode).Set(rMultiple)
	TrailStage.WithLabelValues(scripCode).Set(float64(trailStage))
}

// ClearPosition removes a closed position's gauges so stale series don't
// linger between trades.
func ClearPosition(scripCode, direction string) {
	PositionUnrealizedPnL.DeleteLabelValues(scripCode, direction)
	PositionRMultiple.DeleteLabelValues(scripCode)
	TrailStage.DeleteLabelValues(scripCode)
}

// UpdatePortfolio refreshes the account-level gauges.
func UpdatePortfolio(equity, drawdownCurrent, drawdownMax float64, circuitBreakerTripped bool) {
	PortfolioEquity.Set(equity)
	PortfolioDrawdownCurrent.Set(drawdownCurrent)
	PortfolioDrawdownMax.Set(drawdownMax)
	tripped := 0.0
	if circuitBreakerTripped {
		tripped = 1.0
	}
	CircuitBreakerTripped.Set(tripped)
}

// RecordIngestDrop increments the drop counter for the given reason code
// (an xerr.Code string).
func RecordIngestDrop(reason string) {
	IngestDropsTotal.WithLabelValues(reason).Inc()
}

// RecordRiskEvent increments the risk-event counter for the given
// severity.
func RecordRiskEvent(severity string) {
	RiskEventsTotal.WithLabelValues(severity).Inc()
}

// RecordBrokerCall observes a broker adapter call's latency and, on
// failure, increments its error counter.
func RecordBrokerCall(operation string, durationSeconds float64, err error) {
	BrokerRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
	if err != nil {
		BrokerErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// RecordOrderVerify observes the entry/exit verification latency.
func RecordOrderVerify(stage string, durationSeconds float64) {
	OrderVerifyDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// Init registers the standard Go process collectors alongside the
// engine's own metrics.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
