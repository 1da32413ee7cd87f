// Package risk implements the Risk Policy (C6): per-signal validation
// gates applied at watchlist admission and again at entry submission, plus
// portfolio-level gates evaluated only at entry submission.
package risk

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradeengine/internal/config"
	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/internal/xerr"
)

// Candidate is the subset of signal/trade fields the risk gates need,
// shared between the per-signal admission path and the entry-submission
// path.
type Candidate struct {
	ScripCode  string
	Direction  model.SignalDirection // normalized BULLISH/BEARISH
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Target1    decimal.Decimal
}

// Policy evaluates per-signal and portfolio-level risk rules (spec.md
// §4.4), grounded on the teacher's drawdown/threshold checks in
// trader/auto_trader.go (checkPositionDrawdown, startDrawdownMonitor).
type Policy struct {
	cfg *config.Config
	log *logger.Logger
}

// New constructs a Policy bound to the engine configuration.
func New(cfg *config.Config) *Policy {
	return &Policy{cfg: cfg, log: logger.With("component", "risk")}
}

// ValidateSignal applies the four per-signal rules (spec.md §4.4). Returns
// a VALIDATION_* xerr.Error on the first rule violated, nil otherwise.
func (p *Policy) ValidateSignal(c Candidate) error {
	if c.EntryPrice.IsZero() {
		return xerr.New(xerr.ValidationBadEntry, "entry price is zero")
	}

	moveRatio := c.Target1.Sub(c.EntryPrice).Abs().Div(c.EntryPrice)
	if moveRatio.LessThan(decimal.NewFromFloat(p.cfg.MinMove)) {
		return xerr.New(xerr.ValidationMinMove, "target move below minimum")
	}

	stopRatio := c.EntryPrice.Sub(c.StopLoss).Abs().Div(c.EntryPrice)
	if stopRatio.GreaterThan(decimal.NewFromFloat(p.cfg.MaxStopDistance)) {
		return xerr.New(xerr.ValidationStopTooFar, "stop distance exceeds maximum")
	}

	stopDistance := c.EntryPrice.Sub(c.StopLoss).Abs()
	if stopDistance.IsZero() {
		return xerr.New(xerr.ValidationBadStop, "stop equals entry")
	}
	rr := c.Target1.Sub(c.EntryPrice).Abs().Div(stopDistance)
	if rr.LessThan(decimal.NewFromFloat(p.cfg.MinRR)) {
		return xerr.New(xerr.ValidationMinRR, "risk:reward below minimum")
	}

	switch c.Direction {
	case model.DirBullish:
		if !(c.StopLoss.LessThan(c.EntryPrice) && c.EntryPrice.LessThan(c.Target1)) {
			return xerr.New(xerr.ValidationDirection, "bullish direction inconsistent with stop/target ordering")
		}
	case model.DirBearish:
		if !(c.Target1.LessThan(c.EntryPrice) && c.EntryPrice.LessThan(c.StopLoss)) {
			return xerr.New(xerr.ValidationDirection, "bearish direction inconsistent with stop/target ordering")
		}
	}

	return nil
}

// PortfolioCheck is the outcome of evaluating the portfolio gates: either
// approved, or refused with a reason and an emitted RiskEvent. Thresholds
// is populated independently of Approved — a candidate can be approved
// while still crossing a warning/critical utilization threshold.
type PortfolioCheck struct {
	Approved   bool
	Event      *model.RiskEvent
	Thresholds []model.RiskEvent
}

// CheckPortfolio applies the five portfolio-level gates (spec.md §4.4),
// evaluated only at entry submission.
func (p *Policy) CheckPortfolio(state model.PortfolioState, candidate Candidate, candidateSize int64, now time.Time) PortfolioCheck {
	if state.CircuitBreakerTripped {
		return p.refuse("CIRCUIT_BREAKER", "circuit breaker tripped: "+state.CircuitBreakerReason, candidate.ScripCode)
	}

	if state.OpenPositionsCount >= p.cfg.MaxConcurrentPositions {
		return p.refuse("MAX_CONCURRENT_POSITIONS", "max concurrent positions reached", candidate.ScripCode)
	}

	var thresholds []model.RiskEvent

	perTradeRisk := candidate.EntryPrice.Sub(candidate.StopLoss).Abs().Mul(decimal.NewFromInt(candidateSize))
	maxPositionRisk := state.AccountValue.Mul(decimal.NewFromFloat(p.cfg.MaxPositionRisk))
	if perTradeRisk.GreaterThan(maxPositionRisk) {
		return p.refuse("PER_TRADE_RISK", "per-trade risk exceeds limit", candidate.ScripCode)
	}
	if ev := p.emitThresholdEvent("PER_TRADE_RISK", perTradeRisk, maxPositionRisk, candidate.ScripCode, now); ev != nil {
		thresholds = append(thresholds, *ev)
	}

	exposure := candidate.EntryPrice.Mul(decimal.NewFromInt(candidateSize))
	for _, v := range state.ExposureByInstrument {
		exposure = exposure.Add(v)
	}
	maxExposure := state.AccountValue.Mul(decimal.NewFromFloat(p.cfg.MaxExposurePct))
	if exposure.GreaterThan(maxExposure) {
		return p.refuse("PORTFOLIO_EXPOSURE", "portfolio exposure exceeds limit", candidate.ScripCode)
	}
	if ev := p.emitThresholdEvent("PORTFOLIO_EXPOSURE", exposure, maxExposure, candidate.ScripCode, now); ev != nil {
		thresholds = append(thresholds, *ev)
	}

	candidateExposure := candidate.EntryPrice.Mul(decimal.NewFromInt(candidateSize))
	instrumentExposure := state.ExposureByInstrument[candidate.ScripCode].Add(candidateExposure)
	maxShare := p.cfg.MaxInstrumentShare
	if p.cfg.MaxConcurrentPositions <= 1 {
		maxShare = 1.0
	}
	maxInstrumentExposure := exposure.Mul(decimal.NewFromFloat(maxShare))
	if !maxInstrumentExposure.IsZero() && instrumentExposure.GreaterThan(maxInstrumentExposure) {
		return p.refuse("CONCENTRATION", "instrument concentration exceeds limit", candidate.ScripCode)
	}

	return PortfolioCheck{Approved: true, Thresholds: thresholds}
}

func (p *Policy) refuse(eventType, message, scope string) PortfolioCheck {
	ev := &model.RiskEvent{
		EventID:  uuid.New().String(),
		Type:     eventType,
		Severity: model.SeverityWarning,
		Message:  message,
		Scope:    scope,
	}
	p.log.Warnf("risk: refused entry for %s: %s", scope, message)
	return PortfolioCheck{Approved: false, Event: ev}
}

// emitThresholdEvent builds a RiskEvent at the 90% (critical) or 70%
// (warning) utilization threshold, or nil below both. The caller is
// responsible for routing the event through the same sink refuse feeds;
// this only constructs it.
func (p *Policy) emitThresholdEvent(metric string, current, limit decimal.Decimal, scope string, now time.Time) *model.RiskEvent {
	if limit.IsZero() {
		return nil
	}
	pct, _ := current.Div(limit).Float64()

	var severity model.RiskEventSeverity
	logLevel := zerolog.WarnLevel
	switch {
	case pct >= 0.90:
		severity = model.SeverityCritical
		logLevel = zerolog.ErrorLevel
	case pct >= 0.70:
		severity = model.SeverityWarning
	default:
		return nil
	}

	p.log.Event(logLevel).Msgf("risk: %s at %.0f%% of limit for %s (%s threshold)", metric, pct*100, scope, severity)
	return &model.RiskEvent{
		EventID:          uuid.New().String(),
		Type:             metric + "_THRESHOLD",
		Severity:         severity,
		Message:          "utilization threshold crossed",
		CurrentValue:     current,
		LimitValue:       limit,
		ThresholdPercent: pct,
		Timestamp:        now,
		Scope:            scope,
	}
}

// CheckDrawdown evaluates the circuit-breaker trip conditions (spec.md
// §4.4): session realized+unrealized loss past maxDailyLoss, or drawdown
// from peakValue past maxDrawdown. Returns the trip reason, or "" if no
// trip condition is met.
func (p *Policy) CheckDrawdown(state model.PortfolioState, unrealizedPnL decimal.Decimal) string {
	sessionLoss := state.DailyRealizedPnL.Add(unrealizedPnL)
	maxDailyLoss := state.AccountValue.Mul(decimal.NewFromFloat(p.cfg.MaxDailyLoss)).Neg()
	if sessionLoss.LessThanOrEqual(maxDailyLoss) {
		return "max daily loss breached"
	}

	if state.PeakValue.IsPositive() {
		currentValue := state.AccountValue.Add(sessionLoss)
		drawdown := state.PeakValue.Sub(currentValue).Div(state.PeakValue)
		if drawdown.GreaterThanOrEqual(decimal.NewFromFloat(p.cfg.MaxDrawdown)) {
			return "max drawdown breached"
		}
	}

	return ""
}
