// Package ingress implements Signal Ingress (C12) and Market-Data Ingress
// (C13): the bus-consuming edge that turns raw wire records into
// watchlist admissions, price-cache updates, and candle-history appends.
package ingress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"tradeengine/internal/bus"
	"tradeengine/internal/config"
	"tradeengine/internal/hours"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/model"
	"tradeengine/internal/risk"
	"tradeengine/internal/watchlist"
	"tradeengine/internal/xerr"
)

// CandlePreloader backfills an instrument's recent candle history on
// first admission (spec.md §4.1 step 6). Left unimplemented (nil) is
// valid: the candle history simply starts empty and fills in from the
// live 1-minute candle stream.
type CandlePreloader interface {
	Preload(ctx context.Context, instrumentKey string) ([]model.Candle, error)
}

// RiskEventSink receives the INFO/WARNING RiskEvent emitted for every
// ingress drop (spec.md §4.1, final paragraph).
type RiskEventSink func(model.RiskEvent)

// SignalProcessor implements the §4.1 pipeline: parse, idempotency, age
// gate, trading-hours gate, risk validation, watchlist admission.
type SignalProcessor struct {
	cfg   *config.Config
	watch *watchlist.Watchlist
	risk  *risk.Policy
	hours *hours.Gate
	idem  *idempotencyCache

	candles   *market.CandleHistory
	preloader CandlePreloader

	onRiskEvent RiskEventSink
	log         *logger.Logger

	now func() time.Time
}

// NewSignalProcessor wires C12 against the already-constructed watchlist,
// risk policy, and trading-hours gate it shares with the rest of the
// engine.
func NewSignalProcessor(cfg *config.Config, watch *watchlist.Watchlist, riskPolicy *risk.Policy, hoursGate *hours.Gate, candles *market.CandleHistory, preloader CandlePreloader, onRiskEvent RiskEventSink) *SignalProcessor {
	return &SignalProcessor{
		cfg:         cfg,
		watch:       watch,
		risk:        riskPolicy,
		hours:       hoursGate,
		idem:        newIdempotencyCache(cfg.IdempotencyTTL),
		candles:     candles,
		preloader:   preloader,
		onRiskEvent: onRiskEvent,
		log:         logger.With("component", "ingress_signal"),
		now:         time.Now,
	}
}

// Handle is a bus.Handler over the strategy-signal topics (spec.md §6,
// "strategy-signals" / "trading-signals-v2").
func (p *SignalProcessor) Handle(ctx context.Context, msg bus.Message) error {
	var sig model.StrategySignal
	if err := json.Unmarshal(msg.Value, &sig); err != nil {
		p.log.Warnf("ingress_signal: decode failure, dropping (key=%s): %v", msg.Key, err)
		p.emitDrop("", xerr.IngestParse, err.Error())
		msg.Ack()
		return nil
	}

	if err := p.Process(ctx, sig); err != nil {
		xe, _ := err.(*xerr.Error)
		if xe != nil && xe.Code.IsDrop() {
			p.log.Infof("ingress_signal: dropped %s: %v", sig.ScripCode, xe)
			p.emitDrop(sig.ScripCode, xe.Code, xe.Message)
			msg.Ack()
			return nil
		}
		// Not a recognized drop outcome: treat as transient, do not ack,
		// let the bus redeliver.
		return err
	}

	msg.Ack()
	return nil
}

// Process runs the full §4.1 pipeline against an already-decoded signal
// and, on success, admits it to the watchlist.
func (p *SignalProcessor) Process(ctx context.Context, sig model.StrategySignal) error {
	now := p.now()

	if p.idem.CheckAndMark(sig.IdempotencyKey(), now) {
		return xerr.New(xerr.IngestDuplicate, "signal "+sig.IdempotencyKey()+" already processed")
	}

	if age := now.Sub(sig.Timestamp()); age > p.cfg.MaxSignalAge {
		return xerr.New(xerr.IngestStale, "signal age "+age.String()+" exceeds max")
	}

	exchange := sig.Exchange
	if exchange == "" {
		exchange = hours.InferExchange(sig.ScripCode, sig.CompanyName)
	}
	if !p.hours.InExchangeHours(exchange, now) {
		return xerr.New(xerr.IngestOutOfHours, "outside "+exchange+" trading hours")
	}

	candidate := risk.Candidate{
		ScripCode:  sig.ScripCode,
		Direction:  sig.Signal.Normalize(),
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		Target1:    sig.Target1,
	}
	if err := p.risk.ValidateSignal(candidate); err != nil {
		return xerr.Wrap(xerr.IngestRiskReject, "risk validation failed", err)
	}

	ps := &model.PendingSignal{
		Signal:      sig,
		AdmittedAt:  now,
		ExpiresAt:   now.Add(p.cfg.MaxSignalAge),
		SignalPrice: sig.EntryPrice,
	}
	p.watch.Admit(ps)

	if p.candles != nil && p.candles.IsEmpty(sig.ScripCode) && p.preloader != nil {
		history, err := p.preloader.Preload(ctx, sig.ScripCode)
		if err != nil {
			p.log.Warnf("ingress_signal: candle preload failed for %s: %v", sig.ScripCode, err)
		}
		for _, c := range history {
			p.candles.Append(c)
		}
	}

	return nil
}

func (p *SignalProcessor) emitDrop(scripCode string, code xerr.Code, reason string) {
	if p.onRiskEvent == nil {
		return
	}
	severity := model.SeverityInfo
	if code == xerr.IngestRiskReject {
		severity = model.SeverityWarning
	}
	p.onRiskEvent(model.RiskEvent{
		EventID:   uuid.New().String(),
		Type:      string(code),
		Severity:  severity,
		Message:   reason,
		Timestamp: p.now(),
		Scope:     scripCode,
	})
}
