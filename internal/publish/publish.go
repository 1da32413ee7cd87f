// Package publish implements the Result Publisher (C14): it turns
// completed trades, position-entry events, and risk events into output
// records on the bus, and fans them out to any registered side-channel
// Sinks (Telegram, SSE, audit storage) without the core depending on
// their wire formats.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/internal/bus"
	"tradeengine/internal/logger"
	"tradeengine/internal/model"
)

// Sink receives every event the Publisher emits, in addition to the bus
// write. Telegram notifications and the SSE admin stream are both
// implemented as Sinks (SPEC_FULL.md §4, supplemented features).
type Sink interface {
	TradeEntry(model.TradeEntryEvent)
	TradeResult(model.TradeResult)
	ProfitLoss(model.ProfitLossEvent)
	RiskEvent(model.RiskEvent)
}

// Publisher implements C14. Idempotent on tradeId: publishing the same
// TradeResult twice (e.g. after a supervisor restart) produces the same
// output key, so downstream consumers that dedupe on key see no change
// in system state (spec.md §4.8).
type Publisher struct {
	producer bus.Producer
	sinks    []Sink
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a Publisher writing through producer and fanning out to
// every sink in order.
func New(producer bus.Producer, sinks ...Sink) *Publisher {
	return &Publisher{producer: producer, sinks: sinks, log: logger.With("component", "publish"), now: time.Now}
}

// TradeEntry publishes an order-submitted event to "trade-entries",
// keyed by orderId (spec.md §6).
func (p *Publisher) TradeEntry(ctx context.Context, ev model.TradeEntryEvent) error {
	if ev.EntryTime == 0 {
		ev.EntryTime = p.now().UnixMilli()
	}
	if err := p.writeJSON(ctx, bus.TopicTradeEntries, ev.OrderID, ev); err != nil {
		return err
	}
	for _, s := range p.sinks {
		s.TradeEntry(ev)
	}
	return nil
}

// TradeResult publishes a completed trade to "trade-results", keyed by
// tradeId — the idempotency key spec.md §4.8 names for result
// publication.
func (p *Publisher) TradeResult(ctx context.Context, tr model.TradeResult) error {
	if err := p.writeJSON(ctx, bus.TopicTradeResults, tr.TradeID, tr); err != nil {
		return err
	}

	pl := model.ProfitLossEvent{
		EventType:       model.PLTradeExit,
		TradeID:         tr.TradeID,
		ScripCode:       tr.ScripCode,
		EntryPrice:      tr.EntryPrice,
		ExitPrice:       tr.ExitPrice,
		PnL:             tr.PnL,
		ROI:             roi(tr.PnL, tr.EntryPrice, tr.PositionSize),
		DurationMinutes: tr.DurationMinutes,
		Timestamp:       p.now().UnixMilli(),
	}
	if err := p.writeJSON(ctx, bus.TopicProfitLoss, tr.TradeID, pl); err != nil {
		return err
	}

	for _, s := range p.sinks {
		s.TradeResult(tr)
		s.ProfitLoss(pl)
	}
	return nil
}

// PortfolioUpdate publishes a periodic portfolio-level P&L snapshot to
// "profit-loss" (spec.md §6, ProfitLossEventType.PORTFOLIO_UPDATE).
func (p *Publisher) PortfolioUpdate(ctx context.Context, state model.PortfolioState, unrealizedPnL decimal.Decimal) error {
	pl := model.ProfitLossEvent{
		EventType: model.PLPortfolioUpdate,
		PnL:       state.DailyRealizedPnL.Add(unrealizedPnL),
		Timestamp: p.now().UnixMilli(),
	}
	key := uuid.New().String()
	if err := p.writeJSON(ctx, bus.TopicProfitLoss, key, pl); err != nil {
		return err
	}
	for _, s := range p.sinks {
		s.ProfitLoss(pl)
	}
	return nil
}

// RiskEvent publishes a RiskEvent to "risk-events", keyed by its own id.
func (p *Publisher) RiskEvent(ctx context.Context, ev model.RiskEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if err := p.writeJSON(ctx, bus.TopicRiskEvents, ev.EventID, ev); err != nil {
		return err
	}
	for _, s := range p.sinks {
		s.RiskEvent(ev)
	}
	return nil
}

func (p *Publisher) writeJSON(ctx context.Context, topic, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		p.log.Warnf("publish: marshal failure for topic %s key %s: %v", topic, key, err)
		return err
	}
	return p.producer.Publish(ctx, topic, key, value)
}

func roi(pnl, entryPrice decimal.Decimal, size int64) decimal.Decimal {
	basis := entryPrice.Mul(decimal.NewFromInt(size))
	if basis.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(basis)
}
