// Package position implements the Position Manager (C8): the
// single-writer owner of the open ActiveTrade, driving stop/target/
// trailing-stop evolution and exit submission/verification (spec.md
// §4.6).
//
// Manager is constructed per instrument key (spec.md §5: "raising
// maxConcurrentPositions > 1 requires partitioning the Manager by
// instrument key"); the default single-active-trade topology runs exactly
// one Manager. All state mutation happens on the owning goroutine that
// drains Manager.Events, grounded on the REDESIGN FLAGS' replacement of a
// "global mutable Active-Trade reference" with a single-writer actor.
package position

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/internal/broker"
	"tradeengine/internal/config"
	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/internal/verify"
)

// EventKind discriminates the merged input stream the Manager consumes.
type EventKind int

const (
	EventCandle EventKind = iota
	EventTick
	EventVerification
	EventAdminCommand
)

// AdminCommandKind enumerates the mutating admin actions (spec.md §6).
type AdminCommandKind int

const (
	AdminForceClose AdminCommandKind = iota
	AdminCancel
)

// Event is one item on the Manager's serialized input stream (spec.md §5).
type Event struct {
	Kind         EventKind
	Candle       model.Candle
	Tick         model.Tick
	Verification verificationEvent
	Admin        AdminCommand
}

type verificationEvent struct {
	Result model.OrderVerificationResult
	Stage  verificationStage
}

type verificationStage int

const (
	stageEntry verificationStage = iota
	stageExit
)

// AdminCommand is an explicit operator action delivered into the event
// stream rather than mutating state directly (spec.md §9, "ambient
// singletons" re-architecture).
type AdminCommand struct {
	Kind   AdminCommandKind
	Reason string
}

// ExitCallback is invoked once a trade reaches COMPLETED or FAILED, so the
// caller (C14 Result Publisher) can emit TradeResult and profit-loss
// events without the Manager depending on the publisher's wire format.
type ExitCallback func(result model.TradeResult)

// RiskEventCallback receives RiskEvents emitted during exit-failure
// escalation and verification backoff (spec.md §4.6 step 7).
type RiskEventCallback func(event model.RiskEvent)

// RetireCallback is invoked when a trade is abandoned before ever reaching
// an open, verified position: entry-verify failure or an operator cancel.
// It is the Manager's signal that the caller's single-active-trade slot
// for this instrument key must be released, symmetric to ExitCallback for
// the completed-trade case.
type RetireCallback func(instrumentKey string)

// Manager owns exactly one ActiveTrade (or none) for one instrument key.
type Manager struct {
	instrumentKey string
	cfg           *config.Config
	brk           broker.Broker
	verifier      *verify.Verifier
	log           *logger.Logger

	Events chan Event

	trade *model.ActiveTrade

	onExit      ExitCallback
	onRiskEvent RiskEventCallback
	onRetire    RetireCallback

	exitBackoffAttempt int
	exitBackoffSince    time.Time
}

// NewManager constructs a Manager for one instrument key. Partitioning by
// instrument key is the documented extension point for
// maxConcurrentPositions > 1 (spec.md §5); the default engine wiring runs
// exactly one Manager.
func NewManager(instrumentKey string, cfg *config.Config, brk broker.Broker, verifier *verify.Verifier, onExit ExitCallback, onRiskEvent RiskEventCallback, onRetire RetireCallback) *Manager {
	return &Manager{
		instrumentKey: instrumentKey,
		cfg:           cfg,
		brk:           brk,
		verifier:      verifier,
		log:           logger.With("component", "position", "instrument", instrumentKey),
		Events:        make(chan Event, 64),
		onExit:        onExit,
		onRiskEvent:   onRiskEvent,
		onRetire:      onRetire,
	}
}

// HasOpenSlot reports whether this Manager currently occupies the
// single-active-trade slot (spec.md §3, §8).
func (m *Manager) HasOpenSlot() bool {
	return m.trade != nil && m.trade.Status.IsOpenSlot()
}

// Trade returns a read-only snapshot of the current trade, or nil.
func (m *Manager) Trade() *model.ActiveTrade {
	if m.trade == nil {
		return nil
	}
	cp := *m.trade
	return &cp
}

// Run drains the Manager's event stream until ctx is cancelled. This is
// the Manager's single-writer goroutine: every mutation of m.trade
// happens here and nowhere else.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.Events:
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventCandle:
		m.onCandle(ctx, ev.Candle)
	case EventTick:
		m.onTick(ev.Tick)
	case EventVerification:
		m.onVerification(ctx, ev.Verification)
	case EventAdminCommand:
		m.onAdminCommand(ctx, ev.Admin)
	}
}

// Open transitions the Manager into PENDING_FILL for a freshly submitted
// entry order, called by the Entry Evaluator after Risk Policy approval
// and Position Sizer computation (spec.md §4.3 step 5).
func (m *Manager) Open(trade *model.ActiveTrade) {
	m.trade = trade
}

// TrackEntryVerification registers the entry order with the Order
// Verifier, routing its result back into this Manager's own event stream
// (spec.md §4.3 step 6, "Register a verification callback with the Order
// Verifier").
func (m *Manager) TrackEntryVerification(ctx context.Context, orderID string, requestedQty int64) {
	m.verifier.Track(ctx, orderID, requestedQty, m.cfg.EntryTimeout, func(result model.OrderVerificationResult) {
		m.Events <- Event{Kind: EventVerification, Verification: verificationEvent{Result: result, Stage: stageEntry}}
	})
}

// onTick updates the cached high/low-since-entry bookkeeping between
// candle closes; the authoritative state transitions happen on candle
// boundaries per spec.md §4.6.
func (m *Manager) onTick(tick model.Tick) {
	if m.trade == nil || m.trade.Status != model.StatusActive && m.trade.Status != model.StatusPartialExit {
		return
	}
	if tick.LastRate.GreaterThan(m.trade.HighSinceEntry) {
		m.trade.HighSinceEntry = tick.LastRate
	}
	if m.trade.LowSinceEntry.IsZero() || tick.LastRate.LessThan(m.trade.LowSinceEntry) {
		m.trade.LowSinceEntry = tick.LastRate
	}
}

// onCandle drives the per-bar state machine (spec.md §4.6 steps 1-4, and
// the end-of-session close).
func (m *Manager) onCandle(ctx context.Context, bar model.Candle) {
	if m.trade == nil {
		return
	}
	if m.trade.Status != model.StatusActive && m.trade.Status != model.StatusPartialExit {
		return
	}

	m.updateExcursion(bar)
	m.advanceTrailingStop(bar)

	if reason, exitPrice, hit := m.detectExit(bar); hit {
		m.submitExit(ctx, reason, exitPrice)
		return
	}
}

func (m *Manager) updateExcursion(bar model.Candle) {
	t := m.trade
	if bar.High.GreaterThan(t.HighSinceEntry) {
		t.HighSinceEntry = bar.High
	}
	if t.LowSinceEntry.IsZero() || bar.Low.LessThan(t.LowSinceEntry) {
		t.LowSinceEntry = bar.Low
	}
}

// advanceTrailingStop applies the three R-multiple trailing-stop stages
// (spec.md §4.6 step 2). Stops move only favorably; stage is monotonic
// non-decreasing.
func (m *Manager) advanceTrailingStop(bar model.Candle) {
	t := m.trade
	r := t.R()
	if r.IsZero() {
		return
	}

	stages := []struct {
		stage   int
		trigger decimal.Decimal
		stopR   decimal.Decimal
	}{
		{1, m.cfg.TrailStage1.TriggerR, m.cfg.TrailStage1.StopR},
		{2, m.cfg.TrailStage2.TriggerR, m.cfg.TrailStage2.StopR},
		{3, m.cfg.TrailStage3.TriggerR, m.cfg.TrailStage3.StopR},
	}

	for _, s := range stages {
		if t.TrailStage >= s.stage {
			continue
		}
		triggerPrice := triggerPriceFor(t, s.trigger, r)
		reached := false
		if t.IsBullish() {
			reached = bar.High.GreaterThanOrEqual(triggerPrice)
		} else {
			reached = bar.Low.LessThanOrEqual(triggerPrice)
		}
		if !reached {
			continue
		}

		newStop := stopPriceFor(t, s.stopR, r)
		if t.IsBullish() {
			if newStop.GreaterThan(t.StopLoss) {
				t.StopLoss = newStop
			}
		} else {
			if newStop.LessThan(t.StopLoss) {
				t.StopLoss = newStop
			}
		}
		t.TrailStage = s.stage
	}
}

func triggerPriceFor(t *model.ActiveTrade, triggerR, r decimal.Decimal) decimal.Decimal {
	delta := r.Mul(triggerR)
	if t.IsBullish() {
		return t.EntryPrice.Add(delta)
	}
	return t.EntryPrice.Sub(delta)
}

func stopPriceFor(t *model.ActiveTrade, stopR, r decimal.Decimal) decimal.Decimal {
	delta := r.Mul(stopR)
	if t.IsBullish() {
		return t.EntryPrice.Add(delta)
	}
	return t.EntryPrice.Sub(delta)
}

// detectExit implements the conservative stop-wins tie-break (spec.md
// §4.6 step 3, §8 "Boundary behaviors").
func (m *Manager) detectExit(bar model.Candle) (model.ExitReason, decimal.Decimal, bool) {
	t := m.trade
	if t.IsBullish() {
		stopHit := bar.Low.LessThanOrEqual(t.StopLoss)
		targetHit := bar.High.GreaterThanOrEqual(t.Target1)
		if stopHit {
			return model.ExitStopLoss, t.StopLoss, true
		}
		if targetHit {
			return model.ExitTarget1, t.Target1, true
		}
		return "", decimal.Zero, false
	}

	stopHit := bar.High.GreaterThanOrEqual(t.StopLoss)
	targetHit := bar.Low.LessThanOrEqual(t.Target1)
	if stopHit {
		return model.ExitStopLoss, t.StopLoss, true
	}
	if targetHit {
		return model.ExitTarget1, t.Target1, true
	}
	return "", decimal.Zero, false
}

// submitExit builds and submits the exit order on the configured
// execution instrument (spec.md §4.6 step 5).
func (m *Manager) submitExit(ctx context.Context, reason model.ExitReason, exitPrice decimal.Decimal) {
	t := m.trade
	side := model.SideSell
	if !t.IsBullish() {
		side = model.SideBuy
	}

	req := model.OrderRequest{
		Instrument:   instrumentOrDefault(t.Execution.OrderScripCode, t.ScripCode),
		Exchange:     t.Execution.OrderExchange,
		ExchangeType: t.Execution.OrderExchangeType,
		Side:         side,
		Quantity:     t.PositionSize,
		Type:         model.OrderMarket,
		TickSize:     t.Execution.OrderTickSize,
	}
	if needsSpreadAwareLimit(t.Execution.OrderExchangeType) {
		req.Type = model.OrderLimit
		req.LimitPrice = exitLimitPrice(exitPrice, side, t.Execution.OrderTickSize, m.cfg.OptionSlippageTicks)
	}

	ack, err := m.brk.PlaceOrder(ctx, req)
	if err != nil {
		t.Broker.ExitFailureReason = err.Error()
		t.Broker.ExitAttempts++
		m.escalateExitFailure(reason)
		return
	}

	t.Status = model.StatusPartialExit
	t.ExitReason = reason
	t.ExitPrice = exitPrice
	t.Broker.ExitOrderID = ack.OrderID

	m.verifier.Track(ctx, ack.OrderID, t.PositionSize, 0, func(result model.OrderVerificationResult) {
		m.Events <- Event{Kind: EventVerification, Verification: verificationEvent{Result: result, Stage: stageExit}}
	})
}

func needsSpreadAwareLimit(exchangeType string) bool {
	return exchangeType == "D" || exchangeType == "OPTIONS" || exchangeType == "MCX"
}

func exitLimitPrice(base decimal.Decimal, side model.OrderSide, tick decimal.Decimal, slippageTicks int) decimal.Decimal {
	if tick.IsZero() {
		tick = decimal.NewFromFloat(0.05)
	}
	slip := tick.Mul(decimal.NewFromInt(int64(slippageTicks)))
	if side == model.SideSell {
		return base.Sub(slip)
	}
	return base.Add(slip)
}

func instrumentOrDefault(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// escalateExitFailure counts failed exit attempts inside a 60s window
// (spec.md §4.6 step 7). From the third failure within the window on,
// every failure emits a CRITICAL EXIT_FAILURE RiskEvent. It neither delays
// nor stops retries: the exit is attempted again whenever a later bar
// triggers exit detection, and nothing waits for an operator
// acknowledgment.
func (m *Manager) escalateExitFailure(reason model.ExitReason) {
	now := time.Now()
	if m.exitBackoffAttempt == 0 || now.Sub(m.exitBackoffSince) > 60*time.Second {
		m.exitBackoffAttempt = 0
		m.exitBackoffSince = now
	}
	m.exitBackoffAttempt++

	if m.exitBackoffAttempt >= 3 {
		m.onRiskEvent(model.RiskEvent{
			EventID:   uuid.New().String(),
			Type:      "EXIT_FAILURE",
			Severity:  model.SeverityCritical,
			Message:   "exit submission failed after 3 attempts within 60s, operator acknowledgment required",
			Timestamp: now,
			Scope:     m.instrumentKey,
		})
	}
}

// onVerification reconciles a broker fill back into trade state (spec.md
// §4.6 steps 5-6, §4.7).
func (m *Manager) onVerification(ctx context.Context, ev verificationEvent) {
	if m.trade == nil {
		return
	}
	result := ev.Result

	switch ev.Stage {
	case stageEntry:
		m.onEntryVerified(result)
	case stageExit:
		m.onExitVerified(result)
	}
}

func (m *Manager) onEntryVerified(result model.OrderVerificationResult) {
	t := m.trade
	if !result.Success {
		t.Status = model.StatusFailed
		m.onRiskEvent(model.RiskEvent{
			EventID:   uuid.New().String(),
			Type:      "ENTRY_VERIFY_FAIL",
			Severity:  model.SeverityCritical,
			Message:   result.Message,
			Timestamp: time.Now(),
			Scope:     m.instrumentKey,
		})
		m.trade = nil
		m.retire()
		return
	}

	if result.FilledQty > 0 && result.FilledQty != t.PositionSize {
		t.PositionSize = result.FilledQty
		m.onRiskEvent(model.RiskEvent{
			EventID:   uuid.New().String(),
			Type:      "PARTIAL_FILL",
			Severity:  model.SeverityWarning,
			Message:   "entry partially filled, adopting actual quantity",
			Timestamp: time.Now(),
			Scope:     m.instrumentKey,
		})
	}
	if result.AvgPrice.IsPositive() {
		t.EntryPrice = result.AvgPrice
	}
	t.HighSinceEntry = t.EntryPrice
	t.LowSinceEntry = t.EntryPrice
	t.Status = model.StatusActive
}

func (m *Manager) onExitVerified(result model.OrderVerificationResult) {
	t := m.trade
	if !result.Success {
		t.Broker.ExitFailureReason = result.Message
		t.Broker.ExitAttempts++
		t.Status = model.StatusActive // retry on next bar
		m.escalateExitFailure(t.ExitReason)
		return
	}

	fillQty := t.PositionSize
	if result.FilledQty > 0 {
		fillQty = result.FilledQty
	}
	fillPrice := t.ExitPrice
	if result.AvgPrice.IsPositive() {
		fillPrice = result.AvgPrice
	}

	pnl := fillPrice.Sub(t.EntryPrice).Mul(decimal.NewFromInt(fillQty))
	if !t.IsBullish() {
		pnl = pnl.Neg()
	}

	rMultiple := decimal.Zero
	if r := t.R(); r.IsPositive() {
		perUnitPnL := fillPrice.Sub(t.EntryPrice)
		if !t.IsBullish() {
			perUnitPnL = perUnitPnL.Neg()
		}
		rMultiple = perUnitPnL.Div(r)
	}

	exitTime := time.Now()
	tr := model.TradeResult{
		TradeID:         t.TradeID,
		ScripCode:       t.ScripCode,
		Direction:       t.SignalType,
		EntryPrice:      t.EntryPrice,
		ExitPrice:       fillPrice,
		EntryTime:       t.EntryTime,
		ExitTime:        exitTime,
		PositionSize:    fillQty,
		PnL:             pnl,
		RMultiple:       rMultiple,
		ExitReason:      t.ExitReason,
		DurationMinutes: exitTime.Sub(t.EntryTime).Minutes(),
	}

	t.Status = model.StatusCompleted
	t.ExitTime = exitTime
	m.onExit(tr)
	m.trade = nil
}

// onAdminCommand handles explicit operator actions delivered into the
// event stream (spec.md §6, mutating admin endpoints).
func (m *Manager) onAdminCommand(ctx context.Context, cmd AdminCommand) {
	if m.trade == nil {
		return
	}
	switch cmd.Kind {
	case AdminForceClose:
		m.submitExit(ctx, model.ExitManual, m.trade.EntryPrice)
	case AdminCancel:
		m.trade.Status = model.StatusCancelled
		m.trade = nil
		m.retire()
	}
}

// retire notifies the caller that this Manager has abandoned its trade
// without ever reaching a completed or exit-verified state, so the
// single-active-trade slot can be released.
func (m *Manager) retire() {
	if m.onRetire != nil {
		m.onRetire(m.instrumentKey)
	}
}

// CloseAtSessionEnd forces a close at the last bar's close price (spec.md
// §4.6, "End-of-session").
func (m *Manager) CloseAtSessionEnd(ctx context.Context, lastClose decimal.Decimal) {
	if m.trade == nil {
		return
	}
	if !m.trade.Status.IsOpenSlot() {
		return
	}
	m.submitExit(ctx, model.ExitEndOfSession, lastClose)
}
