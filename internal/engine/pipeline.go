package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/internal/entry"
	"tradeengine/internal/metrics"
	"tradeengine/internal/model"
	"tradeengine/internal/position"
	"tradeengine/internal/risk"
	"tradeengine/internal/sizing"
)

// OnTick forwards a market-data tick to the active Manager, if the slot it
// owns matches the ticking instrument (spec.md §4.1, "Market-data ticks
// update C1 and C3; C8 re-evaluates"). Wired as ingress's TickCallback.
func (s *Supervisor) OnTick(tick model.Tick) {
	s.mu.Lock()
	slot, ok := s.slots[tick.InstrumentKey]
	s.mu.Unlock()
	if !ok {
		return
	}
	slot.mgr.Events <- position.Event{Kind: position.EventTick, Tick: tick}
}

// OnCandle forwards a closed candle to the instrument's active Manager, or,
// when the single-active-trade slot is free, runs the entry-confirmation
// pass over the watchlist. Wired as ingress's CandleCallback.
func (s *Supervisor) OnCandle(ctx context.Context, candle model.Candle) {
	s.mu.Lock()
	slot, ok := s.slots[candle.InstrumentKey]
	hasOpen := len(s.slots) > 0
	s.mu.Unlock()

	if ok {
		slot.mgr.Events <- position.Event{Kind: position.EventCandle, Candle: candle}
		return
	}
	if hasOpen {
		// Single-active-trade topology (spec.md §3, §8): another instrument
		// currently holds the slot, so this instrument's pending signal
		// cannot confirm yet even if it is READY.
		return
	}
	s.evaluateWatchlist(ctx)
}

// evaluateWatchlist runs the Entry Evaluator over every pending signal
// against its own latest candle, then submits the best READY candidate
// (spec.md §4.3 steps 2-3).
func (s *Supervisor) evaluateWatchlist(ctx context.Context) {
	pending := s.watch.All()
	if len(pending) == 0 {
		return
	}

	now := s.now()
	candidates := make([]entry.Readiness, 0, len(pending))
	for _, ps := range pending {
		curr, ok := s.candles.Last(ps.ScripCode())
		if !ok {
			continue
		}
		direction := ps.Signal.Signal.Normalize()
		pivotData, err := s.pivots.Get(ctx, ps.ScripCode(), now, curr.Close, direction)
		if err != nil {
			s.log.Warnf("engine: pivot fetch failed for %s: %v", ps.ScripCode(), err)
			continue
		}
		hhmm := curr.WindowEnd().In(s.cfg.Zone).Format("15:04")
		candidates = append(candidates, s.evaluator.EvaluateOne(ps, curr, hhmm, pivotData))
	}

	winner, ok := entry.SelectBest(candidates)
	if !ok {
		return
	}
	s.confirmEntry(ctx, winner)
}

// confirmEntry sizes, risk-gates, and submits the winning candidate,
// spinning up its Position Manager on approval (spec.md §4.3 steps 4-6).
func (s *Supervisor) confirmEntry(ctx context.Context, r entry.Readiness) {
	ps := r.Signal
	sig := ps.Signal
	direction := sig.Signal.Normalize()

	curr, ok := s.candles.Last(ps.ScripCode())
	if !ok {
		return
	}
	entryPrice := curr.Close

	s.mu.Lock()
	state := s.portfolio
	s.mu.Unlock()

	size := s.sizer.Compute(sizing.Input{
		AccountValue:            state.AccountValue,
		EntryPrice:              entryPrice,
		StopLoss:                r.StopLoss,
		MLConfidence:            sig.MLConfidence,
		MicrostructureLiquidity: sig.MicrostructureLiquidity,
		PositionSizeMultiplier:  sig.PositionSizeMultiplier,
		LotSize:                 1,
		MaxPositionValue:        state.AccountValue.Mul(decimal.NewFromFloat(s.cfg.MaxExposurePct)),
	})
	if size <= 0 {
		s.log.Infof("engine: sizer rejected entry for %s, skipping", sig.ScripCode)
		return
	}

	candidate := risk.Candidate{
		ScripCode:  sig.ScripCode,
		Direction:  direction,
		EntryPrice: entryPrice,
		StopLoss:   r.StopLoss,
		Target1:    r.Target,
	}
	check := s.riskPolicy.CheckPortfolio(state, candidate, size, s.now())
	for _, ev := range check.Thresholds {
		s.emitRiskEvent(ev)
	}
	if !check.Approved {
		if check.Event != nil {
			s.emitRiskEvent(*check.Event)
		}
		return
	}

	side := model.SideBuy
	if direction == model.DirBearish {
		side = model.SideSell
	}
	req := model.OrderRequest{
		Instrument:   instrumentOrDefault(sig.OrderScripCode, sig.ScripCode),
		Exchange:     instrumentOrDefault(sig.OrderExchange, sig.Exchange),
		ExchangeType: instrumentOrDefault(sig.OrderExchangeType, sig.ExchangeType),
		Side:         side,
		Quantity:     size,
		Type:         model.OrderMarket,
		TickSize:     sig.OrderTickSize,
	}

	ack, err := s.brk.PlaceOrder(ctx, req)
	if err != nil {
		s.log.Warnf("engine: entry order submission failed for %s: %v", sig.ScripCode, err)
		s.emitRiskEvent(model.RiskEvent{
			EventID:   uuid.New().String(),
			Type:      "ENTRY_SUBMIT_FAIL",
			Severity:  model.SeverityWarning,
			Message:   err.Error(),
			Timestamp: s.now(),
			Scope:     sig.ScripCode,
		})
		return
	}

	trade := &model.ActiveTrade{
		TradeID:     uuid.New().String(),
		ScripCode:   sig.ScripCode,
		CompanyName: sig.CompanyName,
		SignalType:  direction,
		SignalID:    sig.SignalID,

		SignalTime: sig.Timestamp(),
		EntryTime:  s.now(),

		EntryPrice:   entryPrice,
		PositionSize: size,

		InitialStopLoss: r.StopLoss,
		StopLoss:        r.StopLoss,
		Target1:         r.Target,

		HighSinceEntry: entryPrice,
		LowSinceEntry:  entryPrice,

		Status: model.StatusPendingFill,

		Execution: model.ExecutionOverrides{
			OrderScripCode:       sig.OrderScripCode,
			OrderExchange:        sig.OrderExchange,
			OrderExchangeType:    sig.OrderExchangeType,
			OrderLimitPriceEntry: sig.OrderLimitPriceEntry,
			OrderLimitPriceExit:  sig.OrderLimitPriceExit,
			OrderTickSize:        sig.OrderTickSize,
		},
		Broker: model.BrokerRefs{EntryOrderID: ack.OrderID},
	}

	mgrCtx, cancel := context.WithCancel(ctx)
	mgr := position.NewManager(sig.ScripCode, s.cfg, s.brk, s.verifier, s.onTradeExit, s.onManagerRiskEvent, s.onTradeRetired)
	mgr.Open(trade)

	s.mu.Lock()
	s.slots[sig.ScripCode] = &activeSlot{mgr: mgr, cancel: cancel, direction: direction}
	s.portfolio.OpenPositionsCount++
	s.portfolio.ExposureByInstrument[sig.ScripCode] = entryPrice.Mul(decimal.NewFromInt(size))
	s.mu.Unlock()

	go mgr.Run(mgrCtx)
	mgr.TrackEntryVerification(mgrCtx, ack.OrderID, size)

	s.watch.Clear()
	metrics.UpdatePosition(sig.ScripCode, string(direction), 0, 0, 0)

	if s.publisher != nil {
		if err := s.publisher.TradeEntry(ctx, model.TradeEntryEvent{
			ScripCode:  sig.ScripCode,
			Direction:  direction,
			EntryPrice: entryPrice,
			StopLoss:   r.StopLoss,
			TakeProfit: r.Target,
			Quantity:   size,
			OrderID:    ack.OrderID,
			SignalID:   sig.SignalID,
			EntryTime:  s.now().UnixMilli(),
		}); err != nil {
			s.log.Errorf(err, "engine: publishing trade-entry event failed")
		}
	}
}

func instrumentOrDefault(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// onTradeExit is the Position Manager's ExitCallback: it retires the slot,
// folds realized P&L into the portfolio snapshot, and persists/publishes
// the result (spec.md §4.6 step 6, §4.8).
func (s *Supervisor) onTradeExit(tr model.TradeResult) {
	s.mu.Lock()
	slot, ok := s.slots[tr.ScripCode]
	if ok {
		delete(s.slots, tr.ScripCode)
	}
	if s.portfolio.OpenPositionsCount > 0 {
		s.portfolio.OpenPositionsCount--
	}
	delete(s.portfolio.ExposureByInstrument, tr.ScripCode)
	s.portfolio.AccountValue = s.portfolio.AccountValue.Add(tr.PnL)
	s.portfolio.DailyRealizedPnL = s.portfolio.DailyRealizedPnL.Add(tr.PnL)
	if s.portfolio.AccountValue.GreaterThan(s.portfolio.PeakValue) {
		s.portfolio.PeakValue = s.portfolio.AccountValue
	}
	s.mu.Unlock()

	if ok {
		slot.cancel()
	}

	metrics.RecordTrade(tr.ScripCode, tr.PnL.IsPositive())
	metrics.ClearPosition(tr.ScripCode, string(tr.Direction))

	if s.st != nil {
		if err := s.st.SaveTradeResult(tr); err != nil {
			s.log.Errorf(err, "engine: persisting trade result failed")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.TradeResult(context.Background(), tr); err != nil {
			s.log.Errorf(err, "engine: publishing trade result failed")
		}
	}
}

// onManagerRiskEvent forwards a Manager-originated RiskEvent (exit-failure
// escalation, entry-verification failure) through the same path the
// periodic monitor uses.
func (s *Supervisor) onManagerRiskEvent(ev model.RiskEvent) {
	s.emitRiskEvent(ev)
}

// onTradeRetired is the Position Manager's RetireCallback: it releases the
// single-active-trade slot for a trade abandoned before ever completing an
// exit, i.e. an entry-verify failure or an operator cancel (spec.md §4.3
// fail-mode, §7, "the single-active-trade slot released"). Unlike
// onTradeExit there is no realized P&L to fold and no TradeResult to
// persist or publish; the Manager has already emitted the RiskEvent that
// explains why.
func (s *Supervisor) onTradeRetired(instrumentKey string) {
	s.mu.Lock()
	slot, ok := s.slots[instrumentKey]
	if ok {
		delete(s.slots, instrumentKey)
	}
	if ok && s.portfolio.OpenPositionsCount > 0 {
		s.portfolio.OpenPositionsCount--
	}
	delete(s.portfolio.ExposureByInstrument, instrumentKey)
	direction := model.DirBullish
	if ok {
		direction = slot.direction
	}
	s.mu.Unlock()

	if ok {
		slot.cancel()
		metrics.ClearPosition(instrumentKey, string(direction))
	}
}
