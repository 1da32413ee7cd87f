// Package engine is the supervisor (spec.md §5): it wires every
// component into the signal-to-position lifecycle and owns the handful
// of pieces of state no single component owns by itself — the active
// Position Manager, the portfolio risk snapshot, and the trading mode.
// Grounded on the teacher's top-level orchestration in
// trader/auto_trader.go: a long-lived struct holding every collaborator
// by interface/pointer, a context-driven Run loop, and a periodic
// monitor goroutine alongside the event-driven path.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeengine/internal/broker"
	"tradeengine/internal/config"
	"tradeengine/internal/entry"
	"tradeengine/internal/hours"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/metrics"
	"tradeengine/internal/model"
	"tradeengine/internal/position"
	"tradeengine/internal/publish"
	"tradeengine/internal/risk"
	"tradeengine/internal/sizing"
	"tradeengine/internal/store"
	"tradeengine/internal/verify"
	"tradeengine/internal/watchlist"
)

// activeSlot bundles a running Manager with its cancellation so the
// supervisor can stop its goroutine once the trade completes.
type activeSlot struct {
	mgr       *position.Manager
	cancel    context.CancelFunc
	direction model.SignalDirection
}

// Supervisor owns the components the default single-active-trade
// topology shares across the lifecycle: the watchlist, the entry
// confirmation loop, and exactly one open position.Manager (spec.md §5:
// "raising maxConcurrentPositions > 1 requires partitioning the Manager
// by instrument key" — this default wiring runs the degenerate case of
// that partitioning, one slot, generalizing cleanly to more).
type Supervisor struct {
	cfg       *config.Config
	watch     *watchlist.Watchlist
	hoursGate *hours.Gate
	riskPolicy *risk.Policy
	sizer     *sizing.Sizer
	evaluator *entry.Evaluator
	candles   *market.CandleHistory
	pivots    *market.PivotClient
	prices    *market.PriceCache
	brk       broker.Broker
	verifier  *verify.Verifier
	publisher *publish.Publisher
	st        *store.Store
	log       *logger.Logger

	now func() time.Time

	mu              sync.Mutex
	portfolio       model.PortfolioState
	mode            config.TradingMode
	slots           map[string]*activeSlot
	maxDrawdownSeen decimal.Decimal
}

// Deps bundles every collaborator the Supervisor wires together, one
// field per SPEC_FULL.md component the engine drives.
type Deps struct {
	Config     *config.Config
	Watchlist  *watchlist.Watchlist
	HoursGate  *hours.Gate
	RiskPolicy *risk.Policy
	Sizer      *sizing.Sizer
	Evaluator  *entry.Evaluator
	Candles    *market.CandleHistory
	Pivots     *market.PivotClient
	Prices     *market.PriceCache
	Broker     broker.Broker
	Verifier   *verify.Verifier
	Publisher  *publish.Publisher
	Store      *store.Store
}

// New constructs a Supervisor and loads the initial portfolio snapshot.
func New(d Deps) *Supervisor {
	return &Supervisor{
		cfg:        d.Config,
		watch:      d.Watchlist,
		hoursGate:  d.HoursGate,
		riskPolicy: d.RiskPolicy,
		sizer:      d.Sizer,
		evaluator:  d.Evaluator,
		candles:    d.Candles,
		pivots:     d.Pivots,
		prices:     d.Prices,
		brk:        d.Broker,
		verifier:   d.Verifier,
		publisher:  d.Publisher,
		st:         d.Store,
		log:        logger.With("component", "engine"),
		now:        time.Now,
		mode:       d.Config.Mode,
		portfolio: model.PortfolioState{
			AccountValue:         d.Config.AccountValue,
			PeakValue:            d.Config.AccountValue,
			SessionDate:          time.Now().In(d.Config.Zone),
			ExposureByInstrument: make(map[string]decimal.Decimal),
			ExposureByStrategy:   make(map[string]decimal.Decimal),
		},
		slots: make(map[string]*activeSlot),
	}
}

// Run starts the periodic risk monitor (watchlist expiry, drawdown
// check, end-of-session close) and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdownSlots()
			return
		case now := <-ticker.C:
			s.monitor(ctx, now)
		}
	}
}

func (s *Supervisor) shutdownSlots() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		slot.cancel()
	}
}

// monitor runs the low-frequency checks that don't wait on a specific
// market event (spec.md §5, "Periodic risk monitor"): expiring stale
// pending signals, emitting drawdown RiskEvents, and forcing an
// end-of-session close on every open trade.
func (s *Supervisor) monitor(ctx context.Context, now time.Time) {
	for _, expired := range s.watch.ExpireOlderThan(now) {
		s.log.Infof("engine: pending signal for %s expired unconfirmed", expired.ScripCode())
		s.emitRiskEvent(model.RiskEvent{
			EventID:   uuid.New().String(),
			Type:      "SIGNAL_EXPIRED",
			Severity:  model.SeverityInfo,
			Message:   "pending signal expired without entry confirmation",
			Timestamp: now,
			Scope:     expired.ScripCode(),
		})
	}

	s.mu.Lock()
	state := s.portfolio
	s.mu.Unlock()

	if reason := s.riskPolicy.CheckDrawdown(state, s.unrealizedPnL()); reason != "" {
		s.TripCircuitBreaker(reason)
	}

	if s.hoursGate.PastSessionEndCutoff(now) {
		s.closeAllAtSessionEnd(ctx)
	}

	currentDD := drawdownPct(state)
	s.mu.Lock()
	if currentDD.GreaterThan(s.maxDrawdownSeen) {
		s.maxDrawdownSeen = currentDD
	}
	maxDD := s.maxDrawdownSeen
	s.mu.Unlock()

	equity, _ := state.AccountValue.Float64()
	currentDDf, _ := currentDD.Float64()
	maxDDf, _ := maxDD.Float64()
	metrics.UpdatePortfolio(equity, currentDDf, maxDDf, state.CircuitBreakerTripped)
	metrics.WatchlistSize.Set(float64(s.watch.Len()))
}

func drawdownPct(state model.PortfolioState) decimal.Decimal {
	if state.PeakValue.IsZero() {
		return decimal.Zero
	}
	return state.PeakValue.Sub(state.AccountValue).Div(state.PeakValue)
}

// unrealizedPnL marks every open trade to its last traded price.
func (s *Supervisor) unrealizedPnL() decimal.Decimal {
	s.mu.Lock()
	slots := make([]*activeSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		slots = append(slots, slot)
	}
	s.mu.Unlock()

	total := decimal.Zero
	for _, slot := range slots {
		t := slot.mgr.Trade()
		if t == nil {
			continue
		}
		tick, fresh := s.prices.Get(t.ScripCode)
		if !fresh {
			continue
		}
		move := tick.LastRate.Sub(t.EntryPrice)
		if !t.IsBullish() {
			move = move.Neg()
		}
		total = total.Add(move.Mul(decimal.NewFromInt(t.PositionSize)))
	}
	return total
}

func (s *Supervisor) closeAllAtSessionEnd(ctx context.Context) {
	s.mu.Lock()
	slots := make([]*activeSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		slots = append(slots, slot)
	}
	s.mu.Unlock()

	for _, slot := range slots {
		trade := slot.mgr.Trade()
		if trade == nil {
			continue
		}
		last, ok := s.candles.Last(trade.ScripCode)
		if !ok {
			continue
		}
		slot.mgr.CloseAtSessionEnd(ctx, last.Close)
	}
}

// EmitRiskEvent records and publishes a RiskEvent raised outside the
// supervisor's own monitor/pipeline (e.g. an ingress-path drop), using the
// same persistence/publish path as every internally-raised event.
func (s *Supervisor) EmitRiskEvent(ev model.RiskEvent) {
	s.emitRiskEvent(ev)
}

func (s *Supervisor) emitRiskEvent(ev model.RiskEvent) {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	metrics.RecordRiskEvent(string(ev.Severity))
	if s.st != nil {
		if err := s.st.SaveRiskEvent(ev); err != nil {
			s.log.Errorf(err, "engine: persisting risk event failed")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.RiskEvent(context.Background(), ev); err != nil {
			s.log.Errorf(err, "engine: publishing risk event failed")
		}
	}
}
