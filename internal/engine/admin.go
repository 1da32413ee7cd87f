package engine

import (
	"time"

	"github.com/google/uuid"

	"tradeengine/internal/config"
	"tradeengine/internal/metrics"
	"tradeengine/internal/model"
	"tradeengine/internal/position"
	"tradeengine/internal/xerr"
)

// Trip sets the circuit breaker, refusing every future entry submission
// until Reset is called (implements api.CircuitBreakerControl).
func (s *Supervisor) Trip(reason string) {
	s.TripCircuitBreaker(reason)
}

// TripCircuitBreaker is the internal entry point shared by the periodic
// monitor's drawdown check and the admin HTTP handler.
func (s *Supervisor) TripCircuitBreaker(reason string) {
	s.mu.Lock()
	already := s.portfolio.CircuitBreakerTripped
	s.portfolio.CircuitBreakerTripped = true
	s.portfolio.CircuitBreakerReason = reason
	s.mu.Unlock()

	metrics.CircuitBreakerTripped.Set(1)
	if already {
		return
	}
	s.log.Warnf("engine: circuit breaker tripped: %s", reason)
	s.emitRiskEvent(model.RiskEvent{
		EventID:   uuid.New().String(),
		Type:      "CIRCUIT_BREAKER",
		Severity:  model.SeverityCritical,
		Message:   reason,
		Timestamp: time.Now(),
		Scope:     "portfolio",
	})
}

// Reset clears the circuit breaker (implements api.CircuitBreakerControl).
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.portfolio.CircuitBreakerTripped = false
	s.portfolio.CircuitBreakerReason = ""
	s.mu.Unlock()
	metrics.CircuitBreakerTripped.Set(0)
	s.log.Infof("engine: circuit breaker reset")
}

// ForceClose routes an operator-initiated close into the owning
// Manager's single-writer event stream rather than mutating its trade
// directly (implements api.ForceCloser; spec.md §6, force-close).
func (s *Supervisor) ForceClose(scripCode, reason string) error {
	s.mu.Lock()
	slot, ok := s.slots[scripCode]
	s.mu.Unlock()
	if !ok {
		return xerr.New(xerr.BrokerReject, "no open trade for "+scripCode)
	}
	slot.mgr.Events <- position.Event{
		Kind:  position.EventAdminCommand,
		Admin: position.AdminCommand{Kind: position.AdminForceClose, Reason: reason},
	}
	return nil
}

// Mode returns the current trading mode (implements api.ModeControl).
func (s *Supervisor) Mode() config.TradingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode records the trading mode that Mode reports. The broker is
// chosen once at startup from the configured mode, so changing the mode
// here does not switch the broker used for the open trade or for new
// entries.
func (s *Supervisor) SetMode(mode config.TradingMode) error {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.log.Infof("engine: trading mode set to %s", mode)
	return nil
}

// Portfolio returns a snapshot of the current portfolio state
// (implements api.PortfolioProvider).
func (s *Supervisor) Portfolio() model.PortfolioState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolio
}

// ActiveTrades returns a snapshot of every currently open trade
// (implements api.ActiveTradeProvider).
func (s *Supervisor) ActiveTrades() []*model.ActiveTrade {
	s.mu.Lock()
	slots := make([]*activeSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		slots = append(slots, slot)
	}
	s.mu.Unlock()

	out := make([]*model.ActiveTrade, 0, len(slots))
	for _, slot := range slots {
		if t := slot.mgr.Trade(); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// CompletedTrades returns the most recently closed trades, most recent
// first (implements api.CompletedTradeProvider).
func (s *Supervisor) CompletedTrades(limit int) []model.TradeResult {
	if s.st == nil {
		return nil
	}
	results, err := s.st.ListTradeResults(limit)
	if err != nil {
		s.log.Errorf(err, "engine: listing completed trades failed")
		return nil
	}
	return results
}

// WaitingSignals returns every pending signal currently on the
// watchlist. The admin API's /trades/waiting endpoint reads the same
// watchlist directly rather than through this method.
func (s *Supervisor) WaitingSignals() []*model.PendingSignal {
	return s.watch.All()
}
