// Package hours implements the Trading Hours Gate (C11): per-exchange
// open/close windows and the "golden window" intraday entry intervals
// (spec.md §4.1 step 4, §6).
package hours

import (
	"time"

	"tradeengine/internal/config"
)

// Gate evaluates wall-clock time against configured exchange hours and
// golden windows, grounded on the teacher's session-window heuristics in
// trader/auto_trader.go.
type Gate struct {
	cfg *config.Config
}

// New constructs a Gate bound to engine configuration.
func New(cfg *config.Config) *Gate {
	return &Gate{cfg: cfg}
}

// hhmm formats t in the gate's configured zone as "HH:MM".
func (g *Gate) hhmm(t time.Time) string {
	return t.In(g.cfg.Zone).Format("15:04")
}

// InExchangeHours reports whether t falls within the named exchange's
// open/close window. Unknown exchanges fall back to the NSE window per
// spec.md §4.1 step 4 ("exchange defaults by instrument heuristic when
// field is absent").
func (g *Gate) InExchangeHours(exchange string, t time.Time) bool {
	hours, ok := g.cfg.ExchangeHours[exchange]
	if !ok {
		hours, ok = g.cfg.ExchangeHours["NSE"]
		if !ok {
			return true
		}
	}
	now := g.hhmm(t)
	return hours.Open <= now && now <= hours.Close
}

// InGoldenWindow reports whether t falls within any configured golden
// window (spec.md §4.3 step 2).
func (g *Gate) InGoldenWindow(t time.Time) bool {
	now := g.hhmm(t)
	for _, w := range g.cfg.GoldenWindows {
		if w.Start <= now && now <= w.End {
			return true
		}
	}
	return false
}

// PastSessionEndCutoff reports whether t is at or past the configured
// end-of-session cutoff, triggering the forced end-of-session close
// (spec.md §4.6, "End-of-session").
func (g *Gate) PastSessionEndCutoff(t time.Time) bool {
	return g.hhmm(t) >= g.cfg.SessionEndCutoff
}

// commodityNames is the heuristic fallback list used only when a signal
// omits an explicit exchange field (spec.md §9 Open Question: decided in
// DESIGN.md to keep this as an ingress-only fallback, never overriding an
// explicit field).
var commodityNames = map[string]bool{
	"GOLD": true, "SILVER": true, "CRUDEOIL": true, "NATURALGAS": true,
	"COPPER": true, "ZINC": true, "NICKEL": true, "ALUMINIUM": true,
}

// InferExchange heuristically classifies an instrument's exchange when
// the signal omits an explicit exchange field: an "M"-prefixed scrip code
// or a known commodity company name maps to MCX, everything else to NSE
// (SPEC_FULL.md §5, Open Question decision 2).
func InferExchange(scripCode, companyName string) string {
	if len(scripCode) > 0 && scripCode[0] == 'M' {
		return "MCX"
	}
	if commodityNames[companyName] {
		return "MCX"
	}
	return "NSE"
}
