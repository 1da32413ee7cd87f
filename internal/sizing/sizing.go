// Package sizing implements the Position Sizer (C7): a risk-based
// quantity calculation with confidence, microstructure, and signal
// multipliers (spec.md §4.5).
package sizing

import (
	"github.com/shopspring/decimal"

	"tradeengine/internal/config"
)

// Input bundles the signal fields the sizer needs.
type Input struct {
	AccountValue            decimal.Decimal
	EntryPrice              decimal.Decimal
	StopLoss                decimal.Decimal
	MLConfidence            *float64
	MicrostructureLiquidity float64 // used to derive the vpin-style multiplier
	PositionSizeMultiplier  float64 // signal-provided override, 0 means "not provided"
	LotSize                 int64   // 1 for equities, >1 for options/futures lot rounding
	MaxPositionValue        decimal.Decimal
}

// Sizer computes position size from account risk and a chain of bounded
// multipliers, grounded on the teacher's sizing helpers in
// trader/auto_trader.go (position-value caps, confidence scaling).
type Sizer struct {
	cfg *config.Config
}

// New constructs a Sizer bound to engine configuration.
func New(cfg *config.Config) *Sizer {
	return &Sizer{cfg: cfg}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Compute returns the final integer quantity, rounded down to LotSize, or
// 0 if the result is non-positive (spec.md §4.5, "Minimum 0 (⇒ reject),
// never negative").
func (s *Sizer) Compute(in Input) int64 {
	stopDistance := in.EntryPrice.Sub(in.StopLoss).Abs()
	if stopDistance.IsZero() || in.AccountValue.IsZero() {
		return 0
	}

	baseRisk := in.AccountValue.Mul(decimal.NewFromFloat(s.cfg.RiskPerTrade))
	rawSize := baseRisk.Div(stopDistance).Floor()

	confidence := 1.0
	if in.MLConfidence != nil {
		confidence = 0.5 + 0.5*clip(*in.MLConfidence, 0, 1)
	}

	microstructure := clip(in.MicrostructureLiquidity, 0.5, 1.5)
	if in.MicrostructureLiquidity == 0 {
		microstructure = 1.0
	}

	signalMultiplier := 1.0
	if in.PositionSizeMultiplier != 0 {
		signalMultiplier = clip(in.PositionSizeMultiplier, 0.5, 2.0)
	}

	size := rawSize.
		Mul(decimal.NewFromFloat(confidence)).
		Mul(decimal.NewFromFloat(microstructure)).
		Mul(decimal.NewFromFloat(signalMultiplier)).
		Floor()

	if !in.MaxPositionValue.IsZero() {
		maxBySize := in.MaxPositionValue.Div(in.EntryPrice).Floor()
		if size.GreaterThan(maxBySize) {
			size = maxBySize
		}
	}

	lot := in.LotSize
	if lot <= 0 {
		lot = 1
	}
	lots := size.Div(decimal.NewFromInt(lot)).Floor()
	final := lots.Mul(decimal.NewFromInt(lot))

	if final.IsNegative() || final.IsZero() {
		return 0
	}
	return final.IntPart()
}
