// Package entry implements the Entry Evaluator (C5): the state machine
// that fuses time-window, pivot retest, volume profile, and candle
// pattern predicates into a READY selection (spec.md §4.3).
package entry

import (
	"sort"

	"github.com/shopspring/decimal"

	"tradeengine/internal/config"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/model"
)

// epsilon guards the potentialRR division against a zero stop distance.
var epsilon = decimal.NewFromFloat(0.0001)

// Evaluator scores one pending signal at a time against the current
// candle (EvaluateOne); the caller walks the watchlist and SelectBest
// picks the best READY candidate. Grounded on the teacher's per-candle
// decision loop in decision/engine.go.
type Evaluator struct {
	cfg      *config.Config
	candles  *market.CandleHistory
	pivots   *market.PivotClient
	log      *logger.Logger
}

// New constructs an Evaluator bound to shared candle history and pivot
// client instances.
func New(cfg *config.Config, candles *market.CandleHistory, pivots *market.PivotClient) *Evaluator {
	return &Evaluator{cfg: cfg, candles: candles, pivots: pivots, log: logger.With("component", "entry")}
}

// Readiness is the outcome of evaluating one pending signal against the
// current candle.
type Readiness struct {
	Signal      *model.PendingSignal
	Ready       bool
	StopLoss    decimal.Decimal
	Target      decimal.Decimal
	PotentialRR decimal.Decimal
}

// inGoldenWindow reports whether a wall-clock "HH:MM" time falls within
// any configured golden window (spec.md §4.3 step 2, "Time window").
func inGoldenWindow(cfg *config.Config, hhmm string) bool {
	for _, w := range cfg.GoldenWindows {
		if w.Start <= hhmm && hhmm <= w.End {
			return true
		}
	}
	return false
}

// evaluateVolume reports whether the candle's volume exceeds the mean of
// the tail-N prior candles by the configured factor. Insufficient history
// passes neutrally (spec.md §4.3 step 2, "Volume profile").
func evaluateVolume(cfg *config.Config, candles *market.CandleHistory, instrumentKey string, curr model.Candle) bool {
	n := cfg.VolumeLookback
	if n <= 0 {
		n = 20
	}
	history := candles.Tail(instrumentKey, n+1)
	// history includes curr as the last element if already appended; drop it.
	if len(history) > 0 && history[len(history)-1].WindowStartMs == curr.WindowStartMs {
		history = history[:len(history)-1]
	}
	if len(history) < n {
		return true
	}
	sum := decimal.Zero
	for _, c := range history {
		sum = sum.Add(c.Volume)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(history))))
	if mean.IsZero() {
		return true
	}
	threshold := mean.Mul(decimal.NewFromFloat(cfg.VolumeFactor))
	return curr.Volume.GreaterThan(threshold)
}

// evaluateCandlePattern checks the bullish/bearish engulfing predicate
// (spec.md §4.3 step 2, "Candle pattern").
func evaluateCandlePattern(prev, curr model.Candle, direction model.SignalDirection) bool {
	switch direction {
	case model.DirBullish:
		return prev.Close.LessThan(prev.Open) &&
			curr.Close.GreaterThan(curr.Open) &&
			curr.Close.GreaterThanOrEqual(prev.Open) &&
			curr.Open.LessThanOrEqual(prev.Close)
	case model.DirBearish:
		return prev.Close.GreaterThan(prev.Open) &&
			curr.Close.LessThan(curr.Open) &&
			curr.Close.LessThanOrEqual(prev.Open) &&
			curr.Open.GreaterThanOrEqual(prev.Close)
	default:
		return false
	}
}

// updateBreach records or checks the pivot breach-then-reclaim sequence
// on the pending signal (spec.md §4.3 step 2, "Pivot retest"). Returns
// whether the current candle reclaims the pivot after a recorded breach.
func updateBreach(ps *model.PendingSignal, curr model.Candle, direction model.SignalDirection, pivot decimal.Decimal) (reclaimed bool) {
	breached := ps.BreachCandle != nil
	if !breached {
		switch direction {
		case model.DirBullish:
			if curr.Low.LessThanOrEqual(pivot) {
				c := curr
				ps.BreachCandle = &c
				breached = true
			}
		case model.DirBearish:
			if curr.High.GreaterThanOrEqual(pivot) {
				c := curr
				ps.BreachCandle = &c
				breached = true
			}
		}
	}
	if !breached {
		return false
	}
	switch direction {
	case model.DirBullish:
		return curr.Close.GreaterThan(pivot)
	case model.DirBearish:
		return curr.Close.LessThan(pivot)
	default:
		return false
	}
}

// EvaluateOne evaluates a single pending signal against the current
// candle, returning its readiness. pivotData must already be fetched by
// the caller (the pivot client's 2s-timeout HTTP round trip is not made
// from inside this evaluator).
func (e *Evaluator) EvaluateOne(ps *model.PendingSignal, curr model.Candle, hhmm string, pivotData model.PivotData) Readiness {
	direction := ps.Signal.Signal.Normalize()

	if !inGoldenWindow(e.cfg, hhmm) {
		return Readiness{Signal: ps}
	}

	pivot := pivotData.Pivot
	reclaimed := updateBreach(ps, curr, direction, pivot)
	if !reclaimed {
		return Readiness{Signal: ps}
	}

	prev, ok := e.candles.Previous(curr.InstrumentKey)
	if !ok {
		return Readiness{Signal: ps}
	}

	if !evaluateVolume(e.cfg, e.candles, curr.InstrumentKey, curr) {
		return Readiness{Signal: ps}
	}

	if !evaluateCandlePattern(prev, curr, direction) {
		return Readiness{Signal: ps}
	}

	var stopLoss decimal.Decimal
	if direction == model.DirBullish {
		stopLoss = curr.Low.Mul(decimal.NewFromFloat(0.999))
	} else {
		stopLoss = curr.High.Mul(decimal.NewFromFloat(1.001))
	}

	target := market.NextLogicalPivot(curr.Close, direction, pivotData)

	stopDistance := curr.Close.Sub(stopLoss).Abs()
	if stopDistance.LessThan(epsilon) {
		stopDistance = epsilon
	}
	potentialRR := target.Sub(curr.Close).Abs().Div(stopDistance)

	return Readiness{
		Signal:      ps,
		Ready:       true,
		StopLoss:    stopLoss,
		Target:      target,
		PotentialRR: potentialRR,
	}
}

// SelectBest picks the READY signal with the largest potentialRR, ties
// broken by earliest admittedAt, then lexicographic scripCode (spec.md
// §4.3 step 3).
func SelectBest(candidates []Readiness) (Readiness, bool) {
	var ready []Readiness
	for _, r := range candidates {
		if r.Ready {
			ready = append(ready, r)
		}
	}
	if len(ready) == 0 {
		return Readiness{}, false
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if !a.PotentialRR.Equal(b.PotentialRR) {
			return a.PotentialRR.GreaterThan(b.PotentialRR)
		}
		if !a.Signal.AdmittedAt.Equal(b.Signal.AdmittedAt) {
			return a.Signal.AdmittedAt.Before(b.Signal.AdmittedAt)
		}
		return a.Signal.ScripCode() < b.Signal.ScripCode()
	})

	return ready[0], true
}
