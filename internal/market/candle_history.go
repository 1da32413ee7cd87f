package market

import (
	"sync"

	"tradeengine/internal/model"
)

// DefaultCandleCap is the rolling tail length per instrument (spec.md §3).
const DefaultCandleCap = 100

// ring is a per-instrument bounded, append-ordered candle tail, grounded
// on the teacher's VWAPCollector bar buffer (trader/vwap_collector.go).
type ring struct {
	mu    sync.RWMutex
	cap   int
	bars  []model.Candle
	lastWindowStart int64
}

func newRing(cap int) *ring {
	if cap <= 0 {
		cap = DefaultCandleCap
	}
	return &ring{cap: cap, bars: make([]model.Candle, 0, cap)}
}

func (r *ring) append(c model.Candle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Late-candle drop: any candle whose window does not start after the
	// last appended one is dropped, keeping the tail strictly ordered.
	if len(r.bars) > 0 && c.WindowStartMs <= r.lastWindowStart {
		return false
	}
	r.bars = append(r.bars, c)
	if len(r.bars) > r.cap {
		r.bars = r.bars[len(r.bars)-r.cap:]
	}
	r.lastWindowStart = c.WindowStartMs
	return true
}

func (r *ring) tail(n int) []model.Candle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.bars) {
		n = len(r.bars)
	}
	out := make([]model.Candle, n)
	copy(out, r.bars[len(r.bars)-n:])
	return out
}

func (r *ring) last() (model.Candle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bars) == 0 {
		return model.Candle{}, false
	}
	return r.bars[len(r.bars)-1], true
}

func (r *ring) previous() (model.Candle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bars) < 2 {
		return model.Candle{}, false
	}
	return r.bars[len(r.bars)-2], true
}

func (r *ring) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bars)
}

// CandleHistory is the bounded ring of recent 1-minute candles per
// instrument (C3, spec.md §2, §3).
type CandleHistory struct {
	cap int
	mu  sync.Mutex
	rings map[string]*ring
}

// NewCandleHistory constructs a CandleHistory with the given per-instrument
// rolling tail length (default 100 per spec.md §3).
func NewCandleHistory(capPerInstrument int) *CandleHistory {
	return &CandleHistory{cap: capPerInstrument, rings: make(map[string]*ring)}
}

func (h *CandleHistory) ringFor(instrumentKey string) *ring {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rings[instrumentKey]
	if !ok {
		r = newRing(h.cap)
		h.rings[instrumentKey] = r
	}
	return r
}

// Append adds a new candle for an instrument, enforcing strict
// windowStartMs ordering and dropping late candles (spec.md §5). Returns
// false if the candle was dropped as late.
func (h *CandleHistory) Append(c model.Candle) bool {
	return h.ringFor(c.InstrumentKey).append(c)
}

// Tail returns up to n most recent candles for an instrument, oldest
// first.
func (h *CandleHistory) Tail(instrumentKey string, n int) []model.Candle {
	h.mu.Lock()
	r, ok := h.rings[instrumentKey]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return r.tail(n)
}

// Last returns the most recent candle for an instrument.
func (h *CandleHistory) Last(instrumentKey string) (model.Candle, bool) {
	h.mu.Lock()
	r, ok := h.rings[instrumentKey]
	h.mu.Unlock()
	if !ok {
		return model.Candle{}, false
	}
	return r.last()
}

// Previous returns the second-most-recent candle for an instrument.
func (h *CandleHistory) Previous(instrumentKey string) (model.Candle, bool) {
	h.mu.Lock()
	r, ok := h.rings[instrumentKey]
	h.mu.Unlock()
	if !ok {
		return model.Candle{}, false
	}
	return r.previous()
}

// Len reports how many candles are buffered for an instrument.
func (h *CandleHistory) Len(instrumentKey string) int {
	h.mu.Lock()
	r, ok := h.rings[instrumentKey]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return r.len()
}

// IsEmpty reports whether no candles have been buffered yet, used by
// ingress to decide whether to preload history (spec.md §4.1 step 6).
func (h *CandleHistory) IsEmpty(instrumentKey string) bool {
	return h.Len(instrumentKey) == 0
}
