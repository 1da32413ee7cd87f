// Package watchlist implements the Pending Watchlist (C4): a keyed store
// of signals admitted from ingress and awaiting entry confirmation.
package watchlist

import (
	"sync"
	"time"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"
)

// Watchlist is a keyed map scripCode -> PendingSignal. Newer admissions for
// the same instrument unconditionally replace older ones; this is an
// intentional recency-over-age policy, not a bug.
type Watchlist struct {
	mu  sync.RWMutex
	log *logger.Logger
	m   map[string]*model.PendingSignal
}

// New constructs an empty Watchlist.
func New() *Watchlist {
	return &Watchlist{
		log: logger.With("component", "watchlist"),
		m:   make(map[string]*model.PendingSignal),
	}
}

// Admit inserts or replaces the pending signal for its scripCode. If an
// older pending signal occupied the slot, it is logged and discarded.
func (w *Watchlist) Admit(ps *model.PendingSignal) {
	key := ps.ScripCode()
	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.m[key]; ok {
		w.log.Infof("watchlist: replacing pending signal for %s (signalId=%s, admittedAt=%s) with newer admission (signalId=%s)",
			key, existing.Signal.SignalID, existing.AdmittedAt.Format(time.RFC3339), ps.Signal.SignalID)
	}
	w.m[key] = ps
}

// Remove drops the pending signal for scripCode, if any.
func (w *Watchlist) Remove(scripCode string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.m, scripCode)
}

// Clear empties the watchlist entirely, used on entry submission under the
// single-active-trade discipline.
func (w *Watchlist) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.m = make(map[string]*model.PendingSignal)
}

// All returns a snapshot slice of every pending signal, safe to range over
// without holding the watchlist's lock.
func (w *Watchlist) All() []*model.PendingSignal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*model.PendingSignal, 0, len(w.m))
	for _, ps := range w.m {
		out = append(out, ps)
	}
	return out
}

// ForScrip returns the pending signal for one instrument, if present.
func (w *Watchlist) ForScrip(scripCode string) (*model.PendingSignal, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ps, ok := w.m[scripCode]
	return ps, ok
}

// Len reports how many pending signals are currently held.
func (w *Watchlist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.m)
}

// ExpireOlderThan removes every pending signal whose expiresAt has passed
// as of now, returning the removed signals so the caller can emit
// EXPIRED RiskEvents.
func (w *Watchlist) ExpireOlderThan(now time.Time) []*model.PendingSignal {
	w.mu.Lock()
	defer w.mu.Unlock()

	var expired []*model.PendingSignal
	for key, ps := range w.m {
		if !ps.ExpiresAt.After(now) {
			expired = append(expired, ps)
			delete(w.m, key)
		}
	}
	return expired
}
