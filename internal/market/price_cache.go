// Package market implements the price cache (C1), pivot client (C2), and
// candle history (C3) components of spec.md §2.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/model"
)

// DefaultPriceTTL bounds how long a cached tick is considered fresh
// before a reader should treat it as stale (spec.md §5, "readers must
// tolerate staleness bounded by the producer's publish cadence").
const DefaultPriceTTL = 5 * time.Second

type priceEntry struct {
	tick      model.Tick
	updatedAt time.Time
}

// PriceCache is the last-trade / best-bid-ask cache per instrument,
// grounded on the teacher's sync.Map + TTL cache idiom for funding rates
// (market/data.go, fundingRateMap/frCacheTTL).
type PriceCache struct {
	ttl time.Duration
	mu  sync.RWMutex
	m   map[string]priceEntry
}

// NewPriceCache constructs a PriceCache with the given freshness TTL.
func NewPriceCache(ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceCache{ttl: ttl, m: make(map[string]priceEntry)}
}

// Update records the latest tick for an instrument (last-writer-wins,
// spec.md §5).
func (c *PriceCache) Update(tick model.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[tick.InstrumentKey] = priceEntry{tick: tick, updatedAt: time.Now()}
}

// Get returns the last tick for an instrument and whether it is still
// within the freshness TTL.
func (c *PriceCache) Get(instrumentKey string) (model.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[instrumentKey]
	if !ok {
		return model.Tick{}, false
	}
	fresh := time.Since(e.updatedAt) <= c.ttl
	return e.tick, fresh
}

// BestBidAsk returns the cached best bid/ask for spread-aware limit
// pricing (spec.md §4.6 step 5, §6 "orderbook:{scripCode}:latest").
func (c *PriceCache) BestBidAsk(instrumentKey string) (bid, ask decimal.Decimal, ok bool) {
	t, fresh := c.Get(instrumentKey)
	if !fresh {
		return decimal.Zero, decimal.Zero, false
	}
	return t.BidRate, t.OfferRate, true
}

// LastTrade returns the cached last-traded price.
func (c *PriceCache) LastTrade(instrumentKey string) (decimal.Decimal, bool) {
	t, fresh := c.Get(instrumentKey)
	if !fresh {
		return decimal.Zero, false
	}
	return t.LastRate, true
}
