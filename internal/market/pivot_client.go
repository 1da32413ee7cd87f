package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/internal/xerr"
)

// pivotCacheEntry caches one (instrument, sessionDate) pivot record,
// grounded on the teacher's FundingRateCache pattern (market/data.go).
type pivotCacheEntry struct {
	data      model.PivotData
	fetchedAt time.Time
}

type pivotCacheKey struct {
	scripCode string
	date      string
}

// PivotClient fetches daily pivot levels via the external pivot service
// (spec.md §6: GET /api/pivots/calculate-targets/{scripCode}) and caches
// the result per (scripCode, sessionDate) until the next session's fetch
// (spec.md §3, PivotData lifecycle).
type PivotClient struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger

	mu    sync.RWMutex
	cache map[pivotCacheKey]pivotCacheEntry
}

// NewPivotClient constructs a client against the pivot service baseURL,
// with the spec's 2s timeout (spec.md §6).
func NewPivotClient(baseURL string) *PivotClient {
	return &PivotClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
		log:     logger.With("component", "pivot_client"),
		cache:   make(map[pivotCacheKey]pivotCacheEntry),
	}
}

type pivotAPIResponse struct {
	Pivot     float64 `json:"pivot"`
	Support1  float64 `json:"support1"`
	Support2  float64 `json:"support2"`
	Support3  float64 `json:"support3"`
	Support4  float64 `json:"support4"`
	Resistance1 float64 `json:"resistance1"`
	Resistance2 float64 `json:"resistance2"`
	Resistance3 float64 `json:"resistance3"`
	Resistance4 float64 `json:"resistance4"`
}

// Get returns cached pivot data if present for the given session date,
// otherwise fetches and caches it. currentPrice/signalType are forwarded
// to the service per its query contract.
func (c *PivotClient) Get(ctx context.Context, scripCode string, sessionDate time.Time, currentPrice decimal.Decimal, signalType model.SignalDirection) (model.PivotData, error) {
	key := pivotCacheKey{scripCode: scripCode, date: sessionDate.Format("2006-01-02")}

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return entry.data, nil
	}

	if c.baseURL == "" {
		return model.PivotData{}, xerr.New(xerr.PivotUnavailable, "pivot service not configured")
	}

	u := fmt.Sprintf("%s/api/pivots/calculate-targets/%s?%s", c.baseURL, url.PathEscape(scripCode), url.Values{
		"currentPrice": {currentPrice.String()},
		"signalType":   {string(signalType)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.PivotData{}, xerr.Wrap(xerr.PivotUnavailable, "building pivot request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warnf("pivot fetch failed for %s: %v", scripCode, err)
		return model.PivotData{}, xerr.Wrap(xerr.PivotUnavailable, "pivot service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.PivotData{}, xerr.New(xerr.PivotUnavailable, "pivot service status "+strconv.Itoa(resp.StatusCode))
	}

	var body pivotAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.PivotData{}, xerr.Wrap(xerr.PivotUnavailable, "decoding pivot response", err)
	}

	data := model.PivotData{
		ScripCode: scripCode,
		Date:      sessionDate,
		Pivot:     decimal.NewFromFloat(body.Pivot),
		S1:        decimal.NewFromFloat(body.Support1),
		S2:        decimal.NewFromFloat(body.Support2),
		S3:        decimal.NewFromFloat(body.Support3),
		S4:        decimal.NewFromFloat(body.Support4),
		R1:        decimal.NewFromFloat(body.Resistance1),
		R2:        decimal.NewFromFloat(body.Resistance2),
		R3:        decimal.NewFromFloat(body.Resistance3),
		R4:        decimal.NewFromFloat(body.Resistance4),
		FetchedAt: time.Now(),
	}

	c.mu.Lock()
	c.cache[key] = pivotCacheEntry{data: data, fetchedAt: time.Now()}
	c.mu.Unlock()

	return data, nil
}

// EvictBefore drops cached pivots for sessions strictly before cutoff,
// implementing "evicted thereafter" from spec.md §3.
func (c *PivotClient) EvictBefore(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoffStr := cutoff.Format("2006-01-02")
	for k := range c.cache {
		if k.date < cutoffStr {
			delete(c.cache, k)
		}
	}
}

// Warm injects a pivot record directly into cache, used by tests and by
// an offline precompute step.
func (c *PivotClient) Warm(data model.PivotData) {
	key := pivotCacheKey{scripCode: data.ScripCode, date: data.Date.Format("2006-01-02")}
	c.mu.Lock()
	c.cache[key] = pivotCacheEntry{data: data, fetchedAt: time.Now()}
	c.mu.Unlock()
}

// NextLogicalPivot returns the nearest pivot level beyond currentPrice in
// the direction of the trade (spec.md §4.3 step 2): for BULLISH, the
// smallest resistance above close; for BEARISH, the largest support below
// close.
func NextLogicalPivot(close decimal.Decimal, direction model.SignalDirection, data model.PivotData) decimal.Decimal {
	if direction == model.DirBullish {
		for _, r := range data.ResistancesAscending() {
			if r.GreaterThan(close) {
				return r
			}
		}
		return data.R4
	}
	for _, s := range data.SupportsAscending() {
		if s.LessThan(close) {
			return s
		}
	}
	return data.S4
}
