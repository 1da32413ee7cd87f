package ingress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/bus"
	"tradeengine/internal/config"
	"tradeengine/internal/hours"
	"tradeengine/internal/market"
	"tradeengine/internal/model"
	"tradeengine/internal/risk"
	"tradeengine/internal/watchlist"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func testConfig(t *testing.T) *config.Config {
	zone, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return &config.Config{
		MaxSignalAge:       2 * time.Minute,
		IdempotencyTTL:     24 * time.Hour,
		MinMove:            0.02,
		MaxStopDistance:    0.02,
		MinRR:              1.5,
		MaxInstrumentShare: 0.3,
		Zone:               zone,
		ExchangeHours: map[string]config.ExchangeHours{
			"NSE": {Open: "09:00", Close: "15:30"},
			"MCX": {Open: "09:00", Close: "23:30"},
		},
		GoldenWindows: []config.GoldenWindow{{Start: "09:20", End: "10:30"}},
	}
}

func newProcessor(t *testing.T, nowFn func() time.Time) (*SignalProcessor, *watchlist.Watchlist) {
	cfg := testConfig(t)
	watch := watchlist.New()
	pol := risk.New(cfg)
	gate := hours.New(cfg)
	p := NewSignalProcessor(cfg, watch, pol, gate, nil, nil, nil)
	p.now = nowFn
	return p, watch
}

func sampleSignal(ts time.Time) model.StrategySignal {
	return model.StrategySignal{
		SignalID:    "sig-1",
		ScripCode:   "RELIANCE",
		Signal:      model.DirBullish,
		EntryPrice:  d("100"),
		StopLoss:    d("99"),
		Target1:     d("103"),
		Exchange:    "NSE",
		TimestampMs: ts.UnixMilli(),
	}
}

func TestProcessAdmitsValidSignal(t *testing.T) {
	// 09:25 IST is inside both exchange hours and the golden window.
	zone, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2026, 7, 30, 9, 25, 0, 0, zone)
	p, watch := newProcessor(t, func() time.Time { return now })

	err := p.Process(context.Background(), sampleSignal(now))
	require.NoError(t, err)

	ps, ok := watch.ForScrip("RELIANCE")
	require.True(t, ok)
	assert.True(t, ps.Signal.EntryPrice.Equal(d("100")))
}

func TestProcessDropsDuplicate(t *testing.T) {
	zone, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2026, 7, 30, 9, 25, 0, 0, zone)
	p, _ := newProcessor(t, func() time.Time { return now })

	require.NoError(t, p.Process(context.Background(), sampleSignal(now)))
	err := p.Process(context.Background(), sampleSignal(now))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_DUPLICATE")
}

func TestProcessDropsStaleSignal(t *testing.T) {
	zone, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2026, 7, 30, 9, 25, 0, 0, zone)
	p, _ := newProcessor(t, func() time.Time { return now })

	stale := sampleSignal(now.Add(-10 * time.Minute))
	err := p.Process(context.Background(), stale)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_STALE")
}

func TestProcessDropsOutsideHours(t *testing.T) {
	zone, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2026, 7, 30, 20, 0, 0, 0, zone) // NSE closed by 20:00
	p, _ := newProcessor(t, func() time.Time { return now })

	err := p.Process(context.Background(), sampleSignal(now))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_OUT_OF_HOURS")
}

func TestProcessDropsRiskReject(t *testing.T) {
	zone, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2026, 7, 30, 9, 25, 0, 0, zone)
	p, _ := newProcessor(t, func() time.Time { return now })

	sig := sampleSignal(now)
	sig.StopLoss = d("97.9") // 2.1% away, exceeds MaxStopDistance
	err := p.Process(context.Background(), sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_RISK_REJECT")
}

func TestHandleAcksOnDrop(t *testing.T) {
	zone, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2026, 7, 30, 20, 0, 0, 0, zone)
	p, _ := newProcessor(t, func() time.Time { return now })

	acked := false
	payload, _ := json.Marshal(sampleSignal(now))
	msg := bus.Message{Value: payload, Ack: func() { acked = true }}

	err := p.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, acked)
}

func TestHandleAcksOnMalformedPayload(t *testing.T) {
	p, _ := newProcessor(t, time.Now)
	acked := false
	msg := bus.Message{Value: []byte("not json"), Ack: func() { acked = true }}

	err := p.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, acked)
}

func TestMarketDataConsumerUpdatesPriceCacheAndCandleHistory(t *testing.T) {
	prices := market.NewPriceCache(5 * time.Second)
	candles := market.NewCandleHistory(50)

	var gotTick model.Tick
	var gotCandle model.Candle
	c := NewMarketDataConsumer(prices, candles, func(tk model.Tick) { gotTick = tk }, func(cd model.Candle) { gotCandle = cd })

	tickPayload, _ := json.Marshal(wireTick{InstrumentKey: "RELIANCE", LastRate: d("101.5"), TimeMs: time.Now().UnixMilli()})
	acked := false
	require.NoError(t, c.HandleTick(context.Background(), bus.Message{Value: tickPayload, Ack: func() { acked = true }}))
	assert.True(t, acked)
	assert.Equal(t, "RELIANCE", gotTick.InstrumentKey)
	last, ok := prices.LastTrade("RELIANCE")
	require.True(t, ok)
	assert.True(t, last.Equal(d("101.5")))

	candlePayload, _ := json.Marshal(wireCandle{InstrumentKey: "RELIANCE", Open: d("100"), High: d("102"), Low: d("99"), Close: d("101")})
	acked = false
	require.NoError(t, c.HandleCandle(context.Background(), bus.Message{Value: candlePayload, Ack: func() { acked = true }}))
	assert.True(t, acked)
	assert.Equal(t, "RELIANCE", gotCandle.InstrumentKey)
	assert.Equal(t, 1, candles.Len("RELIANCE"))
}
