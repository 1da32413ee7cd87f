package ingress

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"tradeengine/internal/bus"
	"tradeengine/internal/logger"
	"tradeengine/internal/market"
	"tradeengine/internal/model"
)

// TickCallback notifies the Position Manager of a fresh tick for
// excursion tracking outside the once-a-minute candle cadence (spec.md
// §4.1 "Market-data ticks (C13) update C1 and C3; C8 re-evaluates").
type TickCallback func(model.Tick)

// CandleCallback notifies the Position Manager / Entry Evaluator of a
// closed 1-minute candle.
type CandleCallback func(model.Candle)

// MarketDataConsumer implements C13: consumes ticks and closed 1-minute
// candles off the bus, feeding the Price Cache (C1) and Candle History
// (C3), then forwarding to the registered callbacks.
type MarketDataConsumer struct {
	prices  *market.PriceCache
	candles *market.CandleHistory

	onTick   TickCallback
	onCandle CandleCallback

	log *logger.Logger
}

// NewMarketDataConsumer wires C13 against the shared C1/C3 caches.
func NewMarketDataConsumer(prices *market.PriceCache, candles *market.CandleHistory, onTick TickCallback, onCandle CandleCallback) *MarketDataConsumer {
	return &MarketDataConsumer{
		prices:   prices,
		candles:  candles,
		onTick:   onTick,
		onCandle: onCandle,
		log:      logger.With("component", "ingress_marketdata"),
	}
}

// wireTick is the on-wire tick payload, kept distinct from model.Tick so
// a field rename upstream doesn't silently change the internal model.
type wireTick struct {
	InstrumentKey string          `json:"instrumentKey"`
	LastRate      decimal.Decimal `json:"lastRate"`
	BidRate       decimal.Decimal `json:"bidRate"`
	OfferRate     decimal.Decimal `json:"offerRate"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	PreviousClose decimal.Decimal `json:"previousClose"`
	TimeMs        int64           `json:"timestamp"`
}

// HandleTick is a bus.Handler over the "market-data" topic.
func (c *MarketDataConsumer) HandleTick(ctx context.Context, msg bus.Message) error {
	var w wireTick
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		c.log.Warnf("ingress_marketdata: tick decode failure (key=%s): %v", msg.Key, err)
		msg.Ack()
		return nil
	}

	tick := model.Tick{
		InstrumentKey: w.InstrumentKey,
		LastRate:      w.LastRate,
		BidRate:       w.BidRate,
		OfferRate:     w.OfferRate,
		High:          w.High,
		Low:           w.Low,
		Open:          w.Open,
		PreviousClose: w.PreviousClose,
		TimeMs:        w.TimeMs,
	}
	c.prices.Update(tick)
	if c.onTick != nil {
		c.onTick(tick)
	}

	msg.Ack()
	return nil
}

type wireCandle struct {
	InstrumentKey string          `json:"instrumentKey"`
	WindowStartMs int64           `json:"windowStart"`
	WindowEndMs   int64           `json:"windowEnd"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Volume        decimal.Decimal `json:"volume"`
}

// HandleCandle is a bus.Handler over the "candles-1m" topic. Every
// closed candle is appended to history before the callback fires, so the
// Entry Evaluator always sees the bar that triggered it already in the
// ring buffer (spec.md §4.3).
func (c *MarketDataConsumer) HandleCandle(ctx context.Context, msg bus.Message) error {
	var w wireCandle
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		c.log.Warnf("ingress_marketdata: candle decode failure (key=%s): %v", msg.Key, err)
		msg.Ack()
		return nil
	}

	candle := model.Candle{
		InstrumentKey: w.InstrumentKey,
		WindowStartMs: w.WindowStartMs,
		WindowEndMs:   w.WindowEndMs,
		Open:          w.Open,
		High:          w.High,
		Low:           w.Low,
		Close:         w.Close,
		Volume:        w.Volume,
	}
	c.candles.Append(candle)
	if c.onCandle != nil {
		c.onCandle(candle)
	}

	msg.Ack()
	return nil
}
