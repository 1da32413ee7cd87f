package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestPriceCacheFreshness(t *testing.T) {
	c := NewPriceCache(10 * time.Millisecond)
	c.Update(model.Tick{InstrumentKey: "RELIANCE", LastRate: d("2500.00")})

	price, fresh := c.LastTrade("RELIANCE")
	require.True(t, fresh)
	assert.True(t, price.Equal(d("2500.00")))

	time.Sleep(20 * time.Millisecond)
	_, fresh = c.LastTrade("RELIANCE")
	assert.False(t, fresh)
}

func TestPriceCacheBestBidAsk(t *testing.T) {
	c := NewPriceCache(time.Second)
	c.Update(model.Tick{InstrumentKey: "TCS", BidRate: d("3400.0"), OfferRate: d("3400.5")})

	bid, ask, ok := c.BestBidAsk("TCS")
	require.True(t, ok)
	assert.True(t, bid.Equal(d("3400.0")))
	assert.True(t, ask.Equal(d("3400.5")))

	_, _, ok = c.BestBidAsk("UNKNOWN")
	assert.False(t, ok)
}

func TestCandleHistoryOrderingAndCap(t *testing.T) {
	h := NewCandleHistory(3)

	mk := func(startMs int64, close string) model.Candle {
		return model.Candle{InstrumentKey: "INFY", WindowStartMs: startMs, WindowEndMs: startMs + 60000, Close: d(close)}
	}

	assert.True(t, h.Append(mk(1000, "10")))
	assert.True(t, h.Append(mk(2000, "11")))
	assert.True(t, h.Append(mk(3000, "12")))
	assert.Equal(t, 3, h.Len("INFY"))

	// out of order / duplicate candle is dropped
	assert.False(t, h.Append(mk(1500, "99")))
	assert.Equal(t, 3, h.Len("INFY"))

	// exceeding cap evicts the oldest
	assert.True(t, h.Append(mk(4000, "13")))
	assert.Equal(t, 3, h.Len("INFY"))

	tail := h.Tail("INFY", 3)
	require.Len(t, tail, 3)
	assert.True(t, tail[0].Close.Equal(d("11")))
	assert.True(t, tail[2].Close.Equal(d("13")))

	last, ok := h.Last("INFY")
	require.True(t, ok)
	assert.True(t, last.Close.Equal(d("13")))

	prev, ok := h.Previous("INFY")
	require.True(t, ok)
	assert.True(t, prev.Close.Equal(d("12")))
}

func TestCandleHistoryEmptyInstrument(t *testing.T) {
	h := NewCandleHistory(5)
	assert.True(t, h.IsEmpty("NOPE"))
	assert.Equal(t, 0, h.Len("NOPE"))
	_, ok := h.Last("NOPE")
	assert.False(t, ok)
}

func TestPivotClientCacheHit(t *testing.T) {
	c := NewPivotClient("")
	sessionDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	warm := model.PivotData{
		ScripCode: "RELIANCE",
		Date:      sessionDate,
		Pivot:     d("2500"),
		S1:        d("2480"), S2: d("2460"), S3: d("2440"), S4: d("2420"),
		R1: d("2520"), R2: d("2540"), R3: d("2560"), R4: d("2580"),
	}
	c.Warm(warm)

	got, err := c.Get(nil, "RELIANCE", sessionDate, d("2505"), model.DirBullish)
	require.NoError(t, err)
	assert.True(t, got.Pivot.Equal(d("2500")))
}

func TestPivotClientUnconfiguredMiss(t *testing.T) {
	c := NewPivotClient("")
	sessionDate := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	_, err := c.Get(nil, "WIPRO", sessionDate, d("400"), model.DirBearish)
	assert.Error(t, err)
}

func TestPivotClientEvictBefore(t *testing.T) {
	c := NewPivotClient("")
	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	c.Warm(model.PivotData{ScripCode: "HDFC", Date: old, Pivot: d("1")})
	c.Warm(model.PivotData{ScripCode: "HDFC", Date: recent, Pivot: d("2")})

	c.EvictBefore(time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))

	_, err := c.Get(nil, "HDFC", old, d("1"), model.DirBullish)
	assert.Error(t, err)

	got, err := c.Get(nil, "HDFC", recent, d("2"), model.DirBullish)
	require.NoError(t, err)
	assert.True(t, got.Pivot.Equal(d("2")))
}

func TestNextLogicalPivotBullish(t *testing.T) {
	data := model.PivotData{
		R1: d("2520"), R2: d("2540"), R3: d("2560"), R4: d("2580"),
		S1: d("2480"), S2: d("2460"), S3: d("2440"), S4: d("2420"),
	}
	got := NextLogicalPivot(d("2505"), model.DirBullish, data)
	assert.True(t, got.Equal(d("2520")))
}

func TestNextLogicalPivotBearish(t *testing.T) {
	data := model.PivotData{
		R1: d("2520"), R2: d("2540"), R3: d("2560"), R4: d("2580"),
		S1: d("2480"), S2: d("2460"), S3: d("2440"), S4: d("2420"),
	}
	got := NextLogicalPivot(d("2470"), model.DirBearish, data)
	assert.True(t, got.Equal(d("2460")))
}
