package entry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/config"
	"tradeengine/internal/market"
	"tradeengine/internal/model"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func testConfig() *config.Config {
	return &config.Config{
		GoldenWindows:  []config.GoldenWindow{{Start: "09:20", End: "10:30"}},
		VolumeFactor:   1.2,
		VolumeLookback: 3,
	}
}

func candle(instr string, startMs int64, open, high, low, close, vol string) model.Candle {
	return model.Candle{
		InstrumentKey: instr, WindowStartMs: startMs, WindowEndMs: startMs + 60000,
		Open: d(open), High: d(high), Low: d(low), Close: d(close), Volume: d(vol),
	}
}

func TestEvaluateOneOutsideGoldenWindow(t *testing.T) {
	cfg := testConfig()
	candles := market.NewCandleHistory(10)
	pivots := market.NewPivotClient("")
	ev := New(cfg, candles, pivots)

	ps := &model.PendingSignal{Signal: model.StrategySignal{ScripCode: "A", Signal: model.DirBullish}}
	curr := candle("A", 1000, "100", "101", "99", "100.5", "500")

	r := ev.EvaluateOne(ps, curr, "08:00", model.PivotData{Pivot: d("100")})
	assert.False(t, r.Ready)
}

func TestEvaluateOneFullSequenceReady(t *testing.T) {
	cfg := testConfig()
	candles := market.NewCandleHistory(10)
	pivots := market.NewPivotClient("")
	ev := New(cfg, candles, pivots)

	pivotData := model.PivotData{
		Pivot: d("100"),
		R1: d("105"), R2: d("110"), R3: d("115"), R4: d("120"),
	}

	// build volume history: 3 prior candles averaging 100 volume
	for i := int64(0); i < 3; i++ {
		candles.Append(candle("A", 1000+i*60000, "99", "100", "98", "99.5", "100"))
	}

	ps := &model.PendingSignal{Signal: model.StrategySignal{ScripCode: "A", Signal: model.DirBullish}}

	// breach candle: low <= pivot(100)
	breach := candle("A", 1000+3*60000, "101", "101.5", "99", "99.8", "50")
	candles.Append(breach)
	r := ev.EvaluateOne(ps, breach, "09:30", pivotData)
	assert.False(t, r.Ready) // breach only, not reclaimed yet; also engulfing not checked since not reclaimed

	// reclaim + bullish engulfing candle, high volume
	reclaim := candle("A", 1000+4*60000, "99", "103", "98.5", "102", "200")
	candles.Append(reclaim)
	r2 := ev.EvaluateOne(ps, reclaim, "09:35", pivotData)
	require.True(t, r2.Ready)
	assert.True(t, r2.Target.Equal(d("105")))
}

func TestSelectBestByPotentialRR(t *testing.T) {
	now := time.Now()
	a := Readiness{Ready: true, PotentialRR: d("1.5"), Signal: &model.PendingSignal{Signal: model.StrategySignal{ScripCode: "A"}, AdmittedAt: now}}
	b := Readiness{Ready: true, PotentialRR: d("2.5"), Signal: &model.PendingSignal{Signal: model.StrategySignal{ScripCode: "B"}, AdmittedAt: now}}
	c := Readiness{Ready: false, PotentialRR: d("9"), Signal: &model.PendingSignal{Signal: model.StrategySignal{ScripCode: "C"}, AdmittedAt: now}}

	best, ok := SelectBest([]Readiness{a, b, c})
	require.True(t, ok)
	assert.Equal(t, "B", best.Signal.ScripCode())
}

func TestSelectBestTieBreakByAdmittedAt(t *testing.T) {
	earlier := time.Now()
	later := earlier.Add(time.Second)
	a := Readiness{Ready: true, PotentialRR: d("2.0"), Signal: &model.PendingSignal{Signal: model.StrategySignal{ScripCode: "Z"}, AdmittedAt: later}}
	b := Readiness{Ready: true, PotentialRR: d("2.0"), Signal: &model.PendingSignal{Signal: model.StrategySignal{ScripCode: "A"}, AdmittedAt: earlier}}

	best, ok := SelectBest([]Readiness{a, b})
	require.True(t, ok)
	assert.Equal(t, "A", best.Signal.ScripCode())
}

func TestSelectBestNoneReady(t *testing.T) {
	_, ok := SelectBest([]Readiness{{Ready: false}})
	assert.False(t, ok)
}
