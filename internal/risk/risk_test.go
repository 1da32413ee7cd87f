package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/config"
	"tradeengine/internal/model"
	"tradeengine/internal/xerr"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func testConfig() *config.Config {
	return &config.Config{
		MinMove:                0.02,
		MaxStopDistance:        0.02,
		MinRR:                  1.5,
		MaxPositionRisk:        0.01,
		MaxExposurePct:         0.15,
		MaxInstrumentShare:     0.30,
		MaxDailyLoss:           0.03,
		MaxDrawdown:            0.15,
		MaxConcurrentPositions: 1,
	}
}

func TestValidateSignalAccepts(t *testing.T) {
	p := New(testConfig())
	err := p.ValidateSignal(Candidate{
		ScripCode: "RELIANCE", Direction: model.DirBullish,
		EntryPrice: d("2500"), StopLoss: d("2480"), Target1: d("2560"),
	})
	assert.NoError(t, err)
}

func TestValidateSignalStopTooFar(t *testing.T) {
	p := New(testConfig())
	err := p.ValidateSignal(Candidate{
		ScripCode: "X", Direction: model.DirBullish,
		EntryPrice: d("7.90"), StopLoss: d("7.70"), Target1: d("8.20"),
	})
	require.Error(t, err)
	xe, ok := err.(*xerr.Error)
	require.True(t, ok)
	assert.Equal(t, xerr.ValidationStopTooFar, xe.Code)
}

func TestValidateSignalMinMove(t *testing.T) {
	p := New(testConfig())
	err := p.ValidateSignal(Candidate{
		ScripCode: "Y", Direction: model.DirBullish,
		EntryPrice: d("100"), StopLoss: d("99"), Target1: d("100.5"),
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.ValidationMinMove))
}

func TestValidateSignalDirectionInconsistent(t *testing.T) {
	p := New(testConfig())
	err := p.ValidateSignal(Candidate{
		ScripCode: "Z", Direction: model.DirBullish,
		EntryPrice: d("100"), StopLoss: d("101"), Target1: d("110"),
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.ValidationDirection))
}

func TestCheckPortfolioCircuitBreaker(t *testing.T) {
	p := New(testConfig())
	state := model.PortfolioState{
		AccountValue:          d("1000000"),
		CircuitBreakerTripped: true,
		CircuitBreakerReason:  "daily loss",
	}
	res := p.CheckPortfolio(state, Candidate{ScripCode: "A", EntryPrice: d("100"), StopLoss: d("98")}, 10, time.Now())
	assert.False(t, res.Approved)
	require.NotNil(t, res.Event)
	assert.Equal(t, model.SeverityWarning, res.Event.Severity)
}

func TestCheckPortfolioMaxConcurrent(t *testing.T) {
	p := New(testConfig())
	state := model.PortfolioState{AccountValue: d("1000000"), OpenPositionsCount: 1}
	res := p.CheckPortfolio(state, Candidate{ScripCode: "A", EntryPrice: d("100"), StopLoss: d("98")}, 10, time.Now())
	assert.False(t, res.Approved)
}

func TestCheckPortfolioPerTradeRisk(t *testing.T) {
	p := New(testConfig())
	state := model.PortfolioState{AccountValue: d("100000")} // 1% = 1000
	// risk = (100-50)*100 = 5000 > 1000
	res := p.CheckPortfolio(state, Candidate{ScripCode: "A", EntryPrice: d("100"), StopLoss: d("50")}, 100, time.Now())
	assert.False(t, res.Approved)
}

func TestCheckPortfolioApproves(t *testing.T) {
	p := New(testConfig())
	state := model.PortfolioState{
		AccountValue:         d("1000000"),
		ExposureByInstrument: map[string]decimal.Decimal{},
	}
	res := p.CheckPortfolio(state, Candidate{ScripCode: "A", EntryPrice: d("100"), StopLoss: d("98")}, 10, time.Now())
	assert.True(t, res.Approved)
}

func TestCheckPortfolioEmitsWarningThresholdEvent(t *testing.T) {
	p := New(testConfig())
	state := model.PortfolioState{
		AccountValue:         d("100000"),
		ExposureByInstrument: map[string]decimal.Decimal{},
	}
	// maxPositionRisk = 1000; perTradeRisk = (100-92.5)*100 = 750 => 75%
	res := p.CheckPortfolio(state, Candidate{ScripCode: "A", EntryPrice: d("100"), StopLoss: d("92.5")}, 100, time.Now())
	assert.True(t, res.Approved)
	require.Len(t, res.Thresholds, 1)
	assert.Equal(t, model.SeverityWarning, res.Thresholds[0].Severity)
	assert.Equal(t, "PER_TRADE_RISK_THRESHOLD", res.Thresholds[0].Type)
}

func TestCheckPortfolioEmitsCriticalThresholdEvent(t *testing.T) {
	p := New(testConfig())
	state := model.PortfolioState{
		AccountValue:         d("100000"),
		ExposureByInstrument: map[string]decimal.Decimal{},
	}
	// maxPositionRisk = 1000; perTradeRisk = (100-90.5)*100 = 950 => 95%
	res := p.CheckPortfolio(state, Candidate{ScripCode: "A", EntryPrice: d("100"), StopLoss: d("90.5")}, 100, time.Now())
	assert.True(t, res.Approved)
	require.Len(t, res.Thresholds, 1)
	assert.Equal(t, model.SeverityCritical, res.Thresholds[0].Severity)
}

func TestCheckDrawdownMaxDailyLoss(t *testing.T) {
	p := New(testConfig())
	state := model.PortfolioState{AccountValue: d("1000000"), DailyRealizedPnL: d("-31000")}
	reason := p.CheckDrawdown(state, decimal.Zero)
	assert.NotEmpty(t, reason)
}

func TestCheckDrawdownNoTrip(t *testing.T) {
	p := New(testConfig())
	state := model.PortfolioState{AccountValue: d("1000000"), DailyRealizedPnL: d("-1000"), PeakValue: d("1000000")}
	reason := p.CheckDrawdown(state, decimal.Zero)
	assert.Empty(t, reason)
}
