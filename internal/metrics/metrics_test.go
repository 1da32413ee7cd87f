package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTradeClassifiesWinLoss(t *testing.T) {
	RecordTrade("RELIANCE-TEST", true)
	RecordTrade("RELIANCE-TEST", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(TradesTotal.WithLabelValues("RELIANCE-TEST", "win")))
	assert.Equal(t, float64(1), testutil.ToFloat64(TradesTotal.WithLabelValues("RELIANCE-TEST", "loss")))
}

func TestUpdateAndClearPosition(t *testing.T) {
	UpdatePosition("TCS-TEST", "BULLISH", 150.5, 1.2, 2)
	assert.Equal(t, 150.5, testutil.ToFloat64(PositionUnrealizedPnL.WithLabelValues("TCS-TEST", "BULLISH")))

	ClearPosition("TCS-TEST", "BULLISH")
	// ClearPosition must not panic on an already-cleared series.
	ClearPosition("TCS-TEST", "BULLISH")
}

func TestUpdatePortfolioSetsCircuitBreakerGauge(t *testing.T) {
	UpdatePortfolio(1_000_000, 0.02, 0.05, true)
	assert.Equal(t, float64(1), testutil.ToFloat64(CircuitBreakerTripped))

	UpdatePortfolio(1_000_000, 0.02, 0.05, false)
	assert.Equal(t, float64(0), testutil.ToFloat64(CircuitBreakerTripped))
}
