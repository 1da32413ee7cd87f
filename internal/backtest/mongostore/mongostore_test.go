package mongostore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"tradeengine/internal/backtest"
)

func TestDocRoundtripPreservesDecimalPrecision(t *testing.T) {
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	result := backtest.Result{
		RunID:       "run-1",
		StrategyID:  "pivot-retest-v1",
		ScripCode:   "RELIANCE",
		WindowStart: now.Add(-24 * time.Hour),
		WindowEnd:   now,
		TotalTrades: 42,
		WinRate:     decimal.RequireFromString("0.5714"),
		NetPnL:      decimal.RequireFromString("18250.75"),
		MaxDrawdown: decimal.RequireFromString("-3400.00"),
		SharpeRatio: decimal.RequireFromString("1.82"),
		CreatedAt:   now,
	}

	doc := toDoc(result)
	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, "0.5714", doc.WinRate)

	roundtripped := fromDoc(doc)
	assert.True(t, roundtripped.WinRate.Equal(result.WinRate))
	assert.True(t, roundtripped.NetPnL.Equal(result.NetPnL))
	assert.True(t, roundtripped.MaxDrawdown.Equal(result.MaxDrawdown))
	assert.True(t, roundtripped.SharpeRatio.Equal(result.SharpeRatio))
	assert.Equal(t, result.RunID, roundtripped.RunID)
	assert.Equal(t, result.TotalTrades, roundtripped.TotalTrades)
}

func TestMustDecimalFallsBackToZeroOnGarbage(t *testing.T) {
	assert.True(t, mustDecimal("not-a-number").Equal(decimal.Zero))
}
