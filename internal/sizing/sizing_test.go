package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"tradeengine/internal/config"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func testConfig() *config.Config {
	return &config.Config{RiskPerTrade: 0.01}
}

func TestComputeBaseCase(t *testing.T) {
	s := New(testConfig())
	// baseRisk = 1,000,000 * 0.01 = 10,000. stopDistance = 20. raw = 500.
	size := s.Compute(Input{
		AccountValue: d("1000000"),
		EntryPrice:   d("2500"),
		StopLoss:     d("2480"),
		LotSize:      1,
	})
	assert.Equal(t, int64(500), size)
}

func TestComputeZeroStopDistance(t *testing.T) {
	s := New(testConfig())
	size := s.Compute(Input{AccountValue: d("1000000"), EntryPrice: d("100"), StopLoss: d("100"), LotSize: 1})
	assert.Equal(t, int64(0), size)
}

func TestComputeConfidenceScaling(t *testing.T) {
	s := New(testConfig())
	conf := 0.0 // confidence multiplier -> 0.5
	size := s.Compute(Input{
		AccountValue: d("1000000"), EntryPrice: d("2500"), StopLoss: d("2480"),
		MLConfidence: &conf, LotSize: 1,
	})
	assert.Equal(t, int64(250), size)
}

func TestComputeLotRounding(t *testing.T) {
	s := New(testConfig())
	// raw = 10000/20 = 500, lot=75 -> floor(500/75)=6 -> 450
	size := s.Compute(Input{AccountValue: d("1000000"), EntryPrice: d("2500"), StopLoss: d("2480"), LotSize: 75})
	assert.Equal(t, int64(450), size)
}

func TestComputeMaxPositionValueCap(t *testing.T) {
	s := New(testConfig())
	size := s.Compute(Input{
		AccountValue: d("1000000"), EntryPrice: d("2500"), StopLoss: d("2480"),
		LotSize: 1, MaxPositionValue: d("100000"),
	})
	// maxBySize = 100000/2500 = 40
	assert.Equal(t, int64(40), size)
}

func TestComputeSignalMultiplierClipped(t *testing.T) {
	s := New(testConfig())
	size := s.Compute(Input{
		AccountValue: d("1000000"), EntryPrice: d("2500"), StopLoss: d("2480"),
		LotSize: 1, PositionSizeMultiplier: 5.0, // clipped to 2.0
	})
	assert.Equal(t, int64(1000), size)
}
