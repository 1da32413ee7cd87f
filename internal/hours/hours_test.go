package hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	zone, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return &config.Config{
		Zone: zone,
		ExchangeHours: map[string]config.ExchangeHours{
			"NSE": {Open: "09:00", Close: "15:30"},
			"MCX": {Open: "09:00", Close: "23:30"},
		},
		GoldenWindows:    []config.GoldenWindow{{Start: "09:20", End: "10:30"}, {Start: "13:00", End: "14:45"}},
		SessionEndCutoff: "15:20",
	}
}

func kolkataTime(t *testing.T, hhmm string) time.Time {
	zone, _ := time.LoadLocation("Asia/Kolkata")
	parsed, err := time.ParseInLocation("15:04", hhmm, zone)
	require.NoError(t, err)
	return parsed
}

func TestInExchangeHours(t *testing.T) {
	g := New(testConfig(t))
	assert.True(t, g.InExchangeHours("NSE", kolkataTime(t, "10:00")))
	assert.False(t, g.InExchangeHours("NSE", kolkataTime(t, "16:00")))
	assert.True(t, g.InExchangeHours("MCX", kolkataTime(t, "20:00")))
}

func TestInExchangeHoursUnknownFallsBackToNSE(t *testing.T) {
	g := New(testConfig(t))
	assert.True(t, g.InExchangeHours("BSE", kolkataTime(t, "10:00")))
	assert.False(t, g.InExchangeHours("BSE", kolkataTime(t, "16:00")))
}

func TestInGoldenWindow(t *testing.T) {
	g := New(testConfig(t))
	assert.True(t, g.InGoldenWindow(kolkataTime(t, "09:30")))
	assert.True(t, g.InGoldenWindow(kolkataTime(t, "13:30")))
	assert.False(t, g.InGoldenWindow(kolkataTime(t, "11:00")))
}

func TestPastSessionEndCutoff(t *testing.T) {
	g := New(testConfig(t))
	assert.False(t, g.PastSessionEndCutoff(kolkataTime(t, "15:00")))
	assert.True(t, g.PastSessionEndCutoff(kolkataTime(t, "15:25")))
}

func TestInferExchange(t *testing.T) {
	assert.Equal(t, "MCX", InferExchange("MGOLD25JUL", "Gold Futures"))
	assert.Equal(t, "MCX", InferExchange("XYZ", "GOLD"))
	assert.Equal(t, "NSE", InferExchange("RELIANCE", "Reliance Industries"))
}
