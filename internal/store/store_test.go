package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
)

func newTestStore(t *testing.T) *Store {
	path := filepath.Join(t.TempDir(), "engine.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListTradeResults(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	tr := model.TradeResult{
		TradeID:               "trade-1",
		ScripCode:              "RELIANCE",
		Direction:              model.DirBuy,
		EntryPrice:             decimal.RequireFromString("100"),
		ExitPrice:              decimal.RequireFromString("106"),
		EntryTime:              now,
		ExitTime:               now.Add(30 * time.Minute),
		PositionSize:           10,
		PnL:                    decimal.RequireFromString("60"),
		RMultiple:              decimal.RequireFromString("2"),
		ExitReason:             model.ExitTarget1,
		DurationMinutes:        30,
		MaxFavorableExcursion:  decimal.RequireFromString("65"),
		MaxAdverseExcursion:    decimal.RequireFromString("-10"),
	}
	require.NoError(t, s.SaveTradeResult(tr))

	results, err := s.ListTradeResults(10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "trade-1", results[0].TradeID)
	assert.True(t, results[0].PnL.Equal(decimal.RequireFromString("60")))
}

func TestSaveAndListRiskEvents(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)

	ev := model.RiskEvent{
		EventID:          "evt-1",
		Type:             "DAILY_LOSS",
		Severity:         model.SeverityCritical,
		Message:          "daily loss limit breached",
		CurrentValue:     decimal.RequireFromString("5000"),
		LimitValue:       decimal.RequireFromString("4000"),
		ThresholdPercent: 125,
		Timestamp:        now,
		Scope:            "portfolio",
	}
	require.NoError(t, s.SaveRiskEvent(ev))

	events, err := s.ListRiskEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].EventID)
	assert.True(t, events[0].CurrentValue.Equal(decimal.RequireFromString("5000")))
}

func TestIdempotencyKeyPersistenceRoundtrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	seen, err := s.SeenIdempotencyKey("sig-1", time.Hour, now)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkIdempotencyKey("sig-1", now))

	seen, err = s.SeenIdempotencyKey("sig-1", time.Hour, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.SeenIdempotencyKey("sig-1", time.Hour, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEvictIdempotencyKeysBefore(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkIdempotencyKey("old", now.Add(-48*time.Hour)))
	require.NoError(t, s.MarkIdempotencyKey("fresh", now))

	require.NoError(t, s.EvictIdempotencyKeysBefore(now.Add(-24*time.Hour)))

	seen, err := s.SeenIdempotencyKey("old", 72*time.Hour, now)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.SeenIdempotencyKey("fresh", 72*time.Hour, now)
	require.NoError(t, err)
	assert.True(t, seen)
}

type walletSnapshot struct {
	ScripCode string          `json:"scripCode"`
	Size      int64           `json:"size"`
	AvgPrice  decimal.Decimal `json:"avgPrice"`
}

func TestKVSetGetDelete(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.KVGet("virtual:positions:RELIANCE", &walletSnapshot{})
	require.NoError(t, err)
	assert.False(t, ok)

	snap := walletSnapshot{ScripCode: "RELIANCE", Size: 10, AvgPrice: decimal.RequireFromString("102.5")}
	require.NoError(t, s.KVSet("virtual:positions:RELIANCE", snap))

	var got walletSnapshot
	ok, err = s.KVGet("virtual:positions:RELIANCE", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.ScripCode, got.ScripCode)
	assert.Equal(t, snap.Size, got.Size)
	assert.True(t, snap.AvgPrice.Equal(got.AvgPrice))

	require.NoError(t, s.KVDelete("virtual:positions:RELIANCE"))
	ok, err = s.KVGet("virtual:positions:RELIANCE", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
