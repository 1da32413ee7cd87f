package paper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/market"
	"tradeengine/internal/model"
	"tradeengine/internal/store"
)

func newTestWallet(t *testing.T, cfg Config) (*Wallet, *market.PriceCache) {
	prices := market.NewPriceCache(time.Minute)
	st, err := store.Open(filepath.Join(t.TempDir(), "paper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	w, err := New(cfg, prices, st)
	require.NoError(t, err)
	return w, prices
}

func TestNewLoadsDefaultCashWhenNoSettingsPersisted(t *testing.T) {
	w, _ := newTestWallet(t, Config{StartingCash: decimal.NewFromInt(50000)})
	assert.True(t, w.Cash().Equal(decimal.NewFromInt(50000)))
}

func TestPlaceOrderFillsMarketBuyAtAskAndDebitsCash(t *testing.T) {
	w, prices := newTestWallet(t, Config{StartingCash: decimal.NewFromInt(100000)})
	prices.Update(model.Tick{InstrumentKey: "RELIANCE", BidRate: decimal.NewFromInt(2500), OfferRate: decimal.NewFromInt(2501)})

	ack, err := w.PlaceOrder(context.Background(), model.OrderRequest{
		Instrument: "RELIANCE",
		Side:       model.SideBuy,
		Quantity:   10,
		Type:       model.OrderMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, "Filled", ack.Status)
	assert.NotEmpty(t, ack.OrderID)

	pos, found, err := w.Position("RELIANCE")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(2501)))

	expectedCash := decimal.NewFromInt(100000).Sub(decimal.NewFromInt(2501 * 10))
	assert.True(t, w.Cash().Equal(expectedCash))
}

func TestPlaceOrderReturnsErrorWithoutFreshPrice(t *testing.T) {
	w, _ := newTestWallet(t, Config{})
	_, err := w.PlaceOrder(context.Background(), model.OrderRequest{
		Instrument: "UNKNOWN",
		Side:       model.SideBuy,
		Quantity:   5,
		Type:       model.OrderMarket,
	})
	assert.Error(t, err)
}

func TestPlaceOrderClosingFillRealizesPnLAndClearsPosition(t *testing.T) {
	w, prices := newTestWallet(t, Config{StartingCash: decimal.NewFromInt(100000)})
	prices.Update(model.Tick{InstrumentKey: "TCS", BidRate: decimal.NewFromInt(3400), OfferRate: decimal.NewFromInt(3400)})

	_, err := w.PlaceOrder(context.Background(), model.OrderRequest{
		Instrument: "TCS", Side: model.SideBuy, Quantity: 5, Type: model.OrderMarket,
	})
	require.NoError(t, err)

	prices.Update(model.Tick{InstrumentKey: "TCS", BidRate: decimal.NewFromInt(3420), OfferRate: decimal.NewFromInt(3420)})
	_, err = w.PlaceOrder(context.Background(), model.OrderRequest{
		Instrument: "TCS", Side: model.SideSell, Quantity: 5, Type: model.OrderMarket,
	})
	require.NoError(t, err)

	_, found, err := w.Position("TCS")
	require.NoError(t, err)
	assert.False(t, found)

	expectedCash := decimal.NewFromInt(100000).Add(decimal.NewFromInt(20 * 5))
	assert.True(t, w.Cash().Equal(expectedCash))
}

func TestPlaceOrderDeliversVerificationCallback(t *testing.T) {
	w, prices := newTestWallet(t, Config{StartingCash: decimal.NewFromInt(100000), FillLatency: 50 * time.Millisecond})
	prices.Update(model.Tick{InstrumentKey: "INFY", BidRate: decimal.NewFromInt(1500), OfferRate: decimal.NewFromInt(1501)})

	ack, err := w.PlaceOrder(context.Background(), model.OrderRequest{
		Instrument: "INFY", Side: model.SideBuy, Quantity: 3, Type: model.OrderMarket,
	})
	require.NoError(t, err)

	done := make(chan model.OrderVerificationResult, 1)
	w.Subscribe(ack.OrderID, func(r model.OrderVerificationResult) { done <- r })

	select {
	case result := <-done:
		assert.True(t, result.Success)
		assert.Equal(t, int64(3), result.FilledQty)
	case <-time.After(time.Second):
		t.Fatal("verification callback never fired")
	}
}

func TestModifyAndCancelUnknownOrderReturnError(t *testing.T) {
	w, _ := newTestWallet(t, Config{})
	err := w.ModifyOrder(context.Background(), "missing", nil, nil)
	assert.Error(t, err)
	err = w.CancelOrder(context.Background(), "missing")
	assert.Error(t, err)
}
