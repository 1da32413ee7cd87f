package verify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
)

func TestReportResultDeliversExactlyOnce(t *testing.T) {
	v := New(nil, nil)
	var mu sync.Mutex
	calls := 0

	v.Track(context.Background(), "o1", 100, time.Minute, func(r model.OrderVerificationResult) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	v.ReportResult(model.OrderVerificationResult{Success: true, OrderID: "o1", FilledQty: 100, AvgPrice: decimal.RequireFromString("10")})
	v.ReportResult(model.OrderVerificationResult{Success: true, OrderID: "o1", FilledQty: 100}) // duplicate, must be ignored

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestReportResultPartialFillCancelsRemainder(t *testing.T) {
	var cancelledID string
	cancel := func(ctx context.Context, orderID string) error {
		cancelledID = orderID
		return nil
	}
	v := New(nil, cancel)

	done := make(chan model.OrderVerificationResult, 1)
	v.Track(context.Background(), "o2", 100, time.Minute, func(r model.OrderVerificationResult) {
		done <- r
	})

	v.ReportResult(model.OrderVerificationResult{Success: true, OrderID: "o2", FilledQty: 60})

	select {
	case r := <-done:
		assert.Equal(t, int64(60), r.FilledQty)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	assert.Equal(t, "o2", cancelledID)
}

func TestPollLoopTimeoutCancelsOrder(t *testing.T) {
	var cancelled bool
	cancel := func(ctx context.Context, orderID string) error {
		cancelled = true
		return nil
	}
	poll := func(ctx context.Context, orderID string) (model.OrderVerificationResult, bool, error) {
		return model.OrderVerificationResult{}, false, nil
	}
	v := New(poll, cancel)
	v.interval = 5 * time.Millisecond

	done := make(chan model.OrderVerificationResult, 1)
	v.Track(context.Background(), "o3", 10, 20*time.Millisecond, func(r model.OrderVerificationResult) {
		done <- r
	})

	select {
	case r := <-done:
		assert.False(t, r.Success)
		assert.True(t, cancelled)
	case <-time.After(time.Second):
		t.Fatal("timeout callback not invoked")
	}
}

func TestPendingReturnsTrackedOrderIDs(t *testing.T) {
	v := New(nil, nil)
	v.Track(context.Background(), "a", 1, time.Minute, func(r model.OrderVerificationResult) {})
	v.Track(context.Background(), "b", 1, time.Minute, func(r model.OrderVerificationResult) {})

	pending := v.Pending()
	require.Len(t, pending, 2)
}
