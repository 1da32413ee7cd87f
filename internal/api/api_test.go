package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/config"
	"tradeengine/internal/hours"
	"tradeengine/internal/model"
	"tradeengine/internal/watchlist"
)

func testConfig(t *testing.T) *config.Config {
	zone, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return &config.Config{
		Zone: zone,
		ExchangeHours: map[string]config.ExchangeHours{
			"NSE": {Open: "09:00", Close: "15:30"},
		},
		GoldenWindows:    []config.GoldenWindow{{Start: "09:20", End: "10:30"}},
		SessionEndCutoff: "15:20",
	}
}

type fakeCB struct {
	tripped bool
	reason  string
}

func (f *fakeCB) Trip(reason string) { f.tripped = true; f.reason = reason }
func (f *fakeCB) Reset()             { f.tripped = false; f.reason = "" }

type fakeCloser struct {
	closedScrip  string
	closedReason string
	err          error
}

func (f *fakeCloser) ForceClose(scripCode, reason string) error {
	f.closedScrip, f.closedReason = scripCode, reason
	return f.err
}

type fakeMode struct {
	mode config.TradingMode
}

func (f *fakeMode) Mode() config.TradingMode { return f.mode }
func (f *fakeMode) SetMode(m config.TradingMode) error {
	f.mode = m
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeCB, *fakeCloser, *fakeMode) {
	cfg := testConfig(t)
	watch := watchlist.New()
	cb := &fakeCB{}
	closer := &fakeCloser{}
	mode := &fakeMode{mode: config.ModePaper}

	portfolio := func() model.PortfolioState {
		return model.PortfolioState{CircuitBreakerTripped: cb.tripped, CircuitBreakerReason: cb.reason}
	}
	active := func() []*model.ActiveTrade { return nil }
	completed := func(limit int) []model.TradeResult { return nil }

	s := New(cfg, watch, hours.New(cfg), portfolio, active, completed, cb, closer, mode)
	return s, cb, closer, mode
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandlePortfolio(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/portfolio", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTripAndResetCircuitBreaker(t *testing.T) {
	s, cb, _, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/admin/circuit-breaker/trip", map[string]string{"reason": "daily loss exceeded"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, cb.tripped)
	assert.Equal(t, "daily loss exceeded", cb.reason)

	rec = doRequest(s, http.MethodPost, "/admin/circuit-breaker/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, cb.tripped)
}

func TestHandleTripRequiresReason(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/admin/circuit-breaker/trip", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleForceClose(t *testing.T) {
	s, _, closer, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/admin/trades/RELIANCE/force-close", map[string]string{"reason": "operator override"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RELIANCE", closer.closedScrip)
	assert.Equal(t, "operator override", closer.closedReason)
}

func TestHandleSetModeRejectsUnknownMode(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/admin/mode", map[string]string{"mode": "turbo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSetModeAccepted(t *testing.T) {
	s, _, _, mode := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/admin/mode", map[string]string{"mode": "live"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.ModeLive, mode.mode)
}

func TestHandleHoursStatus(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/hours/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWaitingTradesEmpty(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/trades/waiting", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
