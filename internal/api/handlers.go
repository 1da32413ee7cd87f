package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradeengine/internal/config"
)

func (s *Server) handlePortfolio(c *gin.Context) {
	if s.portfolio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio state not wired"})
		return
	}
	state := s.portfolio()
	c.JSON(http.StatusOK, gin.H{
		"accountValue":          state.AccountValue,
		"peakValue":             state.PeakValue,
		"dailyRealizedPnl":      state.DailyRealizedPnL,
		"openPositionsCount":    state.OpenPositionsCount,
		"exposureByInstrument":  state.ExposureByInstrument,
		"exposureByStrategy":    state.ExposureByStrategy,
		"circuitBreakerTripped": state.CircuitBreakerTripped,
		"circuitBreakerReason":  state.CircuitBreakerReason,
	})
}

func (s *Server) handleActiveTrades(c *gin.Context) {
	if s.active == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "active-trade provider not wired"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": s.active()})
}

func (s *Server) handleWaitingTrades(c *gin.Context) {
	if s.watch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watchlist not wired"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": s.watch.All()})
}

func (s *Server) handleCompletedTrades(c *gin.Context) {
	if s.completed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "completed-trade provider not wired"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"completed": s.completed(limit)})
}

func (s *Server) handleRiskStatus(c *gin.Context) {
	resp := gin.H{}
	if s.portfolio != nil {
		state := s.portfolio()
		resp["circuitBreakerTripped"] = state.CircuitBreakerTripped
		resp["circuitBreakerReason"] = state.CircuitBreakerReason
	}
	if s.mode != nil {
		resp["mode"] = s.mode.Mode()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHoursStatus(c *gin.Context) {
	if s.hoursGate == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trading-hours gate not wired"})
		return
	}
	now := nowFunc()
	resp := gin.H{}
	for exchange := range s.cfg.ExchangeHours {
		resp[exchange] = gin.H{
			"inHours":      s.hoursGate.InExchangeHours(exchange, now),
			"goldenWindow": s.hoursGate.InGoldenWindow(now),
			"pastCutoff":   s.hoursGate.PastSessionEndCutoff(now),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTripCircuitBreaker(c *gin.Context) {
	if s.cb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "circuit-breaker control not wired"})
		return
	}
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.cb.Trip(req.Reason)
	c.JSON(http.StatusOK, gin.H{"message": "circuit breaker tripped"})
}

func (s *Server) handleResetCircuitBreaker(c *gin.Context) {
	if s.cb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "circuit-breaker control not wired"})
		return
	}
	s.cb.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "circuit breaker reset"})
}

func (s *Server) handleForceClose(c *gin.Context) {
	if s.closer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "force-close control not wired"})
		return
	}
	scripCode := c.Param("scripCode")
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.closer.ForceClose(scripCode, req.Reason); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "force-close requested"})
}

func (s *Server) handleSetMode(c *gin.Context) {
	if s.mode == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mode control not wired"})
		return
	}
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	newMode := config.TradingMode(req.Mode)
	if newMode != config.ModePaper && newMode != config.ModeLive && newMode != config.ModeSilent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be one of paper|live|silent"})
		return
	}
	if err := s.mode.SetMode(newMode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "mode updated", "mode": newMode})
}
