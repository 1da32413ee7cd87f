// Package api implements the Admin/Monitor Surface (C15): read endpoints
// over portfolio/trade/watchlist/hours state, mutating endpoints for
// circuit-breaker and execution-mode control, and a websocket stream of
// position/order updates for UIs, grounded on the teacher's gin-based
// api/tactics.go (Server method receivers, gin.H JSON responses,
// uuid-tagged mutating actions).
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradeengine/internal/config"
	"tradeengine/internal/hours"
	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/internal/watchlist"
)

// PortfolioProvider returns a snapshot of the current account-level risk
// state.
type PortfolioProvider func() model.PortfolioState

// ActiveTradeProvider returns every currently open ActiveTrade across all
// Position Managers the engine runs (one under the default
// maxConcurrentPositions=1 topology, more under instrument partitioning).
type ActiveTradeProvider func() []*model.ActiveTrade

// CompletedTradeProvider returns the most recent completed trades, most
// recent first.
type CompletedTradeProvider func(limit int) []model.TradeResult

// CircuitBreakerControl trips or resets the portfolio circuit breaker.
// Implemented by the engine supervisor, which owns the authoritative
// PortfolioState.
type CircuitBreakerControl interface {
	Trip(reason string)
	Reset()
}

// ForceCloser force-closes the open position for an instrument with an
// operator-supplied reason, delivered through the Position Manager's
// single-writer event stream rather than mutating state directly.
type ForceCloser interface {
	ForceClose(scripCode, reason string) error
}

// ModeControl reads and switches the engine's execution mode
// (paper|live|silent).
type ModeControl interface {
	Mode() config.TradingMode
	SetMode(config.TradingMode) error
}

// Server is the C15 HTTP surface.
type Server struct {
	engine *gin.Engine
	log    *logger.Logger

	cfg       *config.Config
	watch     *watchlist.Watchlist
	hoursGate *hours.Gate

	portfolio PortfolioProvider
	active    ActiveTradeProvider
	completed CompletedTradeProvider

	cb       CircuitBreakerControl
	closer   ForceCloser
	mode     ModeControl

	stream *Hub
}

// New constructs the admin server and registers its routes. Every
// provider/control may be nil; the corresponding endpoints then respond
// 503 rather than panic (except /risk/status, which answers 200 and omits
// the fields whose source is nil), so the surface can be wired up
// incrementally as the engine supervisor starts its components.
func New(cfg *config.Config, watch *watchlist.Watchlist, hoursGate *hours.Gate, portfolio PortfolioProvider, active ActiveTradeProvider, completed CompletedTradeProvider, cb CircuitBreakerControl, closer ForceCloser, mode ModeControl) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		log:       logger.With("component", "api"),
		cfg:       cfg,
		watch:     watch,
		hoursGate: hoursGate,
		portfolio: portfolio,
		active:    active,
		completed: completed,
		cb:        cb,
		closer:    closer,
		mode:      mode,
		stream:    newHub(),
	}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	s.engine.GET("/portfolio", s.handlePortfolio)
	s.engine.GET("/trades/active", s.handleActiveTrades)
	s.engine.GET("/trades/waiting", s.handleWaitingTrades)
	s.engine.GET("/trades/completed", s.handleCompletedTrades)
	s.engine.GET("/risk/status", s.handleRiskStatus)
	s.engine.GET("/hours/status", s.handleHoursStatus)

	s.engine.POST("/admin/circuit-breaker/trip", s.handleTripCircuitBreaker)
	s.engine.POST("/admin/circuit-breaker/reset", s.handleResetCircuitBreaker)
	s.engine.POST("/admin/trades/:scripCode/force-close", s.handleForceClose)
	s.engine.POST("/admin/mode", s.handleSetMode)

	s.engine.GET("/stream", s.handleStream)
}

// Handler exposes the underlying gin engine so cmd/engine can run it
// with http.Server lifecycle control (timeouts, graceful
// shutdown) instead of gin's own Run.
func (s *Server) Handler() http.Handler { return s.engine }

// Broadcast pushes an update to every connected /stream client. Called by
// the engine supervisor whenever a position or order materially changes.
func (s *Server) Broadcast(eventType string, payload interface{}) {
	s.stream.broadcast(streamEvent{Type: eventType, Payload: payload, Timestamp: time.Now().UnixMilli()})
}
