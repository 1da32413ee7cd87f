// Package backtest defines the result contract for an offline strategy
// backtest run (spec.md §1, "MongoDB-backed backtest result store" named
// as an external collaborator). It is never imported by the live trading
// path; only an optional offline backtest runner depends on it.
package backtest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Result is one backtest run's summary, keyed by strategy and the
// historical window it covered.
type Result struct {
	RunID        string
	StrategyID   string
	ScripCode    string
	WindowStart  time.Time
	WindowEnd    time.Time
	TotalTrades  int
	WinRate      decimal.Decimal
	NetPnL       decimal.Decimal
	MaxDrawdown  decimal.Decimal
	SharpeRatio  decimal.Decimal
	CreatedAt    time.Time
}

// ResultStore is the swappable persistence boundary for backtest
// results. internal/backtest/mongostore is the reference implementation.
type ResultStore interface {
	SaveResult(ctx context.Context, result Result) error
	ListResults(ctx context.Context, strategyID string, limit int) ([]Result, error)
	Close(ctx context.Context) error
}
