package model

import "github.com/shopspring/decimal"

// Tick is a per-trade/quote update consumed from the market-data topic
// (spec.md §6, "market-data").
type Tick struct {
	InstrumentKey string
	LastRate      decimal.Decimal
	BidRate       decimal.Decimal
	OfferRate     decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Open          decimal.Decimal
	PreviousClose decimal.Decimal
	TimeMs        int64
}

// OrderBookSnapshot is the cached best-bid/ask record keyed
// "orderbook:{scripCode}:latest" in the KV store (spec.md §6).
type OrderBookSnapshot struct {
	ScripCode string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	LastRate  decimal.Decimal
	Timestamp int64
}

// TradeEntryEvent is published to the "trade-entries" output topic.
type TradeEntryEvent struct {
	ScripCode  string
	Direction  SignalDirection
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Quantity   int64
	OrderID    string
	StrategyID string
	SignalID   string
	EntryTime  int64
}

// ProfitLossEventType enumerates the profit-loss output topic's event kinds.
type ProfitLossEventType string

const (
	PLTradeEntry      ProfitLossEventType = "TRADE_ENTRY"
	PLTradeExit       ProfitLossEventType = "TRADE_EXIT"
	PLPortfolioUpdate ProfitLossEventType = "PORTFOLIO_UPDATE"
)

// ProfitLossEvent is published to the "profit-loss" output topic.
type ProfitLossEvent struct {
	EventType       ProfitLossEventType
	TradeID         string
	ScripCode       string
	EntryPrice      decimal.Decimal
	ExitPrice       decimal.Decimal
	PnL             decimal.Decimal
	ROI             decimal.Decimal
	DurationMinutes float64
	Timestamp       int64
}

// OrderType is the sum type replacing inheritance across order models
// (REDESIGN FLAGS, spec §9): Order = Market{...} | Limit{...} | StopLimit{...}.
type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStopLimit OrderType = "STOP_LIMIT"
)

// OrderSide is the direction of a broker order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderRequest is the typed broker order instruction (§4.7, §9).
type OrderRequest struct {
	Instrument   string
	Exchange     string
	ExchangeType string
	Side         OrderSide
	Quantity     int64
	Type         OrderType
	LimitPrice   decimal.Decimal
	StopPrice    decimal.Decimal
	TickSize     decimal.Decimal
}

// OrderAck is returned synchronously from PlaceOrder.
type OrderAck struct {
	OrderID   string
	Status    string
	Timestamp int64
}

// OrderVerificationResult is delivered exactly once per order to the
// registered callback (spec.md §4.7).
type OrderVerificationResult struct {
	Success   bool
	OrderID   string
	FilledQty int64
	AvgPrice  decimal.Decimal
	Message   string
}
