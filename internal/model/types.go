// Package model defines the shared data types of the signal-to-position
// lifecycle (spec.md §3). Monetary fields use shopspring/decimal so that
// rounding is explicit and fractional-digit precision is never silently
// lost to float64 arithmetic; quantities are signed integers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalDirection is the upstream strategy signal's call.
type SignalDirection string

const (
	DirBuy     SignalDirection = "BUY"
	DirSell    SignalDirection = "SELL"
	DirBullish SignalDirection = "BULLISH"
	DirBearish SignalDirection = "BEARISH"
)

// Normalize maps BUY/SELL onto the BULLISH/BEARISH axis the core state
// machine reasons about (spec.md §3, ActiveTrade.signalType).
func (d SignalDirection) Normalize() SignalDirection {
	switch d {
	case DirBuy:
		return DirBullish
	case DirSell:
		return DirBearish
	default:
		return d
	}
}

// HedgeSpec is an optional hedging instruction carried by a signal.
type HedgeSpec struct {
	ScripCode  string          `json:"scripCode"`
	Exchange   string          `json:"exchange"`
	Ratio      decimal.Decimal `json:"ratio"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
}

// StrategySignal is the upstream, immutable input record (spec.md §3).
type StrategySignal struct {
	SignalID    string          `json:"signalId"`
	ScripCode   string          `json:"scripCode"`
	CompanyName string          `json:"companyName"`
	Signal      SignalDirection `json:"signal"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	StopLoss    decimal.Decimal `json:"stopLoss"`
	Target1     decimal.Decimal `json:"target1"`
	Target2     decimal.Decimal `json:"target2"`
	Target3     decimal.Decimal `json:"target3"`

	Confidence              float64 `json:"confidence"`
	MLConfidence            *float64 `json:"mlConfidence,omitempty"`
	Volatility              float64 `json:"volatility"`
	MicrostructureLiquidity float64 `json:"microstructureLiquidity"`

	Exchange     string `json:"exchange"`
	ExchangeType string `json:"exchangeType"`

	OrderScripCode        string          `json:"orderScripCode,omitempty"`
	OrderExchange         string          `json:"orderExchange,omitempty"`
	OrderExchangeType     string          `json:"orderExchangeType,omitempty"`
	OrderLimitPriceEntry  decimal.Decimal `json:"orderLimitPriceEntry,omitempty"`
	OrderLimitPriceExit   decimal.Decimal `json:"orderLimitPriceExit,omitempty"`
	OrderTickSize         decimal.Decimal `json:"orderTickSize,omitempty"`
	PositionSizeMultiplier float64        `json:"positionSizeMultiplier,omitempty"`

	Hedge *HedgeSpec `json:"hedge,omitempty"`

	// XFactor marks a rare, high-conviction signal. Tracked for analytics
	// only; never consulted by a core gate (spec.md GLOSSARY).
	XFactor bool `json:"xFactor,omitempty"`

	TimestampMs int64 `json:"timestamp"`
}

// Timestamp converts the producer's epoch-millisecond time to time.Time.
func (s StrategySignal) Timestamp() time.Time {
	return time.UnixMilli(s.TimestampMs).UTC()
}

// IdempotencyKey computes the dedup key per spec.md §4.1 step 2.
func (s StrategySignal) IdempotencyKey() string {
	if s.SignalID != "" {
		return s.SignalID
	}
	return s.ScripCode + "|" + time.UnixMilli(s.TimestampMs).UTC().Format(time.RFC3339Nano)
}

// PendingSignal is a StrategySignal admitted to the watchlist, plus the
// working state the entry evaluator accumulates (spec.md §3).
type PendingSignal struct {
	Signal StrategySignal

	AdmittedAt          time.Time
	ExpiresAt           time.Time
	ValidationAttempts  int
	LastRejectionReason string

	BreachCandle *Candle
	PotentialRR  decimal.Decimal
	SignalPrice  decimal.Decimal
}

// ScripCode is the watchlist key.
func (p *PendingSignal) ScripCode() string { return p.Signal.ScripCode }

// PivotData holds the daily pivot levels for one (instrument, date).
type PivotData struct {
	ScripCode string
	Date      time.Time // session date, truncated to day in the trading zone

	Pivot decimal.Decimal
	S1    decimal.Decimal
	S2    decimal.Decimal
	S3    decimal.Decimal
	S4    decimal.Decimal
	R1    decimal.Decimal
	R2    decimal.Decimal
	R3    decimal.Decimal
	R4    decimal.Decimal

	FetchedAt time.Time
}

// SupportsAscending returns S1..S4 in ascending distance-from-pivot order,
// i.e. S1 (nearest) first.
func (p PivotData) SupportsAscending() []decimal.Decimal {
	return []decimal.Decimal{p.S1, p.S2, p.S3, p.S4}
}

// ResistancesAscending returns R1..R4 in ascending order, R1 nearest.
func (p PivotData) ResistancesAscending() []decimal.Decimal {
	return []decimal.Decimal{p.R1, p.R2, p.R3, p.R4}
}

// Candle is one OHLCV bar for an instrument (spec.md §3).
type Candle struct {
	InstrumentKey string
	WindowStartMs int64
	WindowEndMs   int64
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Close         decimal.Decimal
	Volume        decimal.Decimal
}

func (c Candle) WindowStart() time.Time { return time.UnixMilli(c.WindowStartMs).UTC() }
func (c Candle) WindowEnd() time.Time   { return time.UnixMilli(c.WindowEndMs).UTC() }

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool { return c.Close.GreaterThan(c.Open) }

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool { return c.Close.LessThan(c.Open) }

// TradeStatus is the ActiveTrade lifecycle state (spec.md §3, §4.6).
type TradeStatus string

const (
	StatusWaitingForEntry TradeStatus = "WAITING_FOR_ENTRY"
	StatusPendingFill     TradeStatus = "PENDING_FILL"
	StatusActive          TradeStatus = "ACTIVE"
	StatusPartialExit     TradeStatus = "PARTIAL_EXIT"
	StatusCompleted       TradeStatus = "COMPLETED"
	StatusFailed          TradeStatus = "FAILED"
	StatusCancelled       TradeStatus = "CANCELLED"
)

// IsOpenSlot reports whether this status occupies the single-active-trade
// slot (spec.md §3, §5, §8).
func (s TradeStatus) IsOpenSlot() bool {
	switch s {
	case StatusPendingFill, StatusActive, StatusPartialExit:
		return true
	default:
		return false
	}
}

// ExitReason classifies why a trade completed (spec.md §3).
type ExitReason string

const (
	ExitStopLoss      ExitReason = "STOP_LOSS"
	ExitTarget1       ExitReason = "TARGET1"
	ExitTarget2       ExitReason = "TARGET2"
	ExitEndOfSession  ExitReason = "END_OF_SESSION"
	ExitManual        ExitReason = "MANUAL"
)

// ExecutionOverrides holds the typed execution-instrument fields that
// replace the teacher's untyped metadata maps (REDESIGN FLAGS, spec §9).
type ExecutionOverrides struct {
	OrderScripCode       string
	OrderExchange        string
	OrderExchangeType    string
	OrderLimitPriceEntry decimal.Decimal
	OrderLimitPriceExit  decimal.Decimal
	OrderTickSize        decimal.Decimal
}

// BrokerRefs is the typed record of broker order ids a trade accumulates,
// replacing the string-keyed "metadata" map spec §9 calls out for
// re-architecture.
type BrokerRefs struct {
	EntryOrderID      string
	ExitOrderID       string
	ExitFailureReason string
	ExitAttempts      int
}

// ActiveTrade is the mutable record of an open or recently closed
// position (spec.md §3). Exactly one Trade may have IsOpenSlot()==true
// under the default maxConcurrentPositions=1 policy (§5, §8).
type ActiveTrade struct {
	TradeID      string
	ScripCode    string
	CompanyName  string
	SignalType   SignalDirection // BULLISH | BEARISH
	StrategyName string
	SignalID     string

	SignalTime time.Time
	EntryTime  time.Time

	EntryPrice   decimal.Decimal
	PositionSize int64

	InitialStopLoss decimal.Decimal
	StopLoss        decimal.Decimal
	Target1         decimal.Decimal
	Target2         decimal.Decimal
	Target3         decimal.Decimal

	Target1Hit bool
	Target2Hit bool

	TrailingStop decimal.Decimal
	TrailStage   int // 0..3, monotonic non-decreasing

	HighSinceEntry decimal.Decimal
	LowSinceEntry  decimal.Decimal

	Status TradeStatus

	Execution ExecutionOverrides
	Broker    BrokerRefs

	ExitReason ExitReason
	ExitPrice  decimal.Decimal
	ExitTime   time.Time
}

// R returns the trade's initial risk in price units, |entry - initialStop|.
func (t *ActiveTrade) R() decimal.Decimal {
	return t.EntryPrice.Sub(t.InitialStopLoss).Abs()
}

// IsBullish reports whether the trade is long.
func (t *ActiveTrade) IsBullish() bool { return t.SignalType == DirBullish }

// TradeResult is the immutable record of a completed trade (spec.md §3).
type TradeResult struct {
	TradeID      string
	ScripCode    string
	Direction    SignalDirection
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	EntryTime    time.Time
	ExitTime     time.Time
	PositionSize int64

	PnL                    decimal.Decimal
	RMultiple              decimal.Decimal
	ExitReason             ExitReason
	DurationMinutes        float64
	MaxFavorableExcursion  decimal.Decimal
	MaxAdverseExcursion    decimal.Decimal
}

// PortfolioState is the account-level risk state (spec.md §3).
type PortfolioState struct {
	AccountValue    decimal.Decimal
	PeakValue       decimal.Decimal
	DailyRealizedPnL decimal.Decimal
	SessionDate     time.Time

	OpenPositionsCount int
	ExposureByInstrument map[string]decimal.Decimal
	ExposureByStrategy   map[string]decimal.Decimal

	CircuitBreakerTripped bool
	CircuitBreakerReason  string
}

// Clone returns a deep-enough copy safe to hand to a reader while the
// writer continues mutating the original (maps are copied).
func (p PortfolioState) Clone() PortfolioState {
	out := p
	out.ExposureByInstrument = make(map[string]decimal.Decimal, len(p.ExposureByInstrument))
	for k, v := range p.ExposureByInstrument {
		out.ExposureByInstrument[k] = v
	}
	out.ExposureByStrategy = make(map[string]decimal.Decimal, len(p.ExposureByStrategy))
	for k, v := range p.ExposureByStrategy {
		out.ExposureByStrategy[k] = v
	}
	return out
}

// RiskEventSeverity classifies a RiskEvent (spec.md §3).
type RiskEventSeverity string

const (
	SeverityInfo     RiskEventSeverity = "INFO"
	SeverityWarning  RiskEventSeverity = "WARNING"
	SeverityCritical RiskEventSeverity = "CRITICAL"
)

// RiskEvent is published on the risk-events topic; the engine supervisor
// also appends each one to the operational store's audit log.
type RiskEvent struct {
	EventID         string
	Type            string
	Severity        RiskEventSeverity
	Message         string
	CurrentValue    decimal.Decimal
	LimitValue      decimal.Decimal
	ThresholdPercent float64
	Timestamp       time.Time
	Scope           string // walletId or instrument key, for output keying
}
