// Package config loads the engine's configuration from a .env file (via
// godotenv, the teacher's dotenv library) plus process environment
// variables, applying every default listed in spec.md §6.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"tradeengine/internal/logger"
)

// TradingMode is one of paper|live|silent (spec.md §6, GLOSSARY).
type TradingMode string

const (
	ModePaper  TradingMode = "paper"
	ModeLive   TradingMode = "live"
	ModeSilent TradingMode = "silent"
)

// TrailStageConfig is one of the three R-multiple trailing-stop stages
// (spec.md §4.6, §6).
type TrailStageConfig struct {
	TriggerR decimal.Decimal
	StopR    decimal.Decimal
}

// GoldenWindow is an intraday wall-clock interval entries are permitted in
// (spec.md §4.3, GLOSSARY "Golden window"). Start/End are "HH:MM" in the
// configured trading Zone.
type GoldenWindow struct {
	Start string
	End   string
}

// ExchangeHours is a per-exchange open/close window (spec.md §4.1 step 4).
type ExchangeHours struct {
	Open  string
	Close string
}

// Config is the engine's full typed configuration (spec.md §6).
type Config struct {
	Mode          TradingMode
	AccountValue  decimal.Decimal

	RiskPerTrade     float64
	MaxPositionRisk  float64
	MaxExposurePct   float64
	MaxDailyLoss     float64
	MaxDrawdown      float64
	MinRR            float64
	MinMove          float64
	MaxStopDistance  float64
	MaxInstrumentShare float64
	MaxConcurrentPositions int

	MaxSignalAge    time.Duration
	EntryTimeout    time.Duration
	ExitVerifyRetries int

	TrailStage1 TrailStageConfig
	TrailStage2 TrailStageConfig
	TrailStage3 TrailStageConfig

	OptionSlippageTicks int
	DefaultTickSize     decimal.Decimal

	ExchangeHours map[string]ExchangeHours
	GoldenWindows []GoldenWindow

	Zone *time.Location

	VolumeFactor      float64
	VolumeLookback    int
	SessionEndCutoff  string // "HH:MM" in Zone

	IdempotencyTTL time.Duration

	BrokerBaseURL string
	BrokerTimeout time.Duration

	HTTPAddr string

	MongoURI       string
	MongoDatabase  string
	TelegramToken  string
	TelegramChatID int64

	KafkaBrokers []string
	SQLitePath   string
}

// Load reads .env (if present, ignored if missing) then environment
// variables, filling every default from spec.md §6.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Infof("config: no .env file loaded (%v), using process environment", err)
	}

	zone, err := time.LoadLocation(getenv("TRADING_ZONE", "Asia/Kolkata"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Mode:         TradingMode(getenv("TRADING_MODE", string(ModePaper))),
		AccountValue: decimalEnv("TRADING_ACCOUNT_VALUE", "1000000"),

		RiskPerTrade:       floatEnv("RISK_PER_TRADE", 0.01),
		MaxPositionRisk:    floatEnv("RISK_MAX_POSITION_RISK", 0.01),
		MaxExposurePct:     floatEnv("RISK_MAX_EXPOSURE_PCT", 0.15),
		MaxDailyLoss:       floatEnv("RISK_MAX_DAILY_LOSS", 0.03),
		MaxDrawdown:        floatEnv("RISK_MAX_DRAWDOWN", 0.15),
		MinRR:              floatEnv("RISK_MIN_RR", 1.5),
		MinMove:            floatEnv("RISK_MIN_MOVE", 0.02),
		MaxStopDistance:    floatEnv("RISK_MAX_STOP_DISTANCE", 0.02),
		MaxInstrumentShare: floatEnv("RISK_MAX_INSTRUMENT_SHARE", 0.30),
		MaxConcurrentPositions: intEnv("RISK_MAX_CONCURRENT_POSITIONS", 1),

		MaxSignalAge:      time.Duration(intEnv("INGEST_MAX_SIGNAL_AGE_SEC", 120)) * time.Second,
		EntryTimeout:      time.Duration(intEnv("ENTRY_TIMEOUT_SEC", 30)) * time.Second,
		ExitVerifyRetries: intEnv("EXIT_VERIFY_RETRIES", 3),

		TrailStage1: TrailStageConfig{TriggerR: decimalEnv("TRAIL_STAGE1_R", "1.0"), StopR: decimalEnv("TRAIL_STAGE1_STOP_R", "0.0")},
		TrailStage2: TrailStageConfig{TriggerR: decimalEnv("TRAIL_STAGE2_R", "1.5"), StopR: decimalEnv("TRAIL_STAGE2_STOP_R", "0.5")},
		TrailStage3: TrailStageConfig{TriggerR: decimalEnv("TRAIL_STAGE3_R", "2.0"), StopR: decimalEnv("TRAIL_STAGE3_STOP_R", "1.0")},

		OptionSlippageTicks: intEnv("OPTION_SLIPPAGE_TICKS", 1),
		DefaultTickSize:     decimalEnv("DEFAULT_TICK_SIZE", "0.05"),

		ExchangeHours: map[string]ExchangeHours{
			"NSE": {Open: "09:00", Close: "15:30"},
			"MCX": {Open: "09:00", Close: "23:30"},
		},
		GoldenWindows: []GoldenWindow{
			{Start: "09:20", End: "10:30"},
			{Start: "13:00", End: "14:45"},
		},

		Zone: zone,

		VolumeFactor:     floatEnv("ENTRY_VOLUME_FACTOR", 1.2),
		VolumeLookback:   intEnv("ENTRY_VOLUME_LOOKBACK", 20),
		SessionEndCutoff: getenv("SESSION_END_CUTOFF", "15:20"),

		IdempotencyTTL: time.Duration(intEnv("INGEST_IDEMPOTENCY_TTL_HOURS", 24)) * time.Hour,

		BrokerBaseURL: getenv("BROKER_BASE_URL", ""),
		BrokerTimeout: time.Duration(intEnv("BROKER_TIMEOUT_SEC", 15)) * time.Second,

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		MongoURI:      getenv("MONGO_URI", ""),
		MongoDatabase: getenv("MONGO_DATABASE", "tradeengine_backtests"),
		TelegramToken: getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: int64(intEnv("TELEGRAM_CHAT_ID", 0)),

		KafkaBrokers: splitCSV(getenv("KAFKA_BROKERS", "")),
		SQLitePath:   getenv("SQLITE_PATH", "tradeengine.db"),
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func decimalEnv(key, def string) decimal.Decimal {
	v := getenv(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
